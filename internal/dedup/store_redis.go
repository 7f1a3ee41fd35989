// Package dedup provides store implementations for dedup record persistence.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefixes for dedup state.
const (
	eventKeyPrefix     = "dedup:event:"
	watermarkKeyPrefix = "dedup:watermark:"
)

// watermarkScript advances a per-class watermark only if the new value is
// greater, so concurrent writers cannot move it backwards. KEYS[1] is the
// watermark key, ARGV[1] the candidate UnixNano value.
var watermarkScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == false or tonumber(ARGV[1]) > tonumber(current) then
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// RedisStore implements Store backed by Redis. The atomic check-and-mark
// uses SETNX so two concurrent deliveries of the same event identifier
// cannot both pass, even across multiple engine instances.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore creates a Redis-backed dedup store. Records expire after the
// given retention window; pass DefaultWindow unless a deployment overrides it.
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultWindow
	}
	return &RedisStore{client: client, retention: retention}
}

// MarkProcessed records an event identifier via SETNX with TTL.
// Returns ErrEventAlreadyProcessed if the key already existed.
func (s *RedisStore) MarkProcessed(ctx context.Context, eventID, eventClass string, observedAt time.Time) error {
	ok, err := s.client.SetNX(ctx, eventKeyPrefix+eventID, eventClass, s.retention).Result()
	if err != nil {
		return fmt.Errorf("dedup setnx: %w", err)
	}
	if !ok {
		return ErrEventAlreadyProcessed
	}

	err = watermarkScript.Run(ctx, s.client,
		[]string{watermarkKeyPrefix + eventClass},
		observedAt.UnixNano(),
	).Err()
	if err != nil {
		return fmt.Errorf("dedup watermark: %w", err)
	}

	return nil
}

// Unmark deletes a previously recorded event identifier.
func (s *RedisStore) Unmark(ctx context.Context, eventID string) error {
	if err := s.client.Del(ctx, eventKeyPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

// IsDuplicate reports whether an event identifier has already been applied.
func (s *RedisStore) IsDuplicate(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, eventKeyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("dedup exists: %w", err)
	}
	return n > 0, nil
}

// Watermark returns the highest observedAt recorded for an event class.
func (s *RedisStore) Watermark(ctx context.Context, eventClass string) (time.Time, error) {
	nanos, err := s.client.Get(ctx, watermarkKeyPrefix+eventClass).Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("dedup watermark get: %w", err)
	}
	return time.Unix(0, nanos), nil
}

// DetectGaps returns the subset of expectedIDs never recorded as processed.
func (s *RedisStore) DetectGaps(ctx context.Context, eventClass string, expectedIDs []string) ([]string, error) {
	if len(expectedIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(expectedIDs))
	for i, id := range expectedIDs {
		keys[i] = eventKeyPrefix + id
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Exists(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("dedup gap scan: %w", err)
	}

	var missing []string
	for i, cmd := range cmds {
		if cmd.Val() == 0 {
			missing = append(missing, expectedIDs[i])
		}
	}
	return missing, nil
}

// DeleteOlderThan is a no-op for the Redis store; records carry a TTL and
// expire on their own. It reports zero deletions.
func (s *RedisStore) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}
