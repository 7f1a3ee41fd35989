package safety

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver; imported for side-effects (driver registration)
)

// PostgresStateStore implements StateStore backed by PostgreSQL. The state
// lives in a single-row table; Save is a conditional update on the stored
// version so concurrent engine instances contend through compare-and-swap
// rather than last-write-wins.
type PostgresStateStore struct {
	db *sql.DB
}

// NewPostgresStateStore creates a Postgres-backed system state store.
func NewPostgresStateStore(db *sql.DB) *PostgresStateStore {
	return &PostgresStateStore{db: db}
}

// Load returns the current system state. A missing row is the zero state.
func (s *PostgresStateStore) Load(ctx context.Context) (SystemState, error) {
	var state SystemState
	var updatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT is_frozen, freeze_reason, throttle, version, updated_at
		FROM system_state WHERE id = 1
	`).Scan(&state.Frozen, &state.FreezeReason, &state.Throttle, &state.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SystemState{}, nil
	}
	if err != nil {
		return SystemState{}, fmt.Errorf("load system state: %w", err)
	}
	if updatedAt.Valid {
		state.UpdatedAt = updatedAt.Time.UTC()
	}
	return state, nil
}

// Save writes the state if the stored version still equals expectedVersion.
func (s *PostgresStateStore) Save(ctx context.Context, state SystemState, expectedVersion uint64) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	// First mutation inserts the row; version 0 means no row has been
	// written yet.
	if expectedVersion == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO system_state (id, is_frozen, freeze_reason, throttle, version, updated_at)
			VALUES (1, $1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, state.Frozen, state.FreezeReason, state.Throttle, state.Version, state.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert system state: %w", err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert system state: %w", err)
		}
		if inserted == 0 {
			return ErrVersionConflict
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE system_state
		SET is_frozen = $1, freeze_reason = $2, throttle = $3, version = $4, updated_at = $5
		WHERE id = 1 AND version = $6
	`, state.Frozen, state.FreezeReason, state.Throttle, state.Version, state.UpdatedAt, expectedVersion)
	if err != nil {
		return fmt.Errorf("save system state: %w", err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save system state: %w", err)
	}
	if updated == 0 {
		return ErrVersionConflict
	}
	return nil
}
