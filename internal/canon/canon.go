// Package canon provides canonicalization of business parameters and
// derivation of stable idempotency keys from them.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// KeyLength is the length of a derived idempotency key in hex characters.
// 32 hex characters = 128 bits of the SHA-256 digest, well below the
// 64-character limit external processors impose on idempotency keys.
const KeyLength = 32

// ErrEmptyParams is returned when deriving a key from an empty parameter set.
var ErrEmptyParams = errors.New("cannot derive key from empty parameters")

// Canonicalize normalizes a map of business parameters into a deterministic
// byte sequence. Keys are sorted recursively, nil-valued fields are dropped,
// and values are serialized in a normalized form. Two parameter maps with
// identical business-meaningful fields produce identical output regardless
// of field order.
func Canonicalize(params map[string]any) []byte {
	var b strings.Builder
	writeValue(&b, params)
	return []byte(b.String())
}

// DeriveKey computes the idempotency key for a set of business parameters:
// the canonical serialization hashed with SHA-256 and truncated to KeyLength
// hex characters. Pure function; identical parameters always produce the
// same key.
func DeriveKey(params map[string]any) (string, error) {
	if len(prune(params)) == 0 {
		return "", ErrEmptyParams
	}

	sum := sha256.Sum256(Canonicalize(params))
	return hex.EncodeToString(sum[:])[:KeyLength], nil
}

// prune returns the keys of params that carry non-nil values.
func prune(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// writeValue serializes a value into the builder in canonical form.
// Maps are written as {k1=v1;k2=v2;...} with sorted keys and nil values
// dropped. Slices are written as [v1,v2,...] preserving order (order in a
// list is business-meaningful). Scalars use their default Go formatting,
// with strings quoted so "1" and 1 cannot collide.
func writeValue(b *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		b.WriteByte('{')
		for i, k := range prune(val) {
			if i > 0 {
				b.WriteByte(';')
			}
			b.WriteString(k)
			b.WriteByte('=')
			writeValue(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeValue(b, item)
		}
		b.WriteByte(']')
	case string:
		fmt.Fprintf(b, "%q", val)
	case float64:
		// JSON-decoded numbers arrive as float64. Integral values are
		// written without a fractional part so 5000 and 5000.0 canonicalize
		// identically.
		if val == float64(int64(val)) {
			fmt.Fprintf(b, "%d", int64(val))
		} else {
			fmt.Fprintf(b, "%v", val)
		}
	default:
		fmt.Fprintf(b, "%v", val)
	}
}
