// Package scorestore is the access layer over the sorted-set key-value store
// that holds co-purchase association scores.
package scorestore

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable wraps every failure of the underlying store. Callers in the
// recommendation path treat it as non-fatal.
var ErrUnavailable = errors.New("score store unavailable")

// Entry is one member of a sorted set with its score.
type Entry struct {
	Member string
	Score  float64
}

type Store interface {
	// Increment adds delta to member's score in key, creating both lazily.
	Increment(ctx context.Context, key string, member string, delta float64) error
	// RangeDescending returns members by descending score starting at offset.
	// limit <= 0 reads to the end of the set.
	RangeDescending(ctx context.Context, key string, offset int, limit int) ([]Entry, error)
	// UnionInto stores the sum-aggregated union of sources into dest.
	UnionInto(ctx context.Context, dest string, sources ...string) error
	RemoveMembers(ctx context.Context, key string, members ...string) error
	Delete(ctx context.Context, keys ...string) error
}

// Key is the association set of one product.
func Key(productID uint) string {
	return fmt.Sprintf("product:%d:purchased_with", productID)
}

func unavailable(op string, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, op, key, err)
}
