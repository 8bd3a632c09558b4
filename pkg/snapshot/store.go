package snapshot

import (
	"context"
	"errors"
	"time"
)

// Store persists serialized snapshots by id.
type Store interface {
	// Save writes data under id, overwriting any previous value.
	Save(ctx context.Context, id string, data []byte, expiresAt time.Time) error

	// Load returns the data saved under id, or (nil, nil) when it is missing
	// or expired.
	Load(ctx context.Context, id string) ([]byte, error)

	// Delete removes id. Missing ids are not an error.
	Delete(ctx context.Context, id string) error

	// Touch moves the expiry of id without rewriting its data. Missing ids
	// are not an error.
	Touch(ctx context.Context, id string, expiresAt time.Time) error

	// Close releases backend resources.
	Close() error
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("snapshot: store is closed")

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
