// Package credential persists the token pairs of a FordPass account.
package credential

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = errors.New("credential record not found")

	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("credential record is corrupt")
)

// Key identifies the record of one account in one region.
type Key struct {
	User   string
	Region string
}

func (k Key) String() string {
	return k.User + "@" + k.Region
}

// Store loads and saves credential records. Save replaces the record atomically.
type Store interface {
	Load(ctx context.Context, key Key) (*Record, error)
	Save(ctx context.Context, key Key, rec *Record) error
	Delete(ctx context.Context, key Key) error
}
