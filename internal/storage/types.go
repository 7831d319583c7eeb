package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConflict is returned by CompareAndSwap when the stored version moved.
	ErrConflict = errors.New("storage: version conflict")
	ErrClosed   = errors.New("storage: closed")
	ErrEmptyKey = errors.New("storage: empty key")
)

// KV is the persistence API used by the schedule store and the transient cache.
//
// Versions start at 1 for a freshly inserted key and increase by one on every
// write. Version 0 means "absent". Deleting a key resets its version, so callers
// must not rely on versions across a delete.
type KV interface {
	// Load returns (value, version, true, nil) on hit and (nil, 0, false, nil) on miss.
	Load(ctx context.Context, key string) (value []byte, version uint64, ok bool, err error)
	// Store overwrites key unconditionally and returns the new version.
	Store(ctx context.Context, key string, value []byte) (uint64, error)
	// CompareAndSwap writes value only if the current version equals version
	// (0 = only if absent). It returns ErrConflict otherwise.
	CompareAndSwap(ctx context.Context, key string, value []byte, version uint64) (uint64, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "memory" (default when empty)
//   - "file": snapshot + journal under Path's directory
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver       string
	Path         string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	CompactEvery int           // file only; journal records between compactions (default 1000)
}
