// Package transient stores cache entries ("transients") in the shared
// key-value store, each with an optional expiry.
package transient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"scrubber/internal/storage"
	logx "scrubber/pkg/logx"
)

// Prefix namespaces transient keys inside the shared store.
const Prefix = "_transient_"

var (
	ErrEmptyKey     = errors.New("transient: empty key")
	ErrInvalidValue = errors.New("transient: value is not valid JSON")
)

type record struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt int64           `json:"expires_at,omitempty"` // unix milli; 0 = never
}

// Entry is a transient as seen by callers.
type Entry struct {
	Key       string
	Value     json.RawMessage
	ExpiresAt time.Time // zero = never
}

type Cache struct {
	kv  storage.KV
	log logx.Logger
	now func() time.Time
}

func New(kv storage.KV, log logx.Logger) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{kv: kv, log: log, now: time.Now}
}

func storageKey(key string) string { return Prefix + key }

// Set stores value (a JSON document) under key. ttl <= 0 means no expiry.
func (c *Cache) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	if !json.Valid(value) {
		return fmt.Errorf("%w (key %q)", ErrInvalidValue, key)
	}
	rec := record{Value: value}
	if ttl > 0 {
		rec.ExpiresAt = c.now().Add(ttl).UnixMilli()
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = c.kv.Store(ctx, storageKey(key), b)
	return err
}

// Get returns the entry for key. Expired entries are deleted and reported as missing.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool, error) {
	if strings.TrimSpace(key) == "" {
		return Entry{}, false, ErrEmptyKey
	}
	raw, _, ok, err := c.kv.Load(ctx, storageKey(key))
	if err != nil || !ok {
		return Entry{}, false, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Entry{}, false, fmt.Errorf("transient %q: decode: %w", key, err)
	}
	if rec.ExpiresAt > 0 && c.now().UnixMilli() >= rec.ExpiresAt {
		if err := c.kv.Delete(ctx, storageKey(key)); err != nil {
			c.log.Debug("expired transient delete failed", logx.String("key", key), logx.Err(err))
		}
		return Entry{}, false, nil
	}
	e := Entry{Key: key, Value: rec.Value}
	if rec.ExpiresAt > 0 {
		e.ExpiresAt = time.UnixMilli(rec.ExpiresAt)
	}
	return e, true, nil
}

// Delete removes key. Removing a missing transient is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return c.kv.Delete(ctx, storageKey(key))
}
