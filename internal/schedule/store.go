package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"scrubber/internal/storage"
	logx "scrubber/pkg/logx"
)

// DefaultKey is the storage key of the schedule document. It must never
// collide with a transient key.
const DefaultKey = "_scrubber_data"

const defaultMaxRetries = 8

var (
	ErrInvalidArgument = errors.New("schedule: invalid argument")
	ErrPersistence     = errors.New("schedule: persistence failure")
)

// Store owns the persisted Schedule document. Nothing else reads or writes it.
//
// Mutations go through Update, which retries a versioned compare-and-swap so
// concurrent writers never silently drop each other's changes.
type Store struct {
	kv         storage.KV
	log        logx.Logger
	key        string
	maxRetries int
	keepEmpty  bool
}

type Option func(*Store)

// WithKey overrides the storage key of the schedule document.
func WithKey(key string) Option {
	return func(s *Store) {
		if k := strings.TrimSpace(key); k != "" {
			s.key = k
		}
	}
}

// WithMaxRetries bounds compare-and-swap attempts per mutation.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithKeepEmpty keeps an event in the document after its last key is removed.
func WithKeepEmpty(keep bool) Option {
	return func(s *Store) { s.keepEmpty = keep }
}

func New(kv storage.KV, log logx.Logger, opts ...Option) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{kv: kv, log: log, key: DefaultKey, maxRetries: defaultMaxRetries}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Key returns the storage key the document lives under.
func (s *Store) Key() string { return s.key }

// Get returns the current schedule. A missing document is created empty.
func (s *Store) Get(ctx context.Context) (Schedule, error) {
	sched, ver, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if ver == 0 {
		// Establish the document; losing the race to another writer is fine.
		if _, err := s.kv.CompareAndSwap(ctx, s.key, []byte("{}"), 0); err != nil && !errors.Is(err, storage.ErrConflict) {
			s.log.Warn("schedule init write failed", logx.String("key", s.key), logx.Err(err))
		}
	}
	return sched, nil
}

// Load returns the current schedule without creating the document.
func (s *Store) Load(ctx context.Context) (Schedule, error) {
	sched, _, err := s.load(ctx)
	return sched, err
}

// Save overwrites the whole document.
func (s *Store) Save(ctx context.Context, sched Schedule) error {
	cp := sched.Clone()
	cp.normalize(s.keepEmpty)
	b, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrPersistence, err)
	}
	if _, err := s.kv.Store(ctx, s.key, b); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// Add schedules key for deletion on event. Adding an existing pair is a no-op.
func (s *Store) Add(ctx context.Context, key, event string) error {
	if err := validate("add", key, event); err != nil {
		return err
	}
	_, err := s.Update(ctx, func(sc Schedule) bool { return sc.add(key, event) })
	return err
}

// Remove unschedules key from event and reports whether the pairing existed.
// An unknown event or key is a no-op and does not write.
func (s *Store) Remove(ctx context.Context, key, event string) (bool, error) {
	if err := validate("remove", key, event); err != nil {
		return false, err
	}
	var removed bool
	_, err := s.Update(ctx, func(sc Schedule) bool {
		removed = sc.Contains(key, event)
		return sc.remove(key, event, s.keepEmpty)
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// RemoveKey unschedules key from every event and returns the events it was
// removed from.
func (s *Store) RemoveKey(ctx context.Context, key string) ([]string, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: remove key: empty key", ErrInvalidArgument)
	}
	var removed []string
	_, err := s.Update(ctx, func(sc Schedule) bool {
		removed = removed[:0]
		for _, ev := range sc.Events() {
			if sc.Contains(key, ev) {
				sc.remove(key, ev, s.keepEmpty)
				removed = append(removed, ev)
			}
		}
		return len(removed) > 0
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Update applies fn to a fresh copy of the schedule and writes the result if
// fn reports a change. On a concurrent write it reloads and re-applies fn, so
// fn must be safe to call more than once.
func (s *Store) Update(ctx context.Context, fn func(Schedule) bool) (Schedule, error) {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		sched, ver, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		if !fn(sched) {
			return sched, nil
		}
		sched.normalize(s.keepEmpty)
		b, err := json.Marshal(sched)
		if err != nil {
			return nil, fmt.Errorf("%w: encode: %w", ErrPersistence, err)
		}
		_, err = s.kv.CompareAndSwap(ctx, s.key, b, ver)
		if err == nil {
			return sched, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		s.log.Debug("schedule write conflict; retrying",
			logx.Int("attempt", attempt),
			logx.Uint64("version", ver),
		)
	}
	return nil, fmt.Errorf("%w: %d conflicting writes, giving up", ErrPersistence, s.maxRetries)
}

// load returns the decoded schedule and its storage version (0 = absent).
// An undecodable document is reported and treated as empty.
func (s *Store) load(ctx context.Context) (Schedule, uint64, error) {
	raw, ver, ok, err := s.kv.Load(ctx, s.key)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: load: %w", ErrPersistence, err)
	}
	sched := Schedule{}
	if !ok || len(raw) == 0 {
		return sched, ver, nil
	}
	if err := json.Unmarshal(raw, &sched); err != nil {
		s.log.Warn("schedule document unreadable; treating as empty",
			logx.String("key", s.key),
			logx.Uint64("version", ver),
			logx.Err(err),
		)
		return Schedule{}, ver, nil
	}
	if sched == nil {
		// "null" decodes to a nil map.
		sched = Schedule{}
	}
	sched.normalize(s.keepEmpty)
	return sched, ver, nil
}

func validate(op, key, event string) error {
	if strings.TrimSpace(key) == "" || strings.TrimSpace(event) == "" {
		return fmt.Errorf("%w: %s needs a non-empty key and event (key=%q event=%q)", ErrInvalidArgument, op, key, event)
	}
	return nil
}
