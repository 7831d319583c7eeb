package storage

import (
	"context"
	"sync"
)

type memEntry struct {
	value   []byte
	version uint64
}

// Memory is an in-process KV. It is also the substitute store used in tests.
type Memory struct {
	mu     sync.Mutex
	m      map[string]memEntry
	closed bool
}

func NewMemory() *Memory {
	return &Memory{m: map[string]memEntry{}}
}

func (s *Memory) Load(ctx context.Context, key string) ([]byte, uint64, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, 0, false, ErrClosed
	}
	e, ok := s.m[key]
	if !ok {
		return nil, 0, false, nil
	}
	return cloneBytes(e.value), e.version, true, nil
}

func (s *Memory) Store(ctx context.Context, key string, value []byte) (uint64, error) {
	_ = ctx
	if key == "" {
		return 0, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	v := s.m[key].version + 1
	s.m[key] = memEntry{value: cloneBytes(value), version: v}
	return v, nil
}

func (s *Memory) CompareAndSwap(ctx context.Context, key string, value []byte, version uint64) (uint64, error) {
	_ = ctx
	if key == "" {
		return 0, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.m[key].version != version {
		return 0, ErrConflict
	}
	v := version + 1
	s.m[key] = memEntry{value: cloneBytes(value), version: v}
	return v, nil
}

func (s *Memory) Delete(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.m, key)
	return nil
}

func (s *Memory) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
