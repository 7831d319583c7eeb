package transient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"scrubber/internal/storage"
	logx "scrubber/pkg/logx"
)

func TestSetGetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemory()
	c := New(kv, logx.Nop())

	if err := c.Set(ctx, "post_list", json.RawMessage(`[1,2,3]`), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	e, ok, err := c.Get(ctx, "post_list")
	if err != nil || !ok {
		t.Fatalf("Get ok=%v err=%v", ok, err)
	}
	if string(e.Value) != `[1,2,3]` || !e.ExpiresAt.IsZero() {
		t.Fatalf("entry = %+v", e)
	}
	// Stored under the namespaced key only.
	if _, _, ok, _ := kv.Load(ctx, "post_list"); ok {
		t.Fatal("transient leaked into the un-prefixed keyspace")
	}

	if err := c.Delete(ctx, "post_list"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "post_list"); ok {
		t.Fatal("expected miss after Delete")
	}
	if err := c.Delete(ctx, "post_list"); err != nil {
		t.Fatalf("Delete(missing): %v", err)
	}
}

func TestExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemory()
	c := New(kv, logx.Nop())
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "k", json.RawMessage(`"v"`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	e, ok, _ := c.Get(ctx, "k")
	if !ok || !e.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("entry = %+v ok=%v", e, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if _, _, ok, _ := kv.Load(ctx, Prefix+"k"); ok {
		t.Fatal("expired entry should have been deleted")
	}
}

func TestValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(storage.NewMemory(), logx.Nop())

	if err := c.Set(ctx, "", json.RawMessage(`1`), 0); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("Set(\"\") err = %v", err)
	}
	if err := c.Set(ctx, "k", json.RawMessage(`{nope`), 0); err == nil {
		t.Fatal("expected invalid JSON error")
	}
	if err := c.Set(ctx, "nil", nil, 0); err != nil {
		t.Fatalf("Set(nil): %v", err)
	}
	e, ok, _ := c.Get(ctx, "nil")
	if !ok || string(e.Value) != "null" {
		t.Fatalf("entry = %+v", e)
	}
}
