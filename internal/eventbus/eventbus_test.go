package eventbus

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestOnDeduplicatesByName(t *testing.T) {
	t.Parallel()
	b := New()
	calls := 0
	h := func(ctx context.Context) error { calls++; return nil }

	if !b.On("save_post", "scrubber", h) {
		t.Fatal("first On should bind")
	}
	if b.On("save_post", "scrubber", h) {
		t.Fatal("second On with the same name should not bind")
	}
	if err := b.Fire(context.Background(), "save_post", nil); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestFireExposesCurrentEvent(t *testing.T) {
	t.Parallel()
	b := New()
	var got string
	b.On("publish_post", "probe", func(ctx context.Context) error {
		got, _ = Current(ctx)
		return nil
	})
	_ = b.Fire(context.Background(), "publish_post", nil)
	if got != "publish_post" {
		t.Fatalf("Current = %q, want publish_post", got)
	}
	if _, ok := Current(context.Background()); ok {
		t.Fatal("Current outside a dispatch should report false")
	}
}

func TestFireIsolatesFailingHandlers(t *testing.T) {
	t.Parallel()
	b := New()
	var order []string
	boom := errors.New("boom")

	b.On("evt", "first", func(ctx context.Context) error { order = append(order, "first"); return boom })
	b.On("evt", "second", func(ctx context.Context) error { order = append(order, "second"); panic("kaboom") })
	b.On("evt", "third", func(ctx context.Context) error { order = append(order, "third"); return nil })

	err := b.Fire(context.Background(), "evt", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping boom", err)
	}
	if !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("err = %v, want panic report", err)
	}
	if !reflect.DeepEqual(order, []string{"first", "second", "third"}) {
		t.Fatalf("order = %v", order)
	}
}

func TestFireUnboundEventIsNoop(t *testing.T) {
	t.Parallel()
	b := New()
	if err := b.Fire(context.Background(), "nobody_listens", nil); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if err := b.Fire(context.Background(), "", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

func TestOffAndEvents(t *testing.T) {
	t.Parallel()
	b := New()
	noop := func(ctx context.Context) error { return nil }
	b.On("b", "x", noop)
	b.On("a", "x", noop)
	b.On("a", "y", noop)

	if got := b.Events(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("Events = %v", got)
	}
	if !b.Off("a", "x") || b.Off("a", "x") {
		t.Fatal("Off should remove exactly once")
	}
	if !b.Bound("a") {
		t.Fatal("a still has handler y")
	}
	b.Off("a", "y")
	if b.Bound("a") {
		t.Fatal("a should be unbound")
	}
}

func TestFirePublishesToSubscribers(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	_ = b.Fire(context.Background(), "save_post", 42)
	select {
	case e := <-ch:
		if e.Type != "save_post" || e.Data != 42 || e.Time.IsZero() {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestPublishDropsWhenSubscriberIsFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)

	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"}) // dropped, must not block

	if e := <-ch; e.Type != "one" {
		t.Fatalf("got %q, want one", e.Type)
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "after-close"}) // must not panic
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}
