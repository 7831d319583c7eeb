package eventbus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract for channel subscribers:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Handler runs synchronously inside Fire. The firing event name is available
// through Current(ctx).
type Handler func(ctx context.Context) error

// Bus carries two kinds of traffic:
//   - named trigger events (On/Fire): synchronous, handlers bound by name
//   - notifications (Publish/Subscribe): asynchronous, lossy fanout
type Bus interface {
	// On binds h to event under name. Binding the same (event, name) twice
	// keeps the first handler and returns false.
	On(event, name string, h Handler) bool
	Off(event, name string) bool
	Bound(event string) bool
	// Events lists event names with at least one handler, sorted.
	Events() []string
	// Fire runs every handler bound to event, in binding order. A failing or
	// panicking handler never stops the others; their errors are joined.
	// Channel subscribers receive the event afterwards.
	Fire(ctx context.Context, event string, data any) error

	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{
		subs:     map[uint64]chan Event{},
		handlers: map[string][]binding{},
	}
}

type binding struct {
	name string
	h    Handler
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64

	hmu      sync.RWMutex
	handlers map[string][]binding
}

type currentKey struct{}

// Current returns the event being fired, from inside a Handler.
func Current(ctx context.Context) (string, bool) {
	ev, ok := ctx.Value(currentKey{}).(string)
	return ev, ok && ev != ""
}

// WithCurrent marks ctx as running inside the dispatch of event.
func WithCurrent(ctx context.Context, event string) context.Context {
	return context.WithValue(ctx, currentKey{}, event)
}

func (b *memBus) On(event, name string, h Handler) bool {
	if event == "" || h == nil {
		return false
	}
	b.hmu.Lock()
	defer b.hmu.Unlock()
	for _, bd := range b.handlers[event] {
		if bd.name == name {
			return false
		}
	}
	b.handlers[event] = append(b.handlers[event], binding{name: name, h: h})
	return true
}

func (b *memBus) Off(event, name string) bool {
	b.hmu.Lock()
	defer b.hmu.Unlock()
	list := b.handlers[event]
	for i, bd := range list {
		if bd.name != name {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(b.handlers, event)
		} else {
			b.handlers[event] = list
		}
		return true
	}
	return false
}

func (b *memBus) Bound(event string) bool {
	b.hmu.RLock()
	defer b.hmu.RUnlock()
	return len(b.handlers[event]) > 0
}

func (b *memBus) Events() []string {
	b.hmu.RLock()
	out := make([]string, 0, len(b.handlers))
	for ev := range b.handlers {
		out = append(out, ev)
	}
	b.hmu.RUnlock()
	sort.Strings(out)
	return out
}

func (b *memBus) Fire(ctx context.Context, event string, data any) error {
	if event == "" {
		return errors.New("eventbus: empty event name")
	}
	// Snapshot so handlers may bind/unbind while we dispatch.
	b.hmu.RLock()
	list := append([]binding(nil), b.handlers[event]...)
	b.hmu.RUnlock()

	hctx := WithCurrent(ctx, event)
	var errs []error
	for _, bd := range list {
		if err := invoke(hctx, bd); err != nil {
			errs = append(errs, err)
		}
	}
	b.Publish(Event{Type: event, Data: data})
	return errors.Join(errs...)
}

func invoke(ctx context.Context, bd binding) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %q panicked: %v\n%s", bd.name, r, debug.Stack())
		}
	}()
	if err := bd.h(ctx); err != nil {
		return fmt.Errorf("handler %q: %w", bd.name, err)
	}
	return nil
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// A concurrent unsubscribe may close the channel; recover from that send.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
