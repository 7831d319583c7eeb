package scrubber

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"scrubber/internal/eventbus"
	"scrubber/internal/metrics"
	"scrubber/internal/schedule"
	logx "scrubber/pkg/logx"
)

const (
	// HandlerName is the name the scrub handler is bound under on the bus.
	// Binding by a stable name keeps repeated Initialize/ScheduleDeletion
	// calls from stacking duplicate handlers.
	HandlerName = "scrubber"

	// EventScrubbed is published (as a notification) after every scrub.
	EventScrubbed = "scrubber.scrubbed"
)

// Deleter removes a cache entry. Removing a missing entry must not fail.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Result describes one scrub of one event.
type Result struct {
	Event   string        `json:"event"`
	Deleted []string      `json:"deleted"`
	Failed  []string      `json:"failed,omitempty"`
	Took    time.Duration `json:"took"`
}

// Engine binds the persisted schedule to the event bus and deletes entries
// when their trigger fires.
type Engine struct {
	store *schedule.Store
	cache Deleter
	bus   eventbus.Bus
	log   logx.Logger
	mx    metrics.Interface

	mu    sync.Mutex
	bound map[string]struct{}
}

type Option func(*Engine)

func WithMetrics(m metrics.Interface) Option {
	return func(e *Engine) {
		if m != nil {
			e.mx = m
		}
	}
}

func New(store *schedule.Store, cache Deleter, bus eventbus.Bus, log logx.Logger, opts ...Option) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		store: store,
		cache: cache,
		bus:   bus,
		log:   log,
		mx:    metrics.Noop{},
		bound: map[string]struct{}{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Initialize re-binds the scrub handler for every event in the persisted
// schedule. Call it once at startup, before events can fire; calling it again
// is harmless.
func (e *Engine) Initialize(ctx context.Context) error {
	sched, err := e.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("scrubber init: %w", err)
	}
	for _, ev := range sched.Events() {
		e.bind(ev)
	}
	e.log.Info("scrubber initialized",
		logx.Int("events", len(sched)),
		logx.Int("pending", sched.Len()),
	)
	return nil
}

// ScheduleDeletion schedules key for deletion on the next firing of each of
// events. Duplicate events are collapsed.
//
// Failures are logged and returned joined; the remaining events are still
// processed, so callers that treat this as fire-and-forget lose nothing else.
func (e *Engine) ScheduleDeletion(ctx context.Context, key string, events ...string) error {
	events = dedupe(events)
	if len(events) == 0 {
		return fmt.Errorf("%w: no events given for key %q", schedule.ErrInvalidArgument, key)
	}
	var errs []error
	for _, ev := range events {
		if err := e.store.Add(ctx, key, ev); err != nil {
			e.log.Warn("schedule deletion failed",
				logx.String("key", key),
				logx.String("event", ev),
				logx.Err(err),
			)
			errs = append(errs, err)
			continue
		}
		e.bind(ev)
		e.mx.IncScheduled(1)
		e.log.Debug("deletion scheduled", logx.String("key", key), logx.String("event", ev))
	}
	return errors.Join(errs...)
}

// Unschedule cancels pending deletions of key. With no events it cancels
// them on every event.
func (e *Engine) Unschedule(ctx context.Context, key string, events ...string) error {
	events = dedupe(events)
	if len(events) == 0 {
		removed, err := e.store.RemoveKey(ctx, key)
		if err != nil {
			return err
		}
		e.mx.IncUnscheduled(len(removed))
		e.log.Debug("deletion unscheduled", logx.String("key", key), logx.Strings("events", removed))
		return nil
	}
	var errs []error
	for _, ev := range events {
		removed, err := e.store.Remove(ctx, key, ev)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !removed {
			continue
		}
		e.mx.IncUnscheduled(1)
		e.log.Debug("deletion unscheduled", logx.String("key", key), logx.String("event", ev))
	}
	return errors.Join(errs...)
}

// Pending returns the current schedule.
func (e *Engine) Pending(ctx context.Context) (schedule.Schedule, error) {
	return e.store.Load(ctx)
}

// Subscriptions returns the events this engine has bound, sorted.
func (e *Engine) Subscriptions() []string {
	e.mu.Lock()
	out := make([]string, 0, len(e.bound))
	for ev := range e.bound {
		out = append(out, ev)
	}
	e.mu.Unlock()
	sort.Strings(out)
	return out
}

func (e *Engine) bind(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.bound[event]; ok {
		return
	}
	e.bus.On(event, HandlerName, e.onScrub)
	e.bound[event] = struct{}{}
}

// onScrub is the bus handler; the firing event comes from the dispatch context.
func (e *Engine) onScrub(ctx context.Context) error {
	ev, ok := eventbus.Current(ctx)
	if !ok {
		return errors.New("scrubber: handler invoked outside an event dispatch")
	}
	_, err := e.Scrub(ctx, ev)
	return err
}

// Scrub deletes every entry scheduled under event and unschedules it.
//
// Keys are taken from a snapshot before any removal. A key whose delete fails
// stays scheduled so the next firing retries it; other keys are unaffected.
func (e *Engine) Scrub(ctx context.Context, event string) (Result, error) {
	start := time.Now()
	res := Result{Event: event, Deleted: []string{}}

	sched, err := e.store.Load(ctx)
	if err != nil {
		e.log.Warn("scrub aborted: schedule unavailable", logx.String("event", event), logx.Err(err))
		return res, err
	}
	if !sched.Has(event) {
		return res, nil
	}

	keys := sched.Keys(event)
	var errs []error
	for _, key := range keys {
		deleted, err := e.scrubKey(ctx, key, event)
		if deleted {
			res.Deleted = append(res.Deleted, key)
		} else {
			res.Failed = append(res.Failed, key)
		}
		if err != nil {
			e.log.Warn("scrub key failed",
				logx.String("event", event),
				logx.String("key", key),
				logx.Bool("deleted", deleted),
				logx.Err(err),
			)
			errs = append(errs, err)
		}
	}
	res.Took = time.Since(start)
	e.mx.ObserveScrub(len(res.Deleted), len(res.Failed), res.Took)

	e.log.Info("scrubbed",
		logx.String("event", event),
		logx.Int("deleted", len(res.Deleted)),
		logx.Int("failed", len(res.Failed)),
		logx.Duration("took", res.Took),
	)
	e.bus.Publish(eventbus.Event{Type: EventScrubbed, Data: res})
	return res, errors.Join(errs...)
}

// scrubKey deletes one entry, then unschedules it. deleted reports whether the
// cache entry is gone. If only the unschedule fails, the key stays scheduled
// and the next scrub deletes an already missing entry.
func (e *Engine) scrubKey(ctx context.Context, key, event string) (deleted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scrub %q on %q panicked: %v", key, event, r)
			e.log.Error("scrub key panicked",
				logx.String("key", key),
				logx.String("event", event),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	if err := e.cache.Delete(ctx, key); err != nil {
		return false, fmt.Errorf("delete %q: %w", key, err)
	}
	if _, err := e.store.Remove(ctx, key, event); err != nil {
		return true, fmt.Errorf("unschedule %q from %q: %w", key, event, err)
	}
	return true, nil
}

// dedupe drops repeated event names, keeping first-seen order. Blank names are
// kept so the store can reject them.
func dedupe(events []string) []string {
	if len(events) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(events))
	out := make([]string, 0, len(events))
	for _, ev := range events {
		if _, ok := seen[ev]; ok {
			continue
		}
		seen[ev] = struct{}{}
		out = append(out, ev)
	}
	return out
}
