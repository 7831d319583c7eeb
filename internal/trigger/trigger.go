// Package trigger fires named bus events on cron schedules.
//
// Schedules accept 5-field (min hour dom mon dow) or 6-field (leading seconds)
// cron expressions and descriptors such as "@daily" or "@every 10m". They are
// evaluated in the configured timezone.
//
// A trigger only fires an event. Whatever is bound to that event decides what
// happens; nothing here deletes anything by time.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "scrubber/pkg/logx"
)

// Firer dispatches a named event. eventbus.Bus satisfies it.
type Firer interface {
	Fire(ctx context.Context, event string, data any) error
}

type Spec struct {
	Event    string `json:"event"`
	Schedule string `json:"schedule"`
}

// Entry is a registered trigger and its next activation.
type Entry struct {
	Event    string    `json:"event"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
}

// Fired is the event payload passed to Fire.
type Fired struct {
	Schedule string    `json:"schedule"`
	At       time.Time `json:"at"`
}

type Service struct {
	fire   Firer
	log    logx.Logger
	parser cron.Parser

	mu     sync.Mutex
	specs  []Spec
	loc    *time.Location
	c      *cron.Cron
	runCtx context.Context
}

func New(fire Firer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		fire: fire,
		log:  log,
		// SecondOptional allows both 5-field and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    time.Local,
	}
}

// Validate parses every spec without registering anything.
func (s *Service) Validate(specs []Spec) error {
	var errs []error
	for i, sp := range specs {
		if strings.TrimSpace(sp.Event) == "" {
			errs = append(errs, fmt.Errorf("trigger %d: empty event", i))
		}
		if _, err := s.parser.Parse(strings.TrimSpace(sp.Schedule)); err != nil {
			errs = append(errs, fmt.Errorf("trigger %d (%s): %w", i, sp.Event, err))
		}
	}
	return errors.Join(errs...)
}

// Apply replaces the trigger set and timezone. A running service is rebuilt
// in place; on error nothing changes.
func (s *Service) Apply(specs []Spec, loc *time.Location) error {
	if err := s.Validate(specs); err != nil {
		return err
	}
	if loc == nil {
		loc = time.Local
	}
	cp := make([]Spec, len(specs))
	for i, sp := range specs {
		cp[i] = Spec{Event: strings.TrimSpace(sp.Event), Schedule: strings.TrimSpace(sp.Schedule)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs = cp
	s.loc = loc
	if s.c != nil {
		s.restartLocked()
	}
	return nil
}

// Start runs the cron loop until Stop or until ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx = ctx
	s.startLocked()
	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()
}

// Stop halts the cron loop and waits for running fires, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("triggers stopped")
}

// Entries lists registered triggers sorted by event. Next is zero while the
// service is stopped.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.specs))
	if s.c == nil {
		for _, sp := range s.specs {
			out = append(out, Entry{Event: sp.Event, Schedule: sp.Schedule})
		}
	} else {
		for _, e := range s.c.Entries() {
			j, ok := e.Job.(job)
			if !ok {
				continue
			}
			out = append(out, Entry{Event: j.spec.Event, Schedule: j.spec.Schedule, Next: e.Next})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Event < out[j].Event })
	return out
}

func (s *Service) startLocked() {
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, sp := range s.specs {
		if _, err := s.c.AddJob(sp.Schedule, job{svc: s, spec: sp}); err != nil {
			// Specs are validated in Apply; this only happens on a parser mismatch.
			s.log.Warn("trigger rejected", logx.String("event", sp.Event), logx.String("schedule", sp.Schedule), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("triggers started", logx.Int("count", len(s.specs)), logx.String("tz", s.loc.String()))
}

func (s *Service) restartLocked() {
	old := s.c
	s.startLocked()
	// Do not wait for in-flight fires while holding mu.
	old.Stop()
}

type job struct {
	svc  *Service
	spec Spec
}

func (j job) Run() { j.svc.fireEvent(j.spec) }

func (s *Service) fireEvent(sp Spec) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in trigger",
				logx.String("event", sp.Event),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := s.fire.Fire(ctx, sp.Event, Fired{Schedule: sp.Schedule, At: start})
	if err != nil {
		s.log.Warn("trigger fire failed", logx.String("event", sp.Event), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("trigger fired", logx.String("event", sp.Event), logx.Duration("took", time.Since(start)))
}
