package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "scrubber/pkg/logx"
)

type recordingFirer struct {
	mu     sync.Mutex
	events []string
	data   []any
	err    error
	panic  bool
}

func (r *recordingFirer) Fire(ctx context.Context, event string, data any) error {
	if r.panic {
		panic("boom")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.data = append(r.data, data)
	return r.err
}

func (r *recordingFirer) fired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	s := New(&recordingFirer{}, logx.Nop())
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{name: "five fields", spec: Spec{Event: "nightly", Schedule: "0 3 * * *"}},
		{name: "six fields", spec: Spec{Event: "tick", Schedule: "*/30 * * * * *"}},
		{name: "descriptor", spec: Spec{Event: "hourly", Schedule: "@hourly"}},
		{name: "every", spec: Spec{Event: "often", Schedule: "@every 10m"}},
		{name: "empty event", spec: Spec{Schedule: "@daily"}, wantErr: true},
		{name: "garbage", spec: Spec{Event: "x", Schedule: "not-a-schedule"}, wantErr: true},
		{name: "empty schedule", spec: Spec{Event: "x"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := s.Validate([]Spec{tt.spec})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate(%+v) err = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
		})
	}
}

func TestApplyRejectsInvalidWithoutChanges(t *testing.T) {
	t.Parallel()
	s := New(&recordingFirer{}, logx.Nop())
	if err := s.Apply([]Spec{{Event: "a", Schedule: "@daily"}}, nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.Apply([]Spec{{Event: "b", Schedule: "bogus"}}, time.UTC); err == nil {
		t.Fatal("expected error")
	}
	got := s.Entries()
	if len(got) != 1 || got[0].Event != "a" || !got[0].Next.IsZero() {
		t.Fatalf("entries = %+v", got)
	}
}

func TestStartRegistersEntriesAndApplyRebuilds(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(&recordingFirer{}, logx.Nop())
	_ = s.Apply([]Spec{{Event: " nightly ", Schedule: "0 3 * * *"}}, time.UTC)
	s.Start(ctx)
	defer s.Stop(context.Background())

	got := s.Entries()
	if len(got) != 1 || got[0].Event != "nightly" {
		t.Fatalf("entries = %+v", got)
	}
	if got[0].Next.IsZero() || got[0].Next.Hour() != 3 {
		t.Fatalf("next = %v, want 03:00 UTC", got[0].Next)
	}

	if err := s.Apply([]Spec{{Event: "b", Schedule: "@hourly"}, {Event: "a", Schedule: "@daily"}}, time.UTC); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got = s.Entries()
	if len(got) != 2 || got[0].Event != "a" || got[1].Event != "b" {
		t.Fatalf("entries after apply = %+v", got)
	}
}

func TestFireEventPassesPayloadAndSurvivesFailures(t *testing.T) {
	t.Parallel()
	f := &recordingFirer{err: errors.New("handler failed")}
	s := New(f, logx.Nop())

	job{svc: s, spec: Spec{Event: "nightly", Schedule: "@daily"}}.Run()

	if got := f.fired(); len(got) != 1 || got[0] != "nightly" {
		t.Fatalf("fired = %v", got)
	}
	p, ok := f.data[0].(Fired)
	if !ok || p.Schedule != "@daily" || p.At.IsZero() {
		t.Fatalf("payload = %#v", f.data[0])
	}

	// A panicking firer must not escape the cron goroutine.
	s2 := New(&recordingFirer{panic: true}, logx.Nop())
	job{svc: s2, spec: Spec{Event: "x", Schedule: "@daily"}}.Run()
}

func TestFireEventSkipsAfterCancel(t *testing.T) {
	t.Parallel()
	f := &recordingFirer{}
	s := New(f, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	job{svc: s, spec: Spec{Event: "late"}}.Run()
	if got := f.fired(); len(got) != 0 {
		t.Fatalf("fired after cancel: %v", got)
	}
}

func TestEveryTriggerFires(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a real cron tick")
	}
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &recordingFirer{}
	s := New(f, logx.Nop())
	_ = s.Apply([]Spec{{Event: "tick", Schedule: "@every 1s"}}, nil)
	s.Start(ctx)
	defer s.Stop(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.fired()) > 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("trigger never fired")
}
