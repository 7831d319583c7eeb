package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"scrubber/internal/eventbus"
	"scrubber/internal/metrics"
	"scrubber/internal/schedule"
	"scrubber/internal/scrubber"
	"scrubber/internal/storage"
	"scrubber/internal/transient"
	logx "scrubber/pkg/logx"
)

type testEnv struct {
	srv   *Server
	ts    *httptest.Server
	cache *transient.Cache
	eng   *scrubber.Engine
}

func newTestEnv(t *testing.T, limiter *Limiter) *testEnv {
	t.Helper()
	kv := storage.NewMemory()
	cache := transient.New(kv, logx.Nop())
	bus := eventbus.New()
	eng := scrubber.New(schedule.New(kv, logx.Nop()), cache, bus, logx.Nop())
	if err := eng.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	srv := NewRouter(Deps{Scheduler: eng, Cache: cache, Bus: bus, Limiter: limiter})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &testEnv{srv: srv, ts: ts, cache: cache, eng: eng}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *AppError       `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return res.StatusCode, env
}

func TestHealth(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)

	res, err := http.Get(e.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if res.Header.Get(headerRequestID) == "" {
		t.Fatal("missing request id header")
	}

	e.srv.SetDraining(true)
	if code, _ := e.do(t, http.MethodGet, "/health", ""); code != http.StatusServiceUnavailable {
		t.Fatalf("draining health = %d, want 503", code)
	}
}

func TestTransientScrubbedWhenEventFires(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)

	code, _ := e.do(t, http.MethodPut, "/transients/x", `{"value":{"n":1},"ttl":"1h","scrub_on":["save_post","publish_post"]}`)
	if code != http.StatusOK {
		t.Fatalf("put status %d", code)
	}
	code, env := e.do(t, http.MethodGet, "/transients/x", "")
	if code != http.StatusOK {
		t.Fatalf("get status %d", code)
	}
	var got transientDTO
	_ = json.Unmarshal(env.Data, &got)
	if string(got.Value) != `{"n":1}` || got.ExpiresAt == nil {
		t.Fatalf("transient = %+v", got)
	}

	code, env = e.do(t, http.MethodGet, "/schedule", "")
	var sched scheduleDTO
	_ = json.Unmarshal(env.Data, &sched)
	if code != http.StatusOK || !sched.Schedule.Contains("x", "save_post") || len(sched.Subscriptions) != 2 {
		t.Fatalf("schedule = %d %+v", code, sched)
	}

	if code, _ := e.do(t, http.MethodPost, "/events/save_post", ""); code != http.StatusOK {
		t.Fatalf("fire status %d", code)
	}
	if code, _ := e.do(t, http.MethodGet, "/transients/x", ""); code != http.StatusNotFound {
		t.Fatalf("after fire get = %d, want 404", code)
	}
	pending, _ := e.eng.Pending(context.Background())
	if pending.Contains("x", "save_post") || !pending.Contains("x", "publish_post") {
		t.Fatalf("pending = %v", pending)
	}
}

func TestScheduleEndpoints(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)

	// A single string is accepted for events.
	if code, _ := e.do(t, http.MethodPost, "/schedule", `{"key":"a","events":"evt1"}`); code != http.StatusOK {
		t.Fatalf("post single = %d", code)
	}
	if code, _ := e.do(t, http.MethodPost, "/schedule", `{"key":"a","events":["evt2","evt3"]}`); code != http.StatusOK {
		t.Fatalf("post list = %d", code)
	}
	if code, _ := e.do(t, http.MethodDelete, "/schedule/evt1/a", ""); code != http.StatusOK {
		t.Fatalf("delete pair = %d", code)
	}
	pending, _ := e.eng.Pending(context.Background())
	if pending.Has("evt1") || !pending.Contains("a", "evt2") {
		t.Fatalf("pending = %v", pending)
	}
	if code, _ := e.do(t, http.MethodDelete, "/schedule/a", ""); code != http.StatusOK {
		t.Fatalf("delete key = %d", code)
	}
	pending, _ = e.eng.Pending(context.Background())
	if pending.Len() != 0 {
		t.Fatalf("pending = %v, want empty", pending)
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{name: "blank event", method: http.MethodPost, path: "/schedule", body: `{"key":"a","events":[" "]}`, status: 400, code: CodeBadRequest},
		{name: "no events", method: http.MethodPost, path: "/schedule", body: `{"key":"a","events":[]}`, status: 400, code: CodeBadRequest},
		{name: "unknown field", method: http.MethodPost, path: "/schedule", body: `{"key":"a","when":"now"}`, status: 400, code: CodeInvalidJSON},
		{name: "malformed", method: http.MethodPut, path: "/transients/a", body: `{"value":`, status: 400, code: CodeInvalidJSON},
		{name: "bad ttl", method: http.MethodPut, path: "/transients/a", body: `{"value":1,"ttl":"soon"}`, status: 400, code: CodeBadRequest},
		{name: "missing transient", method: http.MethodGet, path: "/transients/nope", status: 404, code: CodeNotFound},
		{name: "unknown route", method: http.MethodGet, path: "/nope", status: 404, code: CodeNotFound},
	}
	for _, tt := range tests {
		code, env := e.do(t, tt.method, tt.path, tt.body)
		if code != tt.status || env.Error == nil || env.Error.Code != tt.code {
			t.Fatalf("%s: got %d %+v, want %d %s", tt.name, code, env.Error, tt.status, tt.code)
		}
	}
}

func TestFireUnboundEventIsOK(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, nil)
	if code, _ := e.do(t, http.MethodPost, "/events/nobody_listens", ""); code != http.StatusOK {
		t.Fatalf("fire = %d", code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, NewLimiter(0.001, 1))

	if code, _ := e.do(t, http.MethodGet, "/schedule", ""); code != http.StatusOK {
		t.Fatalf("first = %d", code)
	}
	code, env := e.do(t, http.MethodGet, "/schedule", "")
	if code != http.StatusTooManyRequests || env.Error.Code != CodeTooManyRequests {
		t.Fatalf("second = %d %+v", code, env.Error)
	}
	// Health is never limited.
	if code, _ := e.do(t, http.MethodGet, "/health", ""); code != http.StatusOK {
		t.Fatalf("health = %d", code)
	}
}

func TestLimiterSetRate(t *testing.T) {
	t.Parallel()
	l := NewLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatal("unlimited limiter refused")
		}
	}
	l.SetRate(0.001, 2)
	if !l.Allow() || !l.Allow() || l.Allow() {
		t.Fatal("burst of 2 not enforced")
	}
	l.SetRate(0, 0)
	if !l.Allow() {
		t.Fatal("disabled limiter refused")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()
	h := RecoverMiddleware(logx.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()
	var seen string
	h := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(headerRequestID, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc-123" || rec.Header().Get(headerRequestID) != "abc-123" {
		t.Fatalf("request id = %q / %q", seen, rec.Header().Get(headerRequestID))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	kv := storage.NewMemory()
	cache := transient.New(kv, logx.Nop())
	bus := eventbus.New()
	prom := metrics.NewProm("scrubber", metrics.Gauges{})
	eng := scrubber.New(schedule.New(kv, logx.Nop()), cache, bus, logx.Nop(), scrubber.WithMetrics(prom))
	ts := httptest.NewServer(NewRouter(Deps{
		Scheduler:      eng,
		Cache:          cache,
		Bus:            bus,
		Metrics:        prom,
		MetricsHandler: prom.Handler(),
	}))
	defer ts.Close()

	res, err := http.Post(ts.URL+"/schedule", "application/json", bytes.NewBufferString(`{"key":"a","events":"evt"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	res.Body.Close()

	res, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	body := string(b)
	for _, want := range []string{
		"scrubber_scheduled_total 1",
		`scrubber_http_requests_total{code="200",method="POST"} 1`,
	} {
		if !bytes.Contains(b, []byte(want)) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}
