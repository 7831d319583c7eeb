package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromCounters(t *testing.T) {
	t.Parallel()
	p := NewProm("test", Gauges{Pending: func() float64 { return 7 }})

	p.IncScheduled(2)
	p.IncScheduled(0)
	p.IncUnscheduled(1)
	p.ObserveScrub(3, 1, 5*time.Millisecond)
	p.ObserveHTTP(http.MethodGet, 200, time.Millisecond)
	p.ObserveHTTP(http.MethodGet, 200, time.Millisecond)
	p.ObserveHTTP(http.MethodPost, 400, time.Millisecond)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{name: "scheduled", got: testutil.ToFloat64(p.scheduled), want: 2},
		{name: "unscheduled", got: testutil.ToFloat64(p.unscheduled), want: 1},
		{name: "scrubs", got: testutil.ToFloat64(p.scrubs), want: 1},
		{name: "deleted", got: testutil.ToFloat64(p.deleted), want: 3},
		{name: "failed", got: testutil.ToFloat64(p.failed), want: 1},
		{name: "get 200", got: testutil.ToFloat64(p.httpRequests.WithLabelValues("GET", "200")), want: 2},
		{name: "post 400", got: testutil.ToFloat64(p.httpRequests.WithLabelValues("POST", "400")), want: 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestPromHandlerServesGauges(t *testing.T) {
	t.Parallel()
	p := NewProm("scrubber", Gauges{
		Pending:       func() float64 { return 4 },
		Subscriptions: func() float64 { return 2 },
	})
	ts := httptest.NewServer(p.Handler())
	defer ts.Close()

	res, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	body := string(b)
	for _, want := range []string{"scrubber_pending_pairings 4", "scrubber_subscriptions 2", "scrubber_deleted_total 0"} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestInstancesDoNotCollide(t *testing.T) {
	t.Parallel()
	a := NewProm("scrubber", Gauges{})
	b := NewProm("scrubber", Gauges{})
	a.IncScheduled(1)
	if testutil.ToFloat64(b.scheduled) != 0 {
		t.Fatal("registries are shared")
	}
}
