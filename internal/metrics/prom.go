package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prom reports to a private Prometheus registry, so several instances can
// coexist in one process.
type Prom struct {
	reg *prometheus.Registry

	scheduled    prometheus.Counter
	unscheduled  prometheus.Counter
	scrubs       prometheus.Counter
	deleted      prometheus.Counter
	failed       prometheus.Counter
	scrubSeconds prometheus.Histogram
	httpRequests *prometheus.CounterVec
	httpSeconds  prometheus.Histogram
}

// Gauges are sampled at scrape time. Nil funcs are skipped.
type Gauges struct {
	Pending       func() float64
	Subscriptions func() float64
}

func NewProm(namespace string, g Gauges) *Prom {
	makeC := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	p := &Prom{
		reg:         prometheus.NewRegistry(),
		scheduled:   makeC("scheduled_total", "Scheduling requests per key/event pairing"),
		unscheduled: makeC("unscheduled_total", "Key/event pairings cancelled before firing"),
		scrubs:      makeC("scrubs_total", "Scrubs of events that had pending keys"),
		deleted:     makeC("deleted_total", "Cache entries deleted by scrubs"),
		failed:      makeC("failed_total", "Cache entries left scheduled after a failed delete"),
		scrubSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scrub_duration_seconds",
			Help:      "Time spent scrubbing one event",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by method and status code",
		}, []string{"method", "code"}),
		httpSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	p.reg.MustRegister(
		p.scheduled, p.unscheduled, p.scrubs, p.deleted, p.failed,
		p.scrubSeconds, p.httpRequests, p.httpSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if g.Pending != nil {
		p.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_pairings",
			Help:      "Key/event pairings waiting for their event",
		}, g.Pending))
	}
	if g.Subscriptions != nil {
		p.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Events the scrub handler is bound to",
		}, g.Subscriptions))
	}
	return p
}

func (p *Prom) IncScheduled(n int) {
	if n > 0 {
		p.scheduled.Add(float64(n))
	}
}

func (p *Prom) IncUnscheduled(n int) {
	if n > 0 {
		p.unscheduled.Add(float64(n))
	}
}

func (p *Prom) ObserveScrub(deleted, failed int, took time.Duration) {
	p.scrubs.Inc()
	p.deleted.Add(float64(deleted))
	p.failed.Add(float64(failed))
	p.scrubSeconds.Observe(took.Seconds())
}

func (p *Prom) ObserveHTTP(method string, status int, took time.Duration) {
	p.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	p.httpSeconds.Observe(took.Seconds())
}

// Registry is exposed for tests and for callers adding their own collectors.
func (p *Prom) Registry() *prometheus.Registry { return p.reg }

// Handler serves the registry in the Prometheus text format.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}
