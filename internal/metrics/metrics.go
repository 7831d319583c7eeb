// Package metrics counts scrub activity and API traffic.
package metrics

import "time"

// Interface is what the engine and the HTTP layer report to.
type Interface interface {
	IncScheduled(n int)
	IncUnscheduled(n int)
	ObserveScrub(deleted, failed int, took time.Duration)
	ObserveHTTP(method string, status int, took time.Duration)
}

// Noop discards everything.
type Noop struct{}

func (Noop) IncScheduled(int)                       {}
func (Noop) IncUnscheduled(int)                     {}
func (Noop) ObserveScrub(int, int, time.Duration)   {}
func (Noop) ObserveHTTP(string, int, time.Duration) {}
