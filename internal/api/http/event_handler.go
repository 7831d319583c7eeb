package http

import (
	"net/http"
	"time"

	logx "scrubber/pkg/logx"
)

// FiredBy is the event payload for events fired over HTTP.
type FiredBy struct {
	Source    string    `json:"source"`
	RequestID string    `json:"request_id,omitempty"`
	At        time.Time `json:"at"`
}

type fireDTO struct {
	Event string        `json:"event"`
	Took  time.Duration `json:"took_ns"`
}

func (s *Server) fireEvent(w http.ResponseWriter, r *http.Request) error {
	event, err := param(r, "event")
	if err != nil {
		return err
	}
	start := time.Now()
	data := FiredBy{Source: "http", RequestID: RequestIDFromContext(r.Context()), At: start}
	if err := s.deps.Bus.Fire(r.Context(), event, data); err != nil {
		s.log.Warn("event handlers failed", logx.String("event", event), logx.Err(err))
		return err
	}
	writeSuccess(w, http.StatusOK, fireDTO{Event: event, Took: time.Since(start)})
	return nil
}
