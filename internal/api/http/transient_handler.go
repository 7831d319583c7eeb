package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

type putTransientRequest struct {
	Value json.RawMessage `json:"value"`
	// TTL is a Go duration string; empty means no expiry.
	TTL     string    `json:"ttl,omitempty"`
	ScrubOn eventList `json:"scrub_on,omitempty"`
}

type transientDTO struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value,omitempty"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	ScrubOn   []string        `json:"scrub_on,omitempty"`
}

func (s *Server) putTransient(w http.ResponseWriter, r *http.Request) error {
	key, err := param(r, "key")
	if err != nil {
		return err
	}
	var req putTransientRequest
	if err := DecodeJSON(r, &req); err != nil {
		return err
	}
	var ttl time.Duration
	if t := strings.TrimSpace(req.TTL); t != "" {
		ttl, err = time.ParseDuration(t)
		if err != nil || ttl < 0 {
			return BadRequest("ttl: invalid duration " + req.TTL)
		}
	}
	if err := s.deps.Cache.Set(r.Context(), key, req.Value, ttl); err != nil {
		return err
	}
	if len(req.ScrubOn) > 0 {
		if err := s.deps.Scheduler.ScheduleDeletion(r.Context(), key, req.ScrubOn...); err != nil {
			return err
		}
	}
	out := transientDTO{Key: key, Value: req.Value, ScrubOn: req.ScrubOn}
	if ttl > 0 {
		exp := time.Now().Add(ttl)
		out.ExpiresAt = &exp
	}
	writeSuccess(w, http.StatusOK, out)
	return nil
}

func (s *Server) getTransient(w http.ResponseWriter, r *http.Request) error {
	key, err := param(r, "key")
	if err != nil {
		return err
	}
	e, ok, err := s.deps.Cache.Get(r.Context(), key)
	if err != nil {
		return err
	}
	if !ok {
		return NotFound("transient not found")
	}
	out := transientDTO{Key: e.Key, Value: e.Value}
	if !e.ExpiresAt.IsZero() {
		out.ExpiresAt = &e.ExpiresAt
	}
	writeSuccess(w, http.StatusOK, out)
	return nil
}

func (s *Server) deleteTransient(w http.ResponseWriter, r *http.Request) error {
	key, err := param(r, "key")
	if err != nil {
		return err
	}
	if err := s.deps.Cache.Delete(r.Context(), key); err != nil {
		return err
	}
	writeSuccess(w, http.StatusOK, transientDTO{Key: key})
	return nil
}
