package http

import (
	"net/http"

	"scrubber/internal/schedule"
)

type scheduleRequest struct {
	Key    string    `json:"key"`
	Events eventList `json:"events"`
}

type scheduleDTO struct {
	Schedule      schedule.Schedule `json:"schedule"`
	Subscriptions []string          `json:"subscriptions"`
}

type pairingDTO struct {
	Key    string   `json:"key"`
	Events []string `json:"events,omitempty"`
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) error {
	sched, err := s.deps.Scheduler.Pending(r.Context())
	if err != nil {
		return err
	}
	writeSuccess(w, http.StatusOK, scheduleDTO{Schedule: sched, Subscriptions: s.deps.Scheduler.Subscriptions()})
	return nil
}

func (s *Server) postSchedule(w http.ResponseWriter, r *http.Request) error {
	var req scheduleRequest
	if err := DecodeJSON(r, &req); err != nil {
		return err
	}
	if err := s.deps.Scheduler.ScheduleDeletion(r.Context(), req.Key, req.Events...); err != nil {
		return err
	}
	writeSuccess(w, http.StatusOK, pairingDTO{Key: req.Key, Events: req.Events})
	return nil
}

func (s *Server) unschedulePair(w http.ResponseWriter, r *http.Request) error {
	event, err := param(r, "event")
	if err != nil {
		return err
	}
	key, err := param(r, "key")
	if err != nil {
		return err
	}
	if err := s.deps.Scheduler.Unschedule(r.Context(), key, event); err != nil {
		return err
	}
	writeSuccess(w, http.StatusOK, pairingDTO{Key: key, Events: []string{event}})
	return nil
}

func (s *Server) unscheduleKey(w http.ResponseWriter, r *http.Request) error {
	key, err := param(r, "key")
	if err != nil {
		return err
	}
	if err := s.deps.Scheduler.Unschedule(r.Context(), key); err != nil {
		return err
	}
	writeSuccess(w, http.StatusOK, pairingDTO{Key: key})
	return nil
}
