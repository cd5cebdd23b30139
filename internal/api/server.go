package api

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/planweave/planweave/internal/activity"
	"github.com/planweave/planweave/internal/archive"
	"github.com/planweave/planweave/internal/bridge"
	"github.com/planweave/planweave/internal/contract"
	"github.com/planweave/planweave/internal/event"
	"github.com/planweave/planweave/internal/session"
	"github.com/planweave/planweave/internal/trace"
)

type Server struct {
	Bus      *event.Bus
	Emitters *event.Emitters
	Machine  *session.Machine
	Monitor  *contract.Monitor
	Trace    *trace.Accumulator
	Activity *activity.Tracker
	Archive  *archive.Store
	Bridge   *bridge.Bridge
	Logger   zerolog.Logger
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/state", s.handleState)
	r.Get("/api/sessions", s.handleSessions)
	r.Post("/api/sessions/{sessionID}/reset", s.handleSessionReset)
	r.Get("/api/trace/{sessionID}", s.handleTrace)
	r.Get("/api/findings/{sessionID}", s.handleFindings)
	r.Get("/api/activity", s.handleActivity)
	r.Get("/api/events", s.handleEventsList)
	r.Post("/api/events", s.handleEventsEmit)
	r.Get("/api/stream/ws", s.handleStreamWS)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	writeJSON(w, http.StatusOK, s.Machine.Snapshot(sessionID))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.Machine.Sessions()
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s.Machine.Reset(sessionID)
	if s.Monitor != nil {
		s.Monitor.Forget(sessionID)
	}
	writeJSON(w, http.StatusOK, s.Machine.Snapshot(sessionID))
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	snapshot, ok := s.Trace.Snapshot(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound("trace"))
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleFindings(w http.ResponseWriter, r *http.Request) {
	if s.Monitor == nil {
		writeError(w, http.StatusNotFound, errNotFound("validator"))
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"findings":   s.Monitor.Findings(sessionID),
	})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"records": s.Activity.Snapshot()})
}

func decodeJSON(body io.Reader, dest any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

type notFoundError struct {
	msg string
}

func (e notFoundError) Error() string { return e.msg }

func errNotFound(target string) error {
	return notFoundError{msg: target + " not found"}
}
