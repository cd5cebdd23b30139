package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/planweave/planweave/internal/archive"
	"github.com/planweave/planweave/internal/event"
	"github.com/planweave/planweave/internal/idgen"
)

func (s *Server) handleEventsList(w http.ResponseWriter, r *http.Request) {
	if s.Archive == nil {
		writeError(w, http.StatusNotFound, errNotFound("archive"))
		return
	}
	opts := archive.ListOptions{
		Domain:    event.Domain(r.URL.Query().Get("domain")),
		SessionID: r.URL.Query().Get("session"),
		Limit:     parseInt(r.URL.Query().Get("limit"), 100),
	}
	if opts.Domain != "" && !opts.Domain.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown domain %q", opts.Domain))
		return
	}
	rows, err := s.Archive.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": rows})
}

// emitRequest is the producer surface for out-of-process collaborators.
// Each kind maps to one typed emitter; raw Event records are never accepted.
type emitRequest struct {
	Kind      string         `json:"kind"`
	AgentID   string         `json:"agent_id,omitempty"`
	Action    string         `json:"action,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	SessionID string         `json:"session_id,omitempty"`

	WorkflowID string      `json:"workflow_id,omitempty"`
	Name       string      `json:"name,omitempty"`
	Plan       *event.Plan `json:"plan,omitempty"`
	Message    string      `json:"message,omitempty"`
	Retryable  bool        `json:"retryable,omitempty"`

	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	Model  string `json:"model,omitempty"`
	Tokens int    `json:"tokens,omitempty"`

	ErrorKind string         `json:"error_kind,omitempty"`
	Source    string         `json:"source,omitempty"`
	Context   map[string]any `json:"context,omitempty"`

	Key string `json:"key,omitempty"`
}

func (s *Server) handleEventsEmit(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// An empty session key folds into the default session downstream.
	if req.SessionID != "" {
		if err := idgen.ValidateKey(req.SessionID); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	switch req.Kind {
	case "agent_started":
		s.Emitters.AgentStarted(req.AgentID, req.Action, req.Metadata, req.SessionID)
	case "agent_completed":
		s.Emitters.AgentCompleted(req.AgentID, req.Result, req.SessionID)
	case "workflow_validated":
		s.Emitters.WorkflowValidated(req.Plan, req.SessionID)
	case "workflow_created":
		s.Emitters.WorkflowCreated(req.WorkflowID, req.Name, req.SessionID)
	case "workflow_failed":
		s.Emitters.WorkflowFailed(req.Message, req.Retryable, req.SessionID)
	case "graph_handoff":
		s.Emitters.GraphHandoff(req.From, req.To, req.SessionID)
	case "model_started":
		s.Emitters.ModelStarted(req.Model, req.AgentID, req.SessionID)
	case "model_completed":
		s.Emitters.ModelCompleted(req.Model, req.AgentID, req.Tokens, req.SessionID)
	case "error":
		s.Emitters.SessionError(event.ErrorKind(req.ErrorKind), req.Message, req.Source, req.SessionID, req.Context)
	case "storage_saved":
		s.Emitters.StorageSaved(req.Key, req.SessionID)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown emit kind %q", req.Kind))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
