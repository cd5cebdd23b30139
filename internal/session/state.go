package session

import (
	"time"

	"github.com/planweave/planweave/internal/event"
)

// State is the session workflow state.
type State string

const (
	StateIdle             State = "idle"
	StateEnrichment       State = "enrichment"
	StatePlanning         State = "planning"
	StateAwaitingApproval State = "awaiting_approval"
	StateExecuting        State = "executing"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// transitions is the static rule table: each state maps to its legal
// successors. Reset to idle is handled separately and is legal from any
// state.
var transitions = map[State][]State{
	StateIdle:             {StateEnrichment},
	StateEnrichment:       {StatePlanning, StateFailed},
	StatePlanning:         {StateAwaitingApproval, StateFailed},
	StateAwaitingApproval: {StateExecuting, StateFailed},
	StateExecuting:        {StateCompleted, StateFailed},
	StateCompleted:        {},
	StateFailed:           {},
}

// CanTransition reports whether the rule table lists to as a legal successor
// of from.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DeriveTransition is the pure derivation function: given the current state
// and an incoming agent/workflow event, it returns the next state, or false
// when the event triggers no transition from the current state.
// Non-transition inputs are not errors; they are simply ignored.
func DeriveTransition(current State, evt event.Event) (State, bool) {
	switch evt.Domain {
	case event.DomainAgent:
		payload, ok := evt.Payload.(event.AgentPayload)
		if !ok {
			return current, false
		}
		switch evt.Type {
		case event.TypeAgentStarted:
			if payload.AgentID == event.AgentEnrichment && current == StateIdle {
				return StateEnrichment, true
			}
			if payload.AgentID == event.AgentExecutor && current == StateAwaitingApproval {
				return StateExecuting, true
			}
		case event.TypeAgentCompleted:
			if payload.AgentID == event.AgentEnrichment && current == StateEnrichment {
				return StatePlanning, true
			}
		}
	case event.DomainWorkflow:
		switch evt.Type {
		case event.TypeWorkflowValidated:
			if current == StatePlanning {
				return StateAwaitingApproval, true
			}
		case event.TypeWorkflowCreated:
			if current == StateExecuting {
				return StateCompleted, true
			}
		case event.TypeWorkflowFailed:
			switch current {
			case StateEnrichment, StatePlanning, StateAwaitingApproval, StateExecuting:
				return StateFailed, true
			}
		}
	}
	return current, false
}

// historyLimit bounds the per-session transition history; older records are
// dropped, not compacted.
const historyLimit = 20

// Failure captures why a session entered the failed state.
type Failure struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Transition is one committed state change.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Trigger   string    `json:"trigger"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the read-only view of one session's workflow state.
type Snapshot struct {
	SessionID        string       `json:"session_id"`
	State            State        `json:"state"`
	Plan             *event.Plan  `json:"plan,omitempty"`
	WorkflowID       string       `json:"workflow_id,omitempty"`
	Error            *Failure     `json:"error,omitempty"`
	LastTransitionAt time.Time    `json:"last_transition_at"`
	History          []Transition `json:"history"`
}
