package bridge

import (
	"strings"
	"time"

	"github.com/planweave/planweave/internal/event"
)

// Kind tags an outbound wire message. The set is closed on this side;
// consumers must treat unknown future tags as no-ops.
type Kind string

const (
	KindToken           Kind = "token"
	KindWorkflowCreated Kind = "workflow_created"
	KindAgentActivity   Kind = "agent_activity"
	KindStateTransition Kind = "state_transition"
	KindError           Kind = "error"
	KindDone            Kind = "done"
)

// Message is the tagged union crossing the context boundary. Exactly one
// payload field is set for the kinds that carry one.
type Message struct {
	Kind       Kind             `json:"kind"`
	Token      string           `json:"token,omitempty"`
	Workflow   *WorkflowCreated `json:"workflow,omitempty"`
	Activity   *AgentActivity   `json:"activity,omitempty"`
	Transition *StateTransition `json:"transition,omitempty"`
	Error      *ErrorBody       `json:"error,omitempty"`
}

type WorkflowCreated struct {
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name,omitempty"`
	URL        string `json:"url"`
	SessionID  string `json:"session_id,omitempty"`
}

type AgentActivity struct {
	AgentID   string    `json:"agent_id"`
	Action    string    `json:"action,omitempty"`
	Status    string    `json:"status"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type StateTransition struct {
	Previous  string `json:"previous"`
	Current   string `json:"current"`
	Trigger   string `json:"trigger"`
	SessionID string `json:"session_id,omitempty"`
	State     any    `json:"state,omitempty"`
}

type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

// SourcePlanExecutor marks validation errors raised by the plan-execution
// tool. The agent already explains these to the user, so the bridge never
// forwards them as hard failures.
const SourcePlanExecutor = "plan_executor"

// ShouldForwardError reports whether an error event crosses the boundary.
func ShouldForwardError(p event.ErrorPayload) bool {
	return !(p.Kind == event.ErrorKindValidation && p.Source == SourcePlanExecutor)
}

func TokenMessage(token string) Message {
	return Message{Kind: KindToken, Token: token}
}

// WorkflowCreatedMessage maps a workflow-created payload to its wire shape,
// building the deep link from the resolved base URL.
func WorkflowCreatedMessage(p event.WorkflowPayload, baseURL string) Message {
	return Message{
		Kind: KindWorkflowCreated,
		Workflow: &WorkflowCreated{
			WorkflowID: p.WorkflowID,
			Name:       p.Name,
			URL:        DeepLink(baseURL, p.WorkflowID),
			SessionID:  p.SessionID,
		},
	}
}

func AgentActivityMessage(p event.AgentPayload, status string, at time.Time) Message {
	return Message{
		Kind: KindAgentActivity,
		Activity: &AgentActivity{
			AgentID:   p.AgentID,
			Action:    p.Action,
			Status:    status,
			SessionID: p.SessionID,
			Timestamp: at,
		},
	}
}

func StateTransitionMessage(p event.StatePayload) Message {
	return Message{
		Kind: KindStateTransition,
		Transition: &StateTransition{
			Previous:  p.Previous,
			Current:   p.Current,
			Trigger:   p.Trigger,
			SessionID: p.SessionID,
			State:     p.Snapshot,
		},
	}
}

func ErrorMessage(p event.ErrorPayload) Message {
	return Message{
		Kind: KindError,
		Error: &ErrorBody{
			Kind:    string(p.Kind),
			Message: p.UserMessage,
			Source:  p.Source,
		},
	}
}

func DoneMessage() Message {
	return Message{Kind: KindDone}
}

// DeepLink joins the resolved base URL and a workflow id.
func DeepLink(baseURL, workflowID string) string {
	return strings.TrimRight(baseURL, "/") + "/workflows/" + workflowID
}
