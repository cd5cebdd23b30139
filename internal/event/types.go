package event

import "time"

// Domain is the closed set of event categories. Adding a domain means adding
// a constant here, a payload type, and a case in every exhaustive switch.
type Domain string

const (
	DomainWorkflow Domain = "workflow"
	DomainAgent    Domain = "agent"
	DomainGraph    Domain = "graph"
	DomainModel    Domain = "model"
	DomainError    Domain = "error"
	DomainStorage  Domain = "storage"
	DomainSystem   Domain = "system"
	DomainState    Domain = "state"
)

// Domains lists every valid domain in a stable order.
var Domains = []Domain{
	DomainWorkflow,
	DomainAgent,
	DomainGraph,
	DomainModel,
	DomainError,
	DomainStorage,
	DomainSystem,
	DomainState,
}

func (d Domain) Valid() bool {
	switch d {
	case DomainWorkflow, DomainAgent, DomainGraph, DomainModel,
		DomainError, DomainStorage, DomainSystem, DomainState:
		return true
	}
	return false
}

// Event types, scoped per domain.
const (
	TypeAgentStarted   = "started"
	TypeAgentCompleted = "completed"

	TypeWorkflowValidated = "validated"
	TypeWorkflowCreated   = "created"
	TypeWorkflowFailed    = "failed"

	TypeGraphHandoff = "handoff"

	TypeModelStarted   = "started"
	TypeModelCompleted = "completed"

	TypeErrorRaised = "raised"

	TypeStorageSaved = "saved"

	TypeSystemReady = "ready"

	TypeStateTransition = "transition"
)

// DefaultSessionKey is used when an event payload carries no session id.
const DefaultSessionKey = "default"

// Well-known agent identifiers in the plan workflow graph.
const (
	AgentEnrichment = "enrichment"
	AgentPlanner    = "planner"
	AgentValidator  = "validator"
	AgentExecutor   = "executor"
	AgentRouter     = "router"

	// GraphEnd marks a handoff that terminates the session graph.
	GraphEnd = "end"
)

// Event is the atomic unit flowing through the bus. The bus assigns ID and
// Timestamp at emission; producers only supply domain, type and payload.
type Event struct {
	ID        string    `json:"id"`
	Domain    Domain    `json:"domain"`
	Type      string    `json:"type"`
	Payload   Payload   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionID returns the session the event belongs to, or DefaultSessionKey
// when the payload carries none.
func (e Event) SessionID() string {
	if e.Payload == nil {
		return DefaultSessionKey
	}
	if id := e.Payload.Session(); id != "" {
		return id
	}
	return DefaultSessionKey
}

// Payload is the sealed set of per-domain payload shapes.
type Payload interface {
	PayloadDomain() Domain
	// Session returns the session id the payload belongs to, or "".
	Session() string
}

// Plan is the structured output of the planning phase.
type Plan struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Steps []PlanStep `json:"steps"`
}

type PlanStep struct {
	ID        string   `json:"id"`
	Agent     string   `json:"agent"`
	Action    string   `json:"action"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// ErrorKind classifies normalized errors.
type ErrorKind string

const (
	ErrorKindAPI        ErrorKind = "api"
	ErrorKindSubscriber ErrorKind = "subscriber"
	ErrorKindUnhandled  ErrorKind = "unhandled"
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindSystem     ErrorKind = "system"
)

type AgentPayload struct {
	AgentID   string         `json:"agent_id"`
	Action    string         `json:"action,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

func (AgentPayload) PayloadDomain() Domain { return DomainAgent }
func (p AgentPayload) Session() string     { return p.SessionID }

type WorkflowPayload struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Plan       *Plan  `json:"plan,omitempty"`
	Message    string `json:"message,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

func (WorkflowPayload) PayloadDomain() Domain { return DomainWorkflow }
func (p WorkflowPayload) Session() string     { return p.SessionID }

type GraphPayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	SessionID string `json:"session_id,omitempty"`
}

func (GraphPayload) PayloadDomain() Domain { return DomainGraph }
func (p GraphPayload) Session() string     { return p.SessionID }

type ModelPayload struct {
	Model     string `json:"model,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	Tokens    int    `json:"tokens,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (ModelPayload) PayloadDomain() Domain { return DomainModel }
func (p ModelPayload) Session() string     { return p.SessionID }

type ErrorPayload struct {
	Kind        ErrorKind      `json:"kind"`
	UserMessage string         `json:"user_message"`
	Source      string         `json:"source,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
}

func (ErrorPayload) PayloadDomain() Domain { return DomainError }
func (p ErrorPayload) Session() string     { return p.SessionID }

type StoragePayload struct {
	Op        string `json:"op"`
	Key       string `json:"key"`
	SessionID string `json:"session_id,omitempty"`
}

func (StoragePayload) PayloadDomain() Domain { return DomainStorage }
func (p StoragePayload) Session() string     { return p.SessionID }

type SystemPayload struct {
	Component string `json:"component"`
	Message   string `json:"message,omitempty"`
}

func (SystemPayload) PayloadDomain() Domain { return DomainSystem }
func (SystemPayload) Session() string       { return "" }

// StatePayload is emitted by the session state machine after a committed
// transition. Snapshot is the post-transition session snapshot; it is typed
// as any to keep the event package free of a dependency on the session
// package.
type StatePayload struct {
	Previous  string `json:"previous"`
	Current   string `json:"current"`
	Trigger   string `json:"trigger"`
	SessionID string `json:"session_id,omitempty"`
	Snapshot  any    `json:"snapshot,omitempty"`
}

func (StatePayload) PayloadDomain() Domain { return DomainState }
func (p StatePayload) Session() string     { return p.SessionID }
