package event

// Emitters is the producer interface: one function per (domain, type) pair.
// Producers never construct raw Event records; they hand the minimal payload
// to the matching emitter and the bus does the stamping.
type Emitters struct {
	bus *Bus
}

func NewEmitters(bus *Bus) *Emitters {
	return &Emitters{bus: bus}
}

func (e *Emitters) AgentStarted(agentID, action string, metadata map[string]any, sessionID string) {
	_, _ = e.bus.Emit(DomainAgent, TypeAgentStarted, AgentPayload{
		AgentID:   agentID,
		Action:    action,
		Metadata:  metadata,
		SessionID: sessionID,
	})
}

func (e *Emitters) AgentCompleted(agentID string, result map[string]any, sessionID string) {
	_, _ = e.bus.Emit(DomainAgent, TypeAgentCompleted, AgentPayload{
		AgentID:   agentID,
		Result:    result,
		SessionID: sessionID,
	})
}

func (e *Emitters) WorkflowValidated(plan *Plan, sessionID string) {
	_, _ = e.bus.Emit(DomainWorkflow, TypeWorkflowValidated, WorkflowPayload{
		Plan:      plan,
		SessionID: sessionID,
	})
}

func (e *Emitters) WorkflowCreated(workflowID, name, sessionID string) {
	_, _ = e.bus.Emit(DomainWorkflow, TypeWorkflowCreated, WorkflowPayload{
		WorkflowID: workflowID,
		Name:       name,
		SessionID:  sessionID,
	})
}

func (e *Emitters) WorkflowFailed(message string, retryable bool, sessionID string) {
	_, _ = e.bus.Emit(DomainWorkflow, TypeWorkflowFailed, WorkflowPayload{
		Message:   message,
		Retryable: retryable,
		SessionID: sessionID,
	})
}

func (e *Emitters) GraphHandoff(from, to, sessionID string) {
	_, _ = e.bus.Emit(DomainGraph, TypeGraphHandoff, GraphPayload{
		From:      from,
		To:        to,
		SessionID: sessionID,
	})
}

func (e *Emitters) ModelStarted(model, agentID, sessionID string) {
	_, _ = e.bus.Emit(DomainModel, TypeModelStarted, ModelPayload{
		Model:     model,
		AgentID:   agentID,
		SessionID: sessionID,
	})
}

func (e *Emitters) ModelCompleted(model, agentID string, tokens int, sessionID string) {
	_, _ = e.bus.Emit(DomainModel, TypeModelCompleted, ModelPayload{
		Model:     model,
		AgentID:   agentID,
		Tokens:    tokens,
		SessionID: sessionID,
	})
}

func (e *Emitters) Error(kind ErrorKind, userMessage, source string, context map[string]any) {
	_, _ = e.bus.Emit(DomainError, TypeErrorRaised, ErrorPayload{
		Kind:        kind,
		UserMessage: userMessage,
		Source:      source,
		Context:     context,
	})
}

func (e *Emitters) SessionError(kind ErrorKind, userMessage, source, sessionID string, context map[string]any) {
	_, _ = e.bus.Emit(DomainError, TypeErrorRaised, ErrorPayload{
		Kind:        kind,
		UserMessage: userMessage,
		Source:      source,
		Context:     context,
		SessionID:   sessionID,
	})
}

func (e *Emitters) StorageSaved(key, sessionID string) {
	_, _ = e.bus.Emit(DomainStorage, TypeStorageSaved, StoragePayload{
		Op:        "save",
		Key:       key,
		SessionID: sessionID,
	})
}

func (e *Emitters) SystemReady(component string) {
	_, _ = e.bus.Emit(DomainSystem, TypeSystemReady, SystemPayload{
		Component: component,
	})
}
