package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/planweave/planweave/internal/event"
	"github.com/planweave/planweave/internal/metrics"
)

type sessionEntry struct {
	state            State
	plan             *event.Plan
	workflowID       string
	failure          *Failure
	lastTransitionAt time.Time
	history          []Transition
}

// Machine folds agent and workflow bus events into per-session workflow
// state and re-emits a state:transition event for every committed change.
// It is the sole writer of session state; every other subscriber is
// read-only with respect to bus content.
type Machine struct {
	bus    *event.Bus
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionEntry
	unsubs   []func()
}

func NewMachine(bus *event.Bus, logger zerolog.Logger) *Machine {
	return &Machine{
		bus:      bus,
		logger:   logger,
		sessions: map[string]*sessionEntry{},
	}
}

// Start attaches the machine to the agent and workflow streams.
func (m *Machine) Start() {
	m.unsubs = append(m.unsubs,
		m.bus.Stream(event.DomainAgent).Subscribe(m.handle),
		m.bus.Stream(event.DomainWorkflow).Subscribe(m.handle),
	)
}

// Stop detaches the machine from the bus.
func (m *Machine) Stop() {
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
}

func (m *Machine) handle(evt event.Event) {
	sessionID := evt.SessionID()
	trigger := string(evt.Domain) + ":" + evt.Type

	m.mu.Lock()
	entry := m.entryLocked(sessionID)
	next, ok := DeriveTransition(entry.state, evt)
	if !ok || next == entry.state {
		m.mu.Unlock()
		return
	}
	if !CanTransition(entry.state, next) {
		from := entry.state
		m.mu.Unlock()
		m.logger.Warn().
			Str("session_id", sessionID).
			Str("from", string(from)).
			Str("to", string(next)).
			Str("trigger", trigger).
			Msg("illegal transition rejected")
		return
	}

	prev := entry.state
	m.applyLocked(entry, next, evt)
	entry.lastTransitionAt = evt.Timestamp
	entry.history = appendBounded(entry.history, Transition{
		From:      prev,
		To:        next,
		Trigger:   trigger,
		Timestamp: evt.Timestamp,
	})
	snapshot := snapshotLocked(sessionID, entry)
	m.mu.Unlock()

	m.commit(prev, next, trigger, sessionID, snapshot)
}

// applyLocked mutates entry for the committed transition. All derived values
// are computed before any assignment so a bad payload cannot leave the entry
// half-updated.
func (m *Machine) applyLocked(entry *sessionEntry, next State, evt event.Event) {
	entry.state = next
	if evt.Domain != event.DomainWorkflow {
		return
	}
	payload, ok := evt.Payload.(event.WorkflowPayload)
	if !ok {
		return
	}
	switch evt.Type {
	case event.TypeWorkflowValidated:
		if payload.Plan != nil {
			plan := *payload.Plan
			entry.plan = &plan
		}
	case event.TypeWorkflowCreated:
		entry.workflowID = payload.WorkflowID
	case event.TypeWorkflowFailed:
		entry.failure = &Failure{Message: payload.Message, Retryable: payload.Retryable}
	}
}

func (m *Machine) commit(prev, next State, trigger, sessionID string, snapshot Snapshot) {
	metrics.SessionTransitions.WithLabelValues(string(next)).Inc()
	m.logger.Debug().
		Str("session_id", sessionID).
		Str("from", string(prev)).
		Str("to", string(next)).
		Str("trigger", trigger).
		Msg("session transition")
	_, _ = m.bus.Emit(event.DomainState, event.TypeStateTransition, event.StatePayload{
		Previous:  string(prev),
		Current:   string(next),
		Trigger:   trigger,
		SessionID: sessionID,
		Snapshot:  snapshot,
	})
}

// Reset forces the session back to idle regardless of its current state and
// emits a transition event with trigger "reset". Used when a conversation
// restarts.
func (m *Machine) Reset(sessionID string) {
	if sessionID == "" {
		sessionID = event.DefaultSessionKey
	}
	now := time.Now().UTC()

	m.mu.Lock()
	entry := m.entryLocked(sessionID)
	prev := entry.state
	entry.state = StateIdle
	entry.plan = nil
	entry.workflowID = ""
	entry.failure = nil
	entry.lastTransitionAt = now
	entry.history = appendBounded(entry.history, Transition{
		From:      prev,
		To:        StateIdle,
		Trigger:   "reset",
		Timestamp: now,
	})
	snapshot := snapshotLocked(sessionID, entry)
	m.mu.Unlock()

	m.commit(prev, StateIdle, "reset", sessionID, snapshot)
}

// Evict drops a session's state entirely.
func (m *Machine) Evict(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// Snapshot returns a copy of the session's current state. Unknown sessions
// report idle without being created.
func (m *Machine) Snapshot(sessionID string) Snapshot {
	if sessionID == "" {
		sessionID = event.DefaultSessionKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[sessionID]
	if !ok {
		return Snapshot{SessionID: sessionID, State: StateIdle}
	}
	return snapshotLocked(sessionID, entry)
}

// Sessions lists the session ids with tracked state.
func (m *Machine) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

func (m *Machine) entryLocked(sessionID string) *sessionEntry {
	entry, ok := m.sessions[sessionID]
	if !ok {
		entry = &sessionEntry{state: StateIdle}
		m.sessions[sessionID] = entry
	}
	return entry
}

func snapshotLocked(sessionID string, entry *sessionEntry) Snapshot {
	snap := Snapshot{
		SessionID:        sessionID,
		State:            entry.state,
		WorkflowID:       entry.workflowID,
		LastTransitionAt: entry.lastTransitionAt,
		History:          make([]Transition, len(entry.history)),
	}
	copy(snap.History, entry.history)
	if entry.plan != nil {
		plan := *entry.plan
		snap.Plan = &plan
	}
	if entry.failure != nil {
		failure := *entry.failure
		snap.Error = &failure
	}
	return snap
}

func appendBounded(history []Transition, record Transition) []Transition {
	history = append(history, record)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	return history
}
