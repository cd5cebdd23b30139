// Package trace accumulates per-session event logs for debugging tooling.
package trace

import (
	"sync"
	"time"

	"github.com/planweave/planweave/internal/event"
)

// Entry is one observed agent or model event.
type Entry struct {
	Domain    event.Domain `json:"domain"`
	Type      string       `json:"type"`
	Agent     string       `json:"agent,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// SessionTrace is the accumulated log for one session. StartTime is set by
// the first observed event; the entry list is bounded only by session
// lifetime.
type SessionTrace struct {
	SessionID string    `json:"session_id"`
	StartTime time.Time `json:"start_time"`
	Entries   []Entry   `json:"entries"`
}

// Accumulator folds every agent and model event into a per-session trace,
// keyed by session id with event.DefaultSessionKey as the fallback.
type Accumulator struct {
	bus *event.Bus

	mu       sync.Mutex
	sessions map[string]*SessionTrace
	unsubs   []func()
}

func NewAccumulator(bus *event.Bus) *Accumulator {
	return &Accumulator{
		bus:      bus,
		sessions: map[string]*SessionTrace{},
	}
}

func (a *Accumulator) Start() {
	a.unsubs = append(a.unsubs,
		a.bus.Stream(event.DomainAgent).Subscribe(a.handle),
		a.bus.Stream(event.DomainModel).Subscribe(a.handle),
	)
}

func (a *Accumulator) Stop() {
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.unsubs = nil
}

func (a *Accumulator) handle(evt event.Event) {
	entry := Entry{
		Domain:    evt.Domain,
		Type:      evt.Type,
		Timestamp: evt.Timestamp,
	}
	switch p := evt.Payload.(type) {
	case event.AgentPayload:
		entry.Agent = p.AgentID
	case event.ModelPayload:
		entry.Agent = p.AgentID
	}

	sessionID := evt.SessionID()
	a.mu.Lock()
	st, ok := a.sessions[sessionID]
	if !ok {
		st = &SessionTrace{SessionID: sessionID, StartTime: evt.Timestamp}
		a.sessions[sessionID] = st
	}
	st.Entries = append(st.Entries, entry)
	a.mu.Unlock()
}

// Snapshot returns an immutable copy of one session's trace, never the live
// structure.
func (a *Accumulator) Snapshot(sessionID string) (SessionTrace, bool) {
	if sessionID == "" {
		sessionID = event.DefaultSessionKey
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.sessions[sessionID]
	if !ok {
		return SessionTrace{}, false
	}
	out := SessionTrace{
		SessionID: st.SessionID,
		StartTime: st.StartTime,
		Entries:   make([]Entry, len(st.Entries)),
	}
	copy(out.Entries, st.Entries)
	return out, true
}

// Sessions lists the session ids with accumulated traces.
func (a *Accumulator) Sessions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		out = append(out, id)
	}
	return out
}

// Forget drops a session's trace.
func (a *Accumulator) Forget(sessionID string) {
	a.mu.Lock()
	delete(a.sessions, sessionID)
	a.mu.Unlock()
}
