package contract

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/planweave/planweave/internal/event"
	"github.com/planweave/planweave/internal/metrics"
)

// DefaultDurationCeiling is the wall-clock budget from the first enrichment
// start to workflow creation.
const DefaultDurationCeiling = 30 * time.Second

type MonitorOptions struct {
	// Contract validated against each session's window when its workflow is
	// created. Defaults to HappyPathContract.
	Contract *Contract
	// DurationCeiling overrides DefaultDurationCeiling.
	DurationCeiling time.Duration
}

// Monitor runs the standing coordination checks against the live streams:
// the happy-path handoff contract, graph-handoff integrity, duplicate agent
// starts, and end-to-end session duration. Findings are logged and counted,
// never escalated to user-visible errors.
type Monitor struct {
	bus      *event.Bus
	logger   zerolog.Logger
	contract Contract
	ceiling  time.Duration

	mu         sync.Mutex
	windows    map[string][]event.Event
	active     map[string]map[string]time.Time
	firstStart map[string]time.Time
	findings   map[string][]Finding
	unsubs     []func()
}

func NewMonitor(bus *event.Bus, logger zerolog.Logger, opts MonitorOptions) *Monitor {
	c := HappyPathContract()
	if opts.Contract != nil {
		c = *opts.Contract
	}
	ceiling := opts.DurationCeiling
	if ceiling <= 0 {
		ceiling = DefaultDurationCeiling
	}
	return &Monitor{
		bus:        bus,
		logger:     logger,
		contract:   c,
		ceiling:    ceiling,
		windows:    map[string][]event.Event{},
		active:     map[string]map[string]time.Time{},
		firstStart: map[string]time.Time{},
		findings:   map[string][]Finding{},
	}
}

func (m *Monitor) Start() {
	m.unsubs = append(m.unsubs,
		m.bus.Stream(event.DomainAgent).Subscribe(m.handleAgent),
		m.bus.Stream(event.DomainWorkflow).Subscribe(m.handleWorkflow),
		m.bus.Stream(event.DomainGraph).Subscribe(m.handleGraph),
	)
}

func (m *Monitor) Stop() {
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
}

// Findings returns a copy of the accumulated findings for a session.
func (m *Monitor) Findings(sessionID string) []Finding {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := m.findings[sessionID]
	out := make([]Finding, len(found))
	copy(out, found)
	return out
}

// Forget drops all monitoring state for a session.
func (m *Monitor) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.windows, sessionID)
	delete(m.active, sessionID)
	delete(m.firstStart, sessionID)
	delete(m.findings, sessionID)
	m.mu.Unlock()
}

func (m *Monitor) handleAgent(evt event.Event) {
	payload, ok := evt.Payload.(event.AgentPayload)
	if !ok {
		return
	}
	sessionID := evt.SessionID()

	m.mu.Lock()
	m.windows[sessionID] = append(m.windows[sessionID], evt)
	var duplicate bool
	switch evt.Type {
	case event.TypeAgentStarted:
		active := m.active[sessionID]
		if active == nil {
			active = map[string]time.Time{}
			m.active[sessionID] = active
		}
		_, duplicate = active[payload.AgentID]
		active[payload.AgentID] = evt.Timestamp
		if payload.AgentID == event.AgentEnrichment {
			if _, seen := m.firstStart[sessionID]; !seen {
				m.firstStart[sessionID] = evt.Timestamp
			}
		}
	case event.TypeAgentCompleted:
		delete(m.active[sessionID], payload.AgentID)
	}
	m.mu.Unlock()

	if duplicate {
		m.record(sessionID, Finding{
			Severity: SeverityError,
			Message:  fmt.Sprintf("agent %q started twice without completing; state machine bug", payload.AgentID),
			Step:     -1,
		})
	}
}

func (m *Monitor) handleWorkflow(evt event.Event) {
	sessionID := evt.SessionID()

	m.mu.Lock()
	m.windows[sessionID] = append(m.windows[sessionID], evt)
	window := make([]event.Event, len(m.windows[sessionID]))
	copy(window, m.windows[sessionID])
	firstStart, started := m.firstStart[sessionID]
	m.mu.Unlock()

	if evt.Type != event.TypeWorkflowCreated {
		return
	}

	if started {
		elapsed := evt.Timestamp.Sub(firstStart)
		if elapsed > m.ceiling {
			m.record(sessionID, Finding{
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("session took %s from enrichment start to workflow creation, over the %s ceiling", elapsed, m.ceiling),
				Step:     -1,
			})
		}
	}

	result := ValidateSequence(m.contract, window)
	for _, finding := range result.Errors {
		m.record(sessionID, finding)
	}
	for _, finding := range result.Warnings {
		m.record(sessionID, finding)
	}
}

func (m *Monitor) handleGraph(evt event.Event) {
	payload, ok := evt.Payload.(event.GraphPayload)
	if !ok {
		return
	}
	if finding, bad := CheckHandoff(payload); bad {
		m.record(evt.SessionID(), finding)
	}
}

func (m *Monitor) record(sessionID string, finding Finding) {
	m.mu.Lock()
	m.findings[sessionID] = append(m.findings[sessionID], finding)
	m.mu.Unlock()

	metrics.ValidatorFindings.WithLabelValues(string(finding.Severity)).Inc()
	entry := m.logger.Warn()
	if finding.Severity == SeverityCritical {
		entry = m.logger.Error()
	}
	entry.
		Str("session_id", sessionID).
		Str("severity", string(finding.Severity)).
		Str("contract", m.contract.Name).
		Msg(finding.Message)
}
