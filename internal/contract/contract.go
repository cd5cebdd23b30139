// Package contract validates observed event sequences against declared
// expected orderings. Everything in this package is diagnostic-only: it
// never blocks, alters, or delays the events it observes.
package contract

import (
	"fmt"
	"time"

	"github.com/planweave/planweave/internal/event"
)

// Severity grades a finding.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ExpectedEvent is one step of a contract.
type ExpectedEvent struct {
	Domain   event.Domain
	Type     string
	Agent    string // optional qualifier matched against the payload's agent id
	Optional bool
}

func (e ExpectedEvent) String() string {
	label := fmt.Sprintf("%s:%s", e.Domain, e.Type)
	if e.Agent != "" {
		label += fmt.Sprintf(" (%s)", e.Agent)
	}
	return label
}

// Contract is an immutable ordered sequence of expected events. StepTimeout
// is the ceiling on the gap between consecutive observed events; gaps above
// it produce warnings, never errors.
type Contract struct {
	Name        string
	Steps       []ExpectedEvent
	StepTimeout time.Duration
}

// DefaultStepTimeout applies when a contract does not set its own ceiling.
const DefaultStepTimeout = 10 * time.Second

// Finding is one validation result. Step is the index into the contract's
// expected sequence, or -1 when the finding is not tied to a step.
type Finding struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Step     int      `json:"step"`
}

// Result is the outcome of validating one observed window.
type Result struct {
	Valid    bool      `json:"valid"`
	Errors   []Finding `json:"errors,omitempty"`
	Warnings []Finding `json:"warnings,omitempty"`
}

// ValidateSequence walks the expected and observed sequences in lock-step.
// A required step with no matching observed event is a "missing expected
// event" error; an observed event matching no step is an "unexpected event"
// error, after which validation resynchronizes and continues. Missing
// required events and timeout overruns are independent, non-exclusive
// findings.
func ValidateSequence(c Contract, observed []event.Event) Result {
	timeout := c.StepTimeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}

	var res Result

	for i := 1; i < len(observed); i++ {
		gap := observed[i].Timestamp.Sub(observed[i-1].Timestamp)
		if gap > timeout {
			res.Warnings = append(res.Warnings, Finding{
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("gap of %s between %s and %s exceeds %s ceiling", gap, eventLabel(observed[i-1]), eventLabel(observed[i]), timeout),
				Step:     -1,
			})
		}
	}

	oi := 0
	for si := 0; si < len(c.Steps); si++ {
		step := c.Steps[si]
		if oi >= len(observed) {
			if !step.Optional {
				res.Errors = append(res.Errors, missingFinding(step, si))
			}
			continue
		}
		evt := observed[oi]
		if stepMatches(step, evt) {
			oi++
			continue
		}
		if step.Optional {
			// Skip the optional step; the observed event gets another try
			// against the next expected entry.
			continue
		}
		if matchesAny(c.Steps[si+1:], evt) {
			// The observed stream has already moved past this required step.
			res.Errors = append(res.Errors, missingFinding(step, si))
			continue
		}
		res.Errors = append(res.Errors, Finding{
			Severity: SeverityError,
			Message:  fmt.Sprintf("unexpected event: got %s, expected %s", eventLabel(evt), step),
			Step:     si,
		})
		// Best-effort resynchronization: drop the mismatched observed event
		// and retry the same expected step.
		oi++
		si--
	}

	if oi < len(observed) {
		res.Warnings = append(res.Warnings, Finding{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("%d observed events after the expected sequence was exhausted", len(observed)-oi),
			Step:     -1,
		})
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func missingFinding(step ExpectedEvent, index int) Finding {
	return Finding{
		Severity: SeverityError,
		Message:  fmt.Sprintf("missing expected event: %s", step),
		Step:     index,
	}
}

func stepMatches(step ExpectedEvent, evt event.Event) bool {
	if evt.Domain != step.Domain || evt.Type != step.Type {
		return false
	}
	if step.Agent == "" {
		return true
	}
	return eventAgent(evt) == step.Agent
}

func matchesAny(steps []ExpectedEvent, evt event.Event) bool {
	for _, step := range steps {
		if stepMatches(step, evt) {
			return true
		}
	}
	return false
}

func eventAgent(evt event.Event) string {
	switch p := evt.Payload.(type) {
	case event.AgentPayload:
		return p.AgentID
	case event.ModelPayload:
		return p.AgentID
	}
	return ""
}

func eventLabel(evt event.Event) string {
	label := fmt.Sprintf("%s:%s", evt.Domain, evt.Type)
	if agent := eventAgent(evt); agent != "" {
		label += fmt.Sprintf(" (%s)", agent)
	}
	return label
}

// HappyPathContract describes the expected agent handoff order for a full
// session: enrichment, planner, an optional validator pass, then the
// executor producing a workflow.
func HappyPathContract() Contract {
	return Contract{
		Name: "agent-handoff",
		Steps: []ExpectedEvent{
			{Domain: event.DomainAgent, Type: event.TypeAgentStarted, Agent: event.AgentEnrichment},
			{Domain: event.DomainAgent, Type: event.TypeAgentCompleted, Agent: event.AgentEnrichment},
			{Domain: event.DomainAgent, Type: event.TypeAgentStarted, Agent: event.AgentPlanner},
			{Domain: event.DomainAgent, Type: event.TypeAgentCompleted, Agent: event.AgentPlanner},
			{Domain: event.DomainAgent, Type: event.TypeAgentStarted, Agent: event.AgentValidator, Optional: true},
			{Domain: event.DomainAgent, Type: event.TypeAgentCompleted, Agent: event.AgentValidator, Optional: true},
			{Domain: event.DomainAgent, Type: event.TypeAgentStarted, Agent: event.AgentExecutor},
			{Domain: event.DomainWorkflow, Type: event.TypeWorkflowCreated},
			{Domain: event.DomainAgent, Type: event.TypeAgentCompleted, Agent: event.AgentExecutor},
		},
	}
}

// CheckHandoff grades one graph handoff. An agent ending the session without
// returning control to the router is critical; an agent stepping directly to
// a peer is a warning. Handoffs to or from the router are clean.
func CheckHandoff(p event.GraphPayload) (Finding, bool) {
	if p.From == event.AgentRouter || p.To == event.AgentRouter {
		return Finding{}, false
	}
	if p.To == event.GraphEnd {
		return Finding{
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("agent %q ended the session instead of returning control to the router", p.From),
			Step:     -1,
		}, true
	}
	return Finding{
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("agent %q handed off to peer %q without passing through the router", p.From, p.To),
		Step:     -1,
	}, true
}
