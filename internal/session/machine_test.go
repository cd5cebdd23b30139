package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/planweave/planweave/internal/event"
)

func agentEvent(typ, agentID, sessionID string) event.Event {
	return event.Event{
		Domain:    event.DomainAgent,
		Type:      typ,
		Payload:   event.AgentPayload{AgentID: agentID, SessionID: sessionID},
		Timestamp: time.Now().UTC(),
	}
}

func workflowEvent(typ string, payload event.WorkflowPayload) event.Event {
	return event.Event{
		Domain:    event.DomainWorkflow,
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

func TestDeriveTransition(t *testing.T) {
	tests := []struct {
		name    string
		current State
		evt     event.Event
		want    State
		applies bool
	}{
		{
			name:    "enrichment start from idle",
			current: StateIdle,
			evt:     agentEvent(event.TypeAgentStarted, event.AgentEnrichment, "s1"),
			want:    StateEnrichment,
			applies: true,
		},
		{
			name:    "enrichment complete moves to planning",
			current: StateEnrichment,
			evt:     agentEvent(event.TypeAgentCompleted, event.AgentEnrichment, "s1"),
			want:    StatePlanning,
			applies: true,
		},
		{
			name:    "validated plan awaits approval",
			current: StatePlanning,
			evt:     workflowEvent(event.TypeWorkflowValidated, event.WorkflowPayload{SessionID: "s1"}),
			want:    StateAwaitingApproval,
			applies: true,
		},
		{
			name:    "executor start begins execution",
			current: StateAwaitingApproval,
			evt:     agentEvent(event.TypeAgentStarted, event.AgentExecutor, "s1"),
			want:    StateExecuting,
			applies: true,
		},
		{
			name:    "workflow created completes the session",
			current: StateExecuting,
			evt:     workflowEvent(event.TypeWorkflowCreated, event.WorkflowPayload{WorkflowID: "wf-1", SessionID: "s1"}),
			want:    StateCompleted,
			applies: true,
		},
		{
			name:    "failure from planning",
			current: StatePlanning,
			evt:     workflowEvent(event.TypeWorkflowFailed, event.WorkflowPayload{Message: "nope", SessionID: "s1"}),
			want:    StateFailed,
			applies: true,
		},
		{
			name:    "failure from executing",
			current: StateExecuting,
			evt:     workflowEvent(event.TypeWorkflowFailed, event.WorkflowPayload{Message: "nope", SessionID: "s1"}),
			want:    StateFailed,
			applies: true,
		},
		{
			name:    "failure from idle is ignored",
			current: StateIdle,
			evt:     workflowEvent(event.TypeWorkflowFailed, event.WorkflowPayload{Message: "nope", SessionID: "s1"}),
			applies: false,
		},
		{
			name:    "planner start from idle is ignored",
			current: StateIdle,
			evt:     agentEvent(event.TypeAgentStarted, event.AgentPlanner, "s1"),
			applies: false,
		},
		{
			name:    "workflow created while idle is ignored",
			current: StateIdle,
			evt:     workflowEvent(event.TypeWorkflowCreated, event.WorkflowPayload{WorkflowID: "wf-1"}),
			applies: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := DeriveTransition(tt.current, tt.evt)
			require.Equal(t, tt.applies, ok)
			if tt.applies {
				require.Equal(t, tt.want, next)
				require.True(t, CanTransition(tt.current, next), "derived transition must be table-permitted")
			}
		})
	}
}

func TestRuleTableRejectsNonAdjacentStates(t *testing.T) {
	require.False(t, CanTransition(StateIdle, StateExecuting))
	require.False(t, CanTransition(StateCompleted, StateEnrichment))
	require.False(t, CanTransition(StateFailed, StatePlanning))
	require.True(t, CanTransition(StateExecuting, StateFailed))
}

func TestMachineHappyPath(t *testing.T) {
	bus := event.NewBus(zerolog.Nop())
	emitters := event.NewEmitters(bus)
	machine := NewMachine(bus, zerolog.Nop())
	machine.Start()
	defer machine.Stop()

	var transitions []event.StatePayload
	unsub := bus.Stream(event.DomainState).Subscribe(func(evt event.Event) {
		payload, ok := evt.Payload.(event.StatePayload)
		require.True(t, ok)
		transitions = append(transitions, payload)
	})
	defer unsub()

	plan := &event.Plan{ID: "plan-1", Name: "provision", Steps: []event.PlanStep{{ID: "st-1", Agent: event.AgentExecutor, Action: "create"}}}

	emitters.AgentStarted(event.AgentEnrichment, "classify", nil, "s1")
	emitters.AgentCompleted(event.AgentEnrichment, nil, "s1")
	emitters.AgentStarted(event.AgentPlanner, "plan", nil, "s1")
	emitters.AgentCompleted(event.AgentPlanner, nil, "s1")
	emitters.WorkflowValidated(plan, "s1")
	emitters.AgentStarted(event.AgentExecutor, "execute", nil, "s1")
	emitters.WorkflowCreated("wf-1", "provision", "s1")
	emitters.AgentCompleted(event.AgentExecutor, nil, "s1")

	snap := machine.Snapshot("s1")
	require.Equal(t, StateCompleted, snap.State)
	require.Equal(t, "wf-1", snap.WorkflowID)
	require.NotNil(t, snap.Plan)
	require.Equal(t, "plan-1", snap.Plan.ID)
	require.Nil(t, snap.Error)

	wantStates := []State{StateEnrichment, StatePlanning, StateAwaitingApproval, StateExecuting, StateCompleted}
	require.Len(t, transitions, len(wantStates))
	for i, want := range wantStates {
		require.Equal(t, string(want), transitions[i].Current)
		require.Equal(t, "s1", transitions[i].SessionID)
	}
	require.Equal(t, "workflow:created", transitions[4].Trigger)
}

func TestMachineFailureAndReset(t *testing.T) {
	bus := event.NewBus(zerolog.Nop())
	emitters := event.NewEmitters(bus)
	machine := NewMachine(bus, zerolog.Nop())
	machine.Start()
	defer machine.Stop()

	emitters.AgentStarted(event.AgentEnrichment, "classify", nil, "s1")
	emitters.WorkflowFailed("upstream timeout", true, "s1")

	snap := machine.Snapshot("s1")
	require.Equal(t, StateFailed, snap.State)
	require.NotNil(t, snap.Error)
	require.Equal(t, "upstream timeout", snap.Error.Message)
	require.True(t, snap.Error.Retryable)

	// Completed and failed are terminal except for reset.
	emitters.AgentStarted(event.AgentEnrichment, "classify", nil, "s1")
	require.Equal(t, StateFailed, machine.Snapshot("s1").State)

	machine.Reset("s1")
	snap = machine.Snapshot("s1")
	require.Equal(t, StateIdle, snap.State)
	require.Nil(t, snap.Error)
	require.Nil(t, snap.Plan)
	require.Empty(t, snap.WorkflowID)

	var resets int
	for _, record := range snap.History {
		if record.Trigger == "reset" {
			resets++
			require.Equal(t, StateIdle, record.To)
		}
	}
	require.Equal(t, 1, resets)
}

func TestMachineHistoryBounded(t *testing.T) {
	bus := event.NewBus(zerolog.Nop())
	machine := NewMachine(bus, zerolog.Nop())
	machine.Start()
	defer machine.Stop()

	for i := 0; i < historyLimit+5; i++ {
		machine.Reset("s1")
	}

	snap := machine.Snapshot("s1")
	require.Len(t, snap.History, historyLimit)
	// Oldest records are dropped, so every surviving trigger is "reset" and
	// the earliest one is an idle-to-idle record, not the original creation.
	require.Equal(t, StateIdle, snap.History[0].From)
}

func TestMachineKeysStateBySession(t *testing.T) {
	bus := event.NewBus(zerolog.Nop())
	emitters := event.NewEmitters(bus)
	machine := NewMachine(bus, zerolog.Nop())
	machine.Start()
	defer machine.Stop()

	emitters.AgentStarted(event.AgentEnrichment, "classify", nil, "s1")
	emitters.AgentStarted(event.AgentEnrichment, "classify", nil, "s2")
	emitters.AgentCompleted(event.AgentEnrichment, nil, "s2")

	require.Equal(t, StateEnrichment, machine.Snapshot("s1").State)
	require.Equal(t, StatePlanning, machine.Snapshot("s2").State)

	// Events without a session id fold into the default key.
	emitters.AgentStarted(event.AgentEnrichment, "classify", nil, "")
	require.Equal(t, StateEnrichment, machine.Snapshot(event.DefaultSessionKey).State)

	machine.Evict("s2")
	require.Equal(t, StateIdle, machine.Snapshot("s2").State)
}

func TestSnapshotIsACopy(t *testing.T) {
	bus := event.NewBus(zerolog.Nop())
	emitters := event.NewEmitters(bus)
	machine := NewMachine(bus, zerolog.Nop())
	machine.Start()
	defer machine.Stop()

	emitters.AgentStarted(event.AgentEnrichment, "classify", nil, "s1")

	snap := machine.Snapshot("s1")
	snap.History[0].Trigger = "tampered"
	snap.WorkflowID = "tampered"

	fresh := machine.Snapshot("s1")
	require.Equal(t, "agent:started", fresh.History[0].Trigger)
	require.Empty(t, fresh.WorkflowID)
}
