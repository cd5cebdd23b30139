package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/planweave/planweave/internal/activity"
	"github.com/planweave/planweave/internal/archive"
	"github.com/planweave/planweave/internal/bridge"
	"github.com/planweave/planweave/internal/contract"
	"github.com/planweave/planweave/internal/event"
	"github.com/planweave/planweave/internal/session"
	"github.com/planweave/planweave/internal/testutil"
	"github.com/planweave/planweave/internal/trace"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	logger := zerolog.Nop()
	bus := event.NewBus(logger)
	emitters := event.NewEmitters(bus)

	db, closeDB := testutil.OpenTestDB(t)
	t.Cleanup(closeDB)
	store := archive.NewStore(db, logger)
	detach := store.Attach(bus)
	t.Cleanup(detach)

	machine := session.NewMachine(bus, logger)
	machine.Start()
	t.Cleanup(machine.Stop)

	monitor := contract.NewMonitor(bus, logger, contract.MonitorOptions{})
	monitor.Start()
	t.Cleanup(monitor.Stop)

	tracker := activity.NewTracker(bus, logger, activity.Options{QuietWindow: 5 * time.Millisecond})
	tracker.Start()
	t.Cleanup(tracker.Stop)

	traces := trace.NewAccumulator(bus)
	traces.Start()
	t.Cleanup(traces.Stop)

	srv := &Server{
		Bus:      bus,
		Emitters: emitters,
		Machine:  machine,
		Monitor:  monitor,
		Trace:    traces,
		Activity: tracker,
		Archive:  store,
		Bridge:   bridge.New(bus, logger, bridge.Options{BaseURL: "https://app.example.com"}),
		Logger:   logger,
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func getJSON(t *testing.T, url string, dest any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dest != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body any) int {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)

	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/health", &body))
	require.Equal(t, "ok", body["status"])
}

func TestStateUnknownSessionIsIdle(t *testing.T) {
	_, ts := newTestServer(t)

	var snap session.Snapshot
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/state?session=nope", &snap))
	require.Equal(t, session.StateIdle, snap.State)
}

func TestEmitDrivesSessionState(t *testing.T) {
	srv, ts := newTestServer(t)

	status := postJSON(t, ts.URL+"/api/events", map[string]any{
		"kind":       "agent_started",
		"agent_id":   event.AgentEnrichment,
		"action":     "classify",
		"session_id": "s1",
	})
	require.Equal(t, http.StatusAccepted, status)

	var snap session.Snapshot
	getJSON(t, ts.URL+"/api/state?session=s1", &snap)
	require.Equal(t, session.StateEnrichment, snap.State)
	require.Len(t, snap.History, 1)

	// The emit also landed in the archive and the trace.
	rows, err := srv.Archive.List(t.Context(), archive.ListOptions{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, rows, 2) // agent:started plus the derived state:transition

	var traceBody trace.SessionTrace
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/trace/s1", &traceBody))
	require.Len(t, traceBody.Entries, 1)
}

func TestEmitUnknownKind(t *testing.T) {
	_, ts := newTestServer(t)

	status := postJSON(t, ts.URL+"/api/events", map[string]any{"kind": "mystery"})
	require.Equal(t, http.StatusBadRequest, status)
}

func TestEmitRejectsUnknownFields(t *testing.T) {
	_, ts := newTestServer(t)

	status := postJSON(t, ts.URL+"/api/events", map[string]any{
		"kind":    "agent_started",
		"agentid": "typo",
	})
	require.Equal(t, http.StatusBadRequest, status)
}

func TestEmitRejectsBadSessionKey(t *testing.T) {
	_, ts := newTestServer(t)

	status := postJSON(t, ts.URL+"/api/events", map[string]any{
		"kind":       "agent_started",
		"agent_id":   event.AgentEnrichment,
		"session_id": "Not A Key",
	})
	require.Equal(t, http.StatusBadRequest, status)
}

func TestSessionReset(t *testing.T) {
	_, ts := newTestServer(t)

	postJSON(t, ts.URL+"/api/events", map[string]any{
		"kind": "agent_started", "agent_id": event.AgentEnrichment, "session_id": "s1",
	})

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/sessions/s1/reset", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var snap session.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Equal(t, session.StateIdle, snap.State)
}

func TestSessionsList(t *testing.T) {
	_, ts := newTestServer(t)

	postJSON(t, ts.URL+"/api/events", map[string]any{
		"kind": "agent_started", "agent_id": event.AgentEnrichment, "session_id": "b",
	})
	postJSON(t, ts.URL+"/api/events", map[string]any{
		"kind": "agent_started", "agent_id": event.AgentEnrichment, "session_id": "a",
	})

	var body struct {
		Sessions []string `json:"sessions"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/sessions", &body))
	require.Equal(t, []string{"a", "b"}, body.Sessions)
}

func TestTraceNotFound(t *testing.T) {
	_, ts := newTestServer(t)
	require.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/trace/absent", nil))
}

func TestFindingsWithoutMonitor(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.Monitor = nil
	require.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/findings/s1", nil))
}

func TestEventsListRejectsBadDomain(t *testing.T) {
	_, ts := newTestServer(t)
	require.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/events?domain=galaxy", nil))
}

func TestEventsListByDomain(t *testing.T) {
	_, ts := newTestServer(t)

	postJSON(t, ts.URL+"/api/events", map[string]any{
		"kind": "workflow_created", "workflow_id": "wf-1", "name": "provision", "session_id": "s1",
	})

	var body struct {
		Events []archive.Row `json:"events"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/events?domain=workflow", &body))
	require.Len(t, body.Events, 1)
	require.Equal(t, event.TypeWorkflowCreated, body.Events[0].Type)
}
