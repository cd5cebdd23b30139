package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/planweave/planweave/internal/bridge"
	"github.com/planweave/planweave/internal/event"
)

func TestStreamWSForwardsWorkflowCreated(t *testing.T) {
	srv, ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The machine and monitor already hold workflow subscriptions; only the
	// delta tells us the bridge handle is attached.
	base := srv.Bus.Stream(event.DomainWorkflow).SubscriberCount()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.Eventually(t, func() bool {
		return srv.Bus.Stream(event.DomainWorkflow).SubscriberCount() == base+1
	}, 2*time.Second, 10*time.Millisecond)

	srv.Emitters.WorkflowCreated("wf-7", "provision", "s1")

	msgType, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, msgType)

	var msg bridge.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, bridge.KindWorkflowCreated, msg.Kind)
	require.NotNil(t, msg.Workflow)
	require.Equal(t, "wf-7", msg.Workflow.WorkflowID)
	require.Contains(t, msg.Workflow.URL, "/workflows/wf-7")
}

func TestStreamWSCloseTearsDownOneConnection(t *testing.T) {
	srv, ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	base := srv.Bus.Stream(event.DomainWorkflow).SubscriberCount()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream/ws"
	connA, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	connB, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer connB.Close(websocket.StatusNormalClosure, "done")

	require.Eventually(t, func() bool {
		return srv.Bus.Stream(event.DomainWorkflow).SubscriberCount() == base+2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, connA.Close(websocket.StatusNormalClosure, "done"))

	require.Eventually(t, func() bool {
		return srv.Bus.Stream(event.DomainWorkflow).SubscriberCount() == base+1
	}, 2*time.Second, 10*time.Millisecond)

	// The surviving connection still receives messages.
	srv.Emitters.WorkflowCreated("wf-8", "provision", "s1")
	_, data, err := connB.Read(ctx)
	require.NoError(t, err)

	var msg bridge.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, bridge.KindWorkflowCreated, msg.Kind)
}
