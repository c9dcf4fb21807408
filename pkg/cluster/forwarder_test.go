package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/gateway/pkg/store"
	"github.com/agentkernel/gateway/pkg/wire"
)

type fakeNodeRegistry struct {
	nodes map[string]*store.GatewayNode
}

func (f *fakeNodeRegistry) Upsert(ctx context.Context, nodeID string, isLeader bool, internalURL string) error {
	return nil
}
func (f *fakeNodeRegistry) SetLeader(ctx context.Context, nodeID string, isLeader bool) error {
	return nil
}
func (f *fakeNodeRegistry) List(ctx context.Context) ([]*store.GatewayNode, error) {
	var out []*store.GatewayNode
	for _, n := range f.nodes {
		out = append(out, n)
	}
	return out, nil
}
func (f *fakeNodeRegistry) DeleteStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func echoTaskServer(t *testing.T, wantInternalToken string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := r.Context()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame wire.Frame
		require.NoError(t, json.Unmarshal(data, &frame))
		assert.Equal(t, wire.TypeAgentTask, frame.Type)

		var payload wire.TaskPayload
		require.NoError(t, frame.Decode(&payload))
		assert.True(t, payload.Internal)
		assert.Equal(t, wantInternalToken, payload.InternalToken)

		reply, err := wire.NewFrame(wire.TypeResult, frame.ID, wire.TaskResult{Content: "forwarded ok"})
		require.NoError(t, err)
		replyData, err := json.Marshal(reply)
		require.NoError(t, err)
		_ = conn.Write(ctx, websocket.MessageText, replyData)
	}))
}

func TestForwarder_Forward_RoundTrip(t *testing.T) {
	srv := echoTaskServer(t, "secret-internal-token")
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	nodes := &fakeNodeRegistry{nodes: map[string]*store.GatewayNode{
		"node-2": {NodeID: "node-2", InternalURL: wsURL},
	}}

	f := NewForwarder("node-1", "secret-internal-token", nodes, nil)
	result, err := f.Forward(context.Background(), "node-2", wire.TaskPayload{AgentID: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, "forwarded ok", result.Content)
}

func TestForwarder_Forward_UnknownNode(t *testing.T) {
	nodes := &fakeNodeRegistry{nodes: map[string]*store.GatewayNode{}}
	f := NewForwarder("node-1", "tok", nodes, nil)

	_, err := f.Forward(context.Background(), "node-ghost", wire.TaskPayload{})
	assert.Error(t, err)
}

func TestForwarder_Forward_ErrorReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := r.Context()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame wire.Frame
		_ = json.Unmarshal(data, &frame)

		reply, _ := wire.NewFrame(wire.TypeError, frame.ID, wire.ErrorPayload{
			Code: wire.ErrCodeNotFound, Message: "agent not found on this node",
		})
		replyData, _ := json.Marshal(reply)
		_ = conn.Write(ctx, websocket.MessageText, replyData)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	nodes := &fakeNodeRegistry{nodes: map[string]*store.GatewayNode{
		"node-2": {NodeID: "node-2", InternalURL: wsURL},
	}}

	f := NewForwarder("node-1", "tok", nodes, nil)
	_, err := f.Forward(context.Background(), "node-2", wire.TaskPayload{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent not found on this node")
}
