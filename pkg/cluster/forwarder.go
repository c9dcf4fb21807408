package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/agentkernel/gateway/pkg/wire"
)

// dialTimeout bounds how long Forward waits to connect to a peer node
// before giving up, distinct from the overall task deadline carried by ctx.
const dialTimeout = 5 * time.Second

// Forwarder sends a task to the gateway node that actually hosts its
// target agent over that node's internal WebSocket endpoint, and waits for
// the matching result or error frame (§4.8 "forward via C9", §6
// {internal, internalToken}).
type Forwarder struct {
	localNodeID   string
	internalToken string
	nodes         NodeRegistry
	logger        *slog.Logger
}

// NewForwarder creates a Forwarder. internalToken authenticates this node
// to its peers on the internal forwarding path (config.GatewayConfig's
// InternalTokenEnv), separate from end-user client auth.
func NewForwarder(localNodeID, internalToken string, nodes NodeRegistry, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{localNodeID: localNodeID, internalToken: internalToken, nodes: nodes, logger: logger}
}

// Forward dials nodeID's internal endpoint, sends task as an agent.task
// frame marked internal, and returns the first result/error frame whose ID
// matches. One connection per call: cross-node forwards are infrequent
// relative to client traffic, so there is no long-lived peer pool to manage.
func (f *Forwarder) Forward(ctx context.Context, nodeID string, task wire.TaskPayload) (wire.TaskResult, error) {
	url, err := f.peerURL(ctx, nodeID)
	if err != nil {
		return wire.TaskResult{}, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	cancel()
	if err != nil {
		return wire.TaskResult{}, fmt.Errorf("cluster: failed to dial node %s: %w", nodeID, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "forward complete")

	task.Internal = true
	task.InternalToken = f.internalToken
	reqID := uuid.NewString()
	frame, err := wire.NewFrame(wire.TypeAgentTask, reqID, task)
	if err != nil {
		return wire.TaskResult{}, fmt.Errorf("cluster: failed to encode forwarded task: %w", err)
	}
	if err := f.write(ctx, conn, frame); err != nil {
		return wire.TaskResult{}, fmt.Errorf("cluster: failed to send forwarded task to node %s: %w", nodeID, err)
	}

	for {
		reply, err := f.read(ctx, conn)
		if err != nil {
			return wire.TaskResult{}, fmt.Errorf("cluster: failed to read reply from node %s: %w", nodeID, err)
		}
		if reply.ID != reqID {
			continue
		}
		switch reply.Type {
		case wire.TypeResult:
			var result wire.TaskResult
			if err := reply.Decode(&result); err != nil {
				return wire.TaskResult{}, err
			}
			return result, nil
		case wire.TypeError:
			var errPayload wire.ErrorPayload
			if err := reply.Decode(&errPayload); err != nil {
				return wire.TaskResult{}, err
			}
			return wire.TaskResult{}, fmt.Errorf("cluster: node %s returned %s: %s", nodeID, errPayload.Code, errPayload.Message)
		default:
			f.logger.Warn("ignoring unexpected forwarded reply frame", "nodeId", nodeID, "type", reply.Type)
		}
	}
}

func (f *Forwarder) peerURL(ctx context.Context, nodeID string) (string, error) {
	nodes, err := f.nodes.List(ctx)
	if err != nil {
		return "", fmt.Errorf("cluster: failed to list nodes looking for %s: %w", nodeID, err)
	}
	for _, n := range nodes {
		if n.NodeID == nodeID {
			if n.InternalURL == "" {
				return "", fmt.Errorf("cluster: node %s has no registered internal URL", nodeID)
			}
			return n.InternalURL, nil
		}
	}
	return "", fmt.Errorf("cluster: unknown node %s", nodeID)
}

func (f *Forwarder) write(ctx context.Context, conn *websocket.Conn, frame wire.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (f *Forwarder) read(ctx context.Context, conn *websocket.Conn) (wire.Frame, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return wire.Frame{}, err
	}
	var frame wire.Frame
	err = json.Unmarshal(data, &frame)
	return frame, err
}
