package mcpclient

import (
	"context"

	"github.com/agentkernel/gateway/pkg/tools"
)

// Lister adapts a long-lived Client into taskrouter.MCPToolLister, supplying
// the MCP-advertised half of list_tools (§4.8: union of builtin +
// MCP-advertised tools). invoke_tool calls for an MCP-backed ID are routed
// back through the same Client by the caller that owns it (e.g. cmd/gateway's
// wiring), keyed on the "mcp:<server>:<tool>" ID this Lister produces.
type Lister struct {
	client *Client
}

// NewLister wraps client for use as a taskrouter.MCPToolLister.
func NewLister(client *Client) *Lister {
	return &Lister{client: client}
}

// ListTools flattens every connected server's tools into the gateway's tool
// union. MCP tools are arbitrary, operator-configured external capabilities
// rather than the gateway's own vetted builtins, so every one of them is
// marked RequiresConfirmation — the approval rule in dispatchInvokeTool
// applies regardless of trust level or policy decision.
func (l *Lister) ListTools(ctx context.Context) ([]tools.Definition, error) {
	byServer, err := l.client.ListAllTools(ctx)
	if err != nil {
		return nil, err
	}

	defs := make([]tools.Definition, 0, len(byServer))
	for serverID, toolList := range byServer {
		for _, tool := range toolList {
			defs = append(defs, tools.Definition{
				ID:                   "mcp:" + serverID + ":" + tool.Name,
				Description:          tool.Description,
				Category:             "mcp:" + serverID,
				RequiresConfirmation: true,
			})
		}
	}
	return defs, nil
}
