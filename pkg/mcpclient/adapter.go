package mcpclient

import (
	"context"
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentkernel/gateway/pkg/policy"
	"github.com/agentkernel/gateway/pkg/tools"
)

// ResultMasker redacts secrets from MCP tool output before it reaches an
// agent or the audit log (§4.3, §7). Implemented by *masking.MaskingService.
type ResultMasker interface {
	MaskToolResult(content string, serverID string) string
}

// ToolAdapter exposes a single MCP-advertised tool as a tools.Tool so it can
// sit in the same builtin registry the router dispatches invoke_tool
// against. An MCP server's tool schema carries no file/network/shell
// semantics the gateway's policy engine understands, so PolicyRequest
// returns nil — the tool's RequiresConfirmation flag is what gates it.
type ToolAdapter struct {
	client   *Client
	serverID string
	toolName string
	def      tools.Definition
	masker   ResultMasker
}

// NewToolAdapter wraps one MCP tool from serverID for invocation through
// client. masker may be nil, in which case results pass through unmasked.
func NewToolAdapter(client *Client, serverID, toolName, description string, masker ResultMasker) *ToolAdapter {
	return &ToolAdapter{
		client:   client,
		serverID: serverID,
		toolName: toolName,
		masker:   masker,
		def: tools.Definition{
			ID:                   "mcp:" + serverID + ":" + toolName,
			Description:          description,
			Category:             "mcp:" + serverID,
			RequiresConfirmation: true,
		},
	}
}

func (a *ToolAdapter) Definition() tools.Definition {
	return a.def
}

func (a *ToolAdapter) PolicyRequest(json.RawMessage) (policy.Request, error) {
	return nil, nil
}

func (a *ToolAdapter) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var args map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
	}
	result, err := a.client.CallTool(ctx, a.serverID, a.toolName, args)
	if err != nil {
		return nil, err
	}
	if a.masker != nil {
		maskContent(result, a.serverID, a.masker)
	}
	return result, nil
}

// maskContent redacts every text content block of result in place.
func maskContent(result *mcpsdk.CallToolResult, serverID string, masker ResultMasker) {
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			tc.Text = masker.MaskToolResult(tc.Text, serverID)
		}
	}
}

// Adapters builds a ToolAdapter for every tool currently advertised across
// every connected MCP server, for wiring into the builtin tools.Registry
// alongside the gateway's own tools.Tool implementations. masker may be nil.
func Adapters(ctx context.Context, client *Client, masker ResultMasker) ([]tools.Tool, error) {
	byServer, err := client.ListAllTools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tools.Tool, 0, len(byServer))
	for serverID, toolList := range byServer {
		for _, tool := range toolList {
			out = append(out, NewToolAdapter(client, serverID, tool.Name, tool.Description, masker))
		}
	}
	return out, nil
}
