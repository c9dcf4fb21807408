package mcpclient

import (
	"context"

	"github.com/agentkernel/gateway/pkg/config"
)

// ClientFactory creates Client instances. The gateway keeps one long-lived
// Client (via Lister) rather than one per task, since MCP sessions are
// worth amortizing across many invoke_tool/list_tools calls.
type ClientFactory struct {
	registry *config.MCPServerRegistry
}

// NewClientFactory creates a new factory.
func NewClientFactory(registry *config.MCPServerRegistry) *ClientFactory {
	return &ClientFactory{registry: registry}
}

// CreateClient creates a new Client connected to the given servers. The
// caller is responsible for calling Close() when done.
func (f *ClientFactory) CreateClient(ctx context.Context, serverIDs []string) (*Client, error) {
	client := NewClient(f.registry)
	if err := client.Initialize(ctx, serverIDs); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
