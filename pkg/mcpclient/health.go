package mcpclient

import "context"

// HealthCheck returns a probe suitable for registration with
// pkg/degradation's Manager: it calls ListTools on serverID, invalidating
// the cache first so a down server can't hide behind a stale cached result.
// Superseding the teacher's standalone HealthMonitor (pkg/mcp/health.go),
// whose periodic-probe/ticker loop pkg/degradation.Manager already provides
// generically for every gateway dependency, not just MCP servers.
func HealthCheck(client *Client, serverID string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		client.InvalidateToolCache(serverID)
		_, err := client.ListTools(ctx, serverID)
		return err
	}
}
