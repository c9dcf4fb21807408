package config

import "time"

// ClusterConfig configures cluster coordination (C9): leader election over a
// shared Postgres advisory lock and cross-node message forwarding (§4.9).
type ClusterConfig struct {
	// NodeID uniquely identifies this gateway process within the cluster.
	// Defaults to a generated identifier when empty (see pkg/cluster).
	NodeID string `yaml:"node_id,omitempty"`

	// AdvisoryLockKey namespaces the pg_try_advisory_lock keys this cluster
	// uses, so multiple independent gateway clusters can share one database.
	AdvisoryLockKey string `yaml:"advisory_lock_key,omitempty"`

	// LeaderLeaseInterval is how often the leader renews/re-attempts its lock.
	LeaderLeaseInterval time.Duration `yaml:"leader_lease_interval,omitempty"`

	// HeartbeatInterval is how often this node refreshes its row in the
	// gateway_nodes table so peers can detect it going stale.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval,omitempty"`

	// NodeStaleThreshold is how long since a node's last heartbeat before
	// its peers consider it gone and stop forwarding to it (§4.9 edge cases).
	NodeStaleThreshold time.Duration `yaml:"node_stale_threshold,omitempty"`
}

// DefaultClusterConfig returns built-in cluster coordination defaults.
func DefaultClusterConfig() *ClusterConfig {
	return &ClusterConfig{
		AdvisoryLockKey:     "agentkernel-gateway",
		LeaderLeaseInterval: 5 * time.Second,
		HeartbeatInterval:   10 * time.Second,
		NodeStaleThreshold:  30 * time.Second,
	}
}
