package config

import "time"

// WorkerConfig configures the worker supervisor (C6): process isolation,
// restart backoff, and the container runtime invocation used when an agent's
// manifest selects WorkerRuntimeContainer (§4.6).
type WorkerConfig struct {
	// DefaultRuntime is used for agents whose manifest omits Runtime.
	DefaultRuntime WorkerRuntime `yaml:"default_runtime,omitempty"`

	// StartupTimeout bounds how long a worker process has to complete its
	// handshake before the supervisor kills it and reports a startup failure.
	StartupTimeout time.Duration `yaml:"startup_timeout,omitempty"`

	// ShutdownGracePeriod is how long the supervisor waits after sending a
	// terminate request before force-killing the process.
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period,omitempty"`

	// RestartBackoffMin/Max bound the jittered exponential backoff applied
	// between automatic restarts of a crashed worker (§4.6 edge cases).
	RestartBackoffMin time.Duration `yaml:"restart_backoff_min,omitempty"`
	RestartBackoffMax time.Duration `yaml:"restart_backoff_max,omitempty"`

	// MaxConsecutiveRestarts bounds how many times the supervisor retries a
	// crash-looping worker before giving up and marking it errored.
	MaxConsecutiveRestarts int `yaml:"max_consecutive_restarts,omitempty"`

	// ContainerRuntimeBinary is the external CLI invoked for container-runtime
	// workers (e.g. "runc", "ctr", "docker").
	ContainerRuntimeBinary string `yaml:"container_runtime_binary,omitempty"`

	// ContainerNamespace/SocketPath address the container runtime's control
	// socket when ContainerRuntimeBinary supports the OCI/containerd wire shape.
	ContainerNamespace string `yaml:"container_namespace,omitempty"`
	ContainerSocketPath string `yaml:"container_socket_path,omitempty"`
}

// DefaultWorkerConfig returns built-in worker supervisor defaults.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		DefaultRuntime:          WorkerRuntimeLocal,
		StartupTimeout:          30 * time.Second,
		ShutdownGracePeriod:     10 * time.Second,
		RestartBackoffMin:       250 * time.Millisecond,
		RestartBackoffMax:       30 * time.Second,
		MaxConsecutiveRestarts:  5,
		ContainerRuntimeBinary:  "runc",
		ContainerNamespace:      "agentkernel",
		ContainerSocketPath:     "/run/containerd/containerd.sock",
	}
}
