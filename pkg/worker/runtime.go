package worker

import (
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/agentkernel/gateway/pkg/config"
)

// NewTransport builds the Transport for runtime, selected by the agent's
// manifest (§4.6: "local (direct child-process fork with IPC channel) and
// container (child-process invocation of a container runtime binary...)").
func NewTransport(runtime config.WorkerRuntime, agentName, command string, args []string, image string, workerCfg *config.WorkerConfig, logger *slog.Logger) (Transport, error) {
	switch runtime {
	case config.WorkerRuntimeContainer:
		return newContainerTransport(agentName, command, args, image, workerCfg, logger)
	case config.WorkerRuntimeLocal, "":
		return newLocalTransport(command, args, logger)
	default:
		return nil, fmt.Errorf("worker: unsupported runtime %q", runtime)
	}
}

// newLocalTransport forks the agent worker program directly as a child process.
func newLocalTransport(command string, args []string, logger *slog.Logger) (Transport, error) {
	if command == "" {
		return nil, fmt.Errorf("worker: local runtime requires a command")
	}
	cmd := exec.Command(command, args...)
	cmd.Env = buildEnv(nil)
	return NewStdioTransport(cmd, logger), nil
}

// newContainerTransport invokes the configured container runtime binary
// with the enumerated isolation flags of §4.6 (memory/CPU/pids/caps/tmpfs/
// read-only/security profile/storage/blkio; network disabled unless opted in).
func newContainerTransport(agentName, command string, args []string, image string, cfg *config.WorkerConfig, logger *slog.Logger) (Transport, error) {
	if image == "" {
		return nil, fmt.Errorf("worker: container runtime requires an image")
	}
	if cfg == nil {
		cfg = config.DefaultWorkerConfig()
	}

	runArgs := []string{
		"run", "--rm", "-i",
		"--name", "agentkernel-" + agentName,
		"--memory", "512m",
		"--cpus", "1",
		"--pids-limit", "256",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--read-only",
		"--tmpfs", "/tmp",
		"--network", "none",
	}
	if cfg.ContainerNamespace != "" {
		runArgs = append(runArgs, "--namespace", cfg.ContainerNamespace)
	}
	runArgs = append(runArgs, image)
	if command != "" {
		runArgs = append(runArgs, command)
	}
	runArgs = append(runArgs, args...)

	cmd := exec.Command(cfg.ContainerRuntimeBinary, runArgs...)
	cmd.Env = buildEnv(nil)
	return NewStdioTransport(cmd, logger), nil
}
