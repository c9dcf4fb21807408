package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/agentkernel/gateway/pkg/policy"
)

// shellArgs is the invoke_tool argument shape for the shell.exec tool.
type shellArgs struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Timeout int       `json:"timeoutSeconds,omitempty"`
}

// ExecTool runs a command, gated on a policy "shell" check and always
// requiring confirmation (§4.8: shell execution is never auto-approved
// regardless of trust level in the default rule set — the policy can
// still carve out an "approve" decision that skips the human step).
type ExecTool struct{}

func (ExecTool) Definition() Definition {
	return Definition{ID: "builtin:shell_exec", Description: "Execute a shell command", Category: "shell", RequiresConfirmation: true}
}

func (ExecTool) PolicyRequest(raw json.RawMessage) (policy.Request, error) {
	var a shellArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("shell.exec: %w", err)
	}
	return policy.ShellRequest{Command: a.Command, Args: a.Args}, nil
}

func (ExecTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var a shellArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}

	timeout := time.Duration(a.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, a.Command, a.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := map[string]any{"stdout": stdout.String(), "stderr": stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result["exitCode"] = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	result["exitCode"] = 0
	return result, nil
}
