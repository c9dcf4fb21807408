package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/agentkernel/gateway/pkg/policy"
)

// fileArgs is the invoke_tool argument shape shared by the file tools.
type fileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// ReadFileTool reads a file's contents, gated on a policy "file"/"read" check.
type ReadFileTool struct{}

func (ReadFileTool) Definition() Definition {
	return Definition{ID: "builtin:file_read", Description: "Read a file's contents", Category: "file", RequiresConfirmation: false}
}

func (ReadFileTool) PolicyRequest(raw json.RawMessage) (policy.Request, error) {
	var a fileArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("file.read: %w", err)
	}
	return policy.FileRequest{Path: a.Path, Op: "read"}, nil
}

func (ReadFileTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var a fileArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// WriteFileTool writes a file's contents, gated on a policy "file"/"write" check
// and always requiring human confirmation regardless of trust level (§4.8).
type WriteFileTool struct{}

func (WriteFileTool) Definition() Definition {
	return Definition{ID: "builtin:file_write", Description: "Write a file's contents", Category: "file", RequiresConfirmation: true}
}

func (WriteFileTool) PolicyRequest(raw json.RawMessage) (policy.Request, error) {
	var a fileArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("file.write: %w", err)
	}
	return policy.FileRequest{Path: a.Path, Op: "write"}, nil
}

func (WriteFileTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var a fileArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	if err := os.WriteFile(a.Path, []byte(a.Content), 0o644); err != nil {
		return nil, err
	}
	return map[string]any{"bytesWritten": len(a.Content)}, nil
}

// ListFilesTool lists a directory's entries, gated on a policy "file"/"list" check.
type ListFilesTool struct{}

func (ListFilesTool) Definition() Definition {
	return Definition{ID: "builtin:file_list", Description: "List a directory's entries", Category: "file", RequiresConfirmation: false}
}

func (ListFilesTool) PolicyRequest(raw json.RawMessage) (policy.Request, error) {
	var a fileArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("file.list: %w", err)
	}
	return policy.FileRequest{Path: a.Path, Op: "list"}, nil
}

func (ListFilesTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var a fileArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(a.Path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
