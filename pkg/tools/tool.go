// Package tools implements the builtin file/net/shell tools the task
// router (C8) dispatches invoke_tool against (§4.8, §3 "builtin tools").
// Each tool translates its arguments into a pkg/policy.Request so the
// router can run the same policy gate regardless of which builtin fired.
package tools

import (
	"context"
	"encoding/json"

	"github.com/agentkernel/gateway/pkg/policy"
)

// Definition describes one tool for list_tools and for the approval rule
// (§4.8: "tools flagged requiresConfirmation").
type Definition struct {
	ID                   string `json:"id"`
	Description          string `json:"description"`
	Category             string `json:"category"`
	RequiresConfirmation bool   `json:"requiresConfirmation"`
}

// Tool is a builtin capability the task router can invoke_tool against.
type Tool interface {
	Definition() Definition
	// PolicyRequest decodes raw arguments into the Request the policy
	// engine evaluates before Invoke ever runs.
	PolicyRequest(raw json.RawMessage) (policy.Request, error)
	Invoke(ctx context.Context, raw json.RawMessage) (any, error)
}

// Registry holds every builtin tool, keyed by ID.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a registry from the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Definition().ID] = t
	}
	return r
}

// Get returns the tool by ID.
func (r *Registry) Get(id string) (Tool, bool) {
	t, ok := r.tools[id]
	return t, ok
}

// Definitions returns every registered tool's definition, for list_tools.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition())
	}
	return out
}
