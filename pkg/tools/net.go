package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/agentkernel/gateway/pkg/policy"
)

// httpArgs is the invoke_tool argument shape for the net.fetch tool.
type httpArgs struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
}

// FetchTool issues an HTTP GET/HEAD against an allow-listed host, gated on
// a policy "network" check the same way the agent's container runtime
// disables networking by default (§4.6) unless the policy explicitly opts
// a host in.
type FetchTool struct {
	Client *http.Client
}

func (FetchTool) Definition() Definition {
	return Definition{ID: "builtin:net_fetch", Description: "Fetch a URL over HTTP", Category: "network", RequiresConfirmation: false}
}

func (FetchTool) PolicyRequest(raw json.RawMessage) (policy.Request, error) {
	var a httpArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("net.fetch: %w", err)
	}
	u, err := url.Parse(a.URL)
	if err != nil {
		return nil, fmt.Errorf("net.fetch: invalid url: %w", err)
	}
	return policy.NetworkRequest{Host: u.Hostname(), Protocol: u.Scheme}, nil
}

func (t FetchTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var a httpArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	method := a.Method
	if method == "" {
		method = http.MethodGet
	}

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, method, a.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": resp.StatusCode, "body": string(body)}, nil
}
