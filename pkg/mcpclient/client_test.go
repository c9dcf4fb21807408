package mcpclient

import (
	"context"
	"encoding/json"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/gateway/pkg/config"
)

var emptySchema = json.RawMessage(`{"type":"object"}`)

type testMCPServer struct {
	clientTransport *mcpsdk.InMemoryTransport
}

func startTestServer(t *testing.T, name string, toolDefs map[string]mcpsdk.ToolHandler) *testMCPServer {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: "test"}, nil)
	for toolName, handler := range toolDefs {
		server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "test tool: " + toolName,
			InputSchema: emptySchema,
		}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	go func() { _ = server.Run(context.Background(), serverTransport) }()

	return &testMCPServer{clientTransport: clientTransport}
}

// connectClientDirect wires a Client's session directly to an in-memory
// transport, bypassing the registry/createTransport path for unit testing.
func connectClientDirect(t *testing.T, serverID string, transport *mcpsdk.InMemoryTransport) *Client {
	t.Helper()
	ctx := context.Background()

	client := NewClient(config.NewMCPServerRegistry(nil))

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "gateway-test", Version: "test"}, nil)
	session, err := sdkClient.Connect(ctx, transport, nil)
	require.NoError(t, err)

	client.mu.Lock()
	client.sessions[serverID] = session
	client.clients[serverID] = sdkClient
	client.mu.Unlock()

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func okResult(text string) (*mcpsdk.CallToolResult, error) {
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}}}, nil
}

func TestClient_ListTools(t *testing.T) {
	ts := startTestServer(t, "search", map[string]mcpsdk.ToolHandler{
		"search_docs": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return okResult("ok")
		},
		"search_code": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return okResult("ok")
		},
	})

	client := connectClientDirect(t, "search", ts.clientTransport)
	toolList, err := client.ListTools(context.Background(), "search")
	require.NoError(t, err)
	assert.Len(t, toolList, 2)
}

func TestClient_ListTools_Cached(t *testing.T) {
	ts := startTestServer(t, "search", map[string]mcpsdk.ToolHandler{
		"search_docs": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return okResult("ok")
		},
	})

	client := connectClientDirect(t, "search", ts.clientTransport)
	ctx := context.Background()

	first, err := client.ListTools(ctx, "search")
	require.NoError(t, err)
	second, err := client.ListTools(ctx, "search")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestClient_CallTool(t *testing.T) {
	ts := startTestServer(t, "search", map[string]mcpsdk.ToolHandler{
		"search_docs": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return okResult("result-1\nresult-2")
		},
	})

	client := connectClientDirect(t, "search", ts.clientTransport)
	result, err := client.CallTool(context.Background(), "search", "search_docs", map[string]any{"query": "foo"})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	tc, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Equal(t, "result-1\nresult-2", tc.Text)
}

func TestClient_CallTool_UnknownServer(t *testing.T) {
	client := NewClient(config.NewMCPServerRegistry(nil))
	_, err := client.CallTool(context.Background(), "missing", "anything", nil)
	assert.Error(t, err)
}

func TestClient_ListAllTools_UnionsAcrossServers(t *testing.T) {
	search := startTestServer(t, "search", map[string]mcpsdk.ToolHandler{
		"search_docs": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return okResult("ok")
		},
	})
	files := startTestServer(t, "files", map[string]mcpsdk.ToolHandler{
		"read_file": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return okResult("ok")
		},
	})

	client := NewClient(config.NewMCPServerRegistry(nil))
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sdkClient1 := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "gateway-test", Version: "test"}, nil)
	session1, err := sdkClient1.Connect(ctx, search.clientTransport, nil)
	require.NoError(t, err)
	sdkClient2 := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "gateway-test", Version: "test"}, nil)
	session2, err := sdkClient2.Connect(ctx, files.clientTransport, nil)
	require.NoError(t, err)

	client.mu.Lock()
	client.sessions["search"] = session1
	client.clients["search"] = sdkClient1
	client.sessions["files"] = session2
	client.clients["files"] = sdkClient2
	client.mu.Unlock()

	byServer, err := client.ListAllTools(ctx)
	require.NoError(t, err)
	assert.Len(t, byServer, 2)
	assert.Len(t, byServer["search"], 1)
	assert.Len(t, byServer["files"], 1)
}

func TestLister_ListTools_ProducesNamespacedDefinitions(t *testing.T) {
	ts := startTestServer(t, "search", map[string]mcpsdk.ToolHandler{
		"search_docs": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return okResult("ok")
		},
	})
	client := connectClientDirect(t, "search", ts.clientTransport)

	lister := NewLister(client)
	defs, err := lister.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "mcp:search:search_docs", defs[0].ID)
	assert.True(t, defs[0].RequiresConfirmation)
}

func TestToolAdapter_Invoke(t *testing.T) {
	ts := startTestServer(t, "search", map[string]mcpsdk.ToolHandler{
		"search_docs": func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return okResult("matched")
		},
	})
	client := connectClientDirect(t, "search", ts.clientTransport)

	adapter := NewToolAdapter(client, "search", "search_docs", "search the docs", nil)
	assert.Equal(t, "mcp:search:search_docs", adapter.Definition().ID)
	assert.True(t, adapter.Definition().RequiresConfirmation)

	preq, err := adapter.PolicyRequest(json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Nil(t, preq)

	result, err := adapter.Invoke(context.Background(), json.RawMessage(`{"query":"foo"}`))
	require.NoError(t, err)
	cr, ok := result.(*mcpsdk.CallToolResult)
	require.True(t, ok)
	tc, ok := cr.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Equal(t, "matched", tc.Text)
}

func TestClient_InitializeServer_NotFoundRecordsFailure(t *testing.T) {
	client := NewClient(config.NewMCPServerRegistry(nil))
	err := client.InitializeServer(context.Background(), "missing")
	assert.Error(t, err)
	assert.False(t, client.HasSession("missing"))
}
