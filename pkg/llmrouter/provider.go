// Package llmrouter implements the LLM Router (§4.5 C5): model alias
// resolution, priority/health-gated provider selection, retry and
// failover under the reliability primitives of pkg/reliability, streaming,
// and budget enforcement. The provider capability interface follows §9
// "Inheritance of provider adapters": a plain interface any concrete
// adapter satisfies, grounded on nevindra-oasis's Provider{Chat,
// ChatWithTools, ChatStream, Name} shape.
package llmrouter

import (
	"context"
	"time"
)

// Message is one turn in a chat request, mirroring nevindra-oasis's
// ChatRequest.Messages shape generalized across provider wire formats.
type Message struct {
	Role    string
	Content string
}

// Request is a chat call routed through Route.
type Request struct {
	Model            string
	Messages         []Message
	Stream           bool
	EstimatedTokens  int
	ProviderOverride string // bypasses alias resolution when set (internal use)
}

// Usage reports token consumption for a completed call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result is what Route returns on success (§4.5 step 3: "attach {requestId,
// providerId, latencyMs, retryCount, failoverCount} and return").
type Result struct {
	Content       string
	Model         string
	Usage         Usage
	RequestID     string
	ProviderID    string
	LatencyMs     int64
	RetryCount    int
	FailoverCount int
	Stream        *StreamResult
}

// StreamResult accumulates a streamed response (§4.5 "Streaming").
type StreamResult struct {
	Content            string
	Model              string
	Usage              Usage
	TimeToFirstChunkMs int64
	TotalDurationMs    int64
	ChunkCount         int
}

// Provider is the capability interface every concrete LLM adapter
// satisfies (§9 design notes).
type Provider interface {
	ID() string
	Name() string
	Models() []string
	IsAvailable(ctx context.Context) bool
	Chat(ctx context.Context, req Request) (Result, error)
	// ChatStream is optional; adapters that don't support streaming return
	// (Result{}, false, nil) so Route falls back to a non-streaming call.
	ChatStream(ctx context.Context, req Request, onChunk func(delta string)) (Result, bool, error)
}

// handles returns true if p advertises model among its Models().
func handles(p Provider, model string) bool {
	for _, m := range p.Models() {
		if m == model {
			return true
		}
	}
	return false
}

var nowFunc = time.Now
