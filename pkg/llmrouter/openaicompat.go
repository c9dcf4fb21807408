package llmrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAICompatProvider implements Provider against any OpenAI-compatible
// chat completions endpoint, grounded on nevindra-oasis's
// provider/openaicompat.Provider (body building, HTTP dispatch, response
// parsing collapsed into the router's own Provider contract instead of
// oasis.Provider's four-method shape).
type OpenAICompatProvider struct {
	id      string
	name    string
	model   string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenAICompatProvider creates a provider bound to one model at baseURL.
func NewOpenAICompatProvider(id, name, model, baseURL, apiKey string) *OpenAICompatProvider {
	return &OpenAICompatProvider{
		id: id, name: name, model: model, baseURL: baseURL, apiKey: apiKey,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *OpenAICompatProvider) ID() string      { return p.id }
func (p *OpenAICompatProvider) Name() string    { return p.name }
func (p *OpenAICompatProvider) Models() []string { return []string{p.model} }

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string                   `json:"model"`
	Messages []chatCompletionMessage  `json:"messages"`
	Stream   bool                     `json:"stream,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAICompatProvider) toBody(req Request) chatCompletionRequest {
	msgs := make([]chatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = chatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return chatCompletionRequest{Model: p.model, Messages: msgs}
}

// Chat sends a non-streaming request and parses the complete response.
func (p *OpenAICompatProvider) Chat(ctx context.Context, req Request) (Result, error) {
	body := p.toBody(req)
	resp, err := p.send(ctx, body)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("llmrouter: provider %s returned %d: %s", p.id, resp.StatusCode, data)
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("llmrouter: parse response from %s: %w", p.id, err)
	}
	content := ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}
	return Result{
		Content: content,
		Model:   p.model,
		Usage: Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

// ChatStream is not implemented by this adapter; Route falls back to Chat.
func (p *OpenAICompatProvider) ChatStream(ctx context.Context, req Request, onChunk func(string)) (Result, bool, error) {
	return Result{}, false, nil
}

func (p *OpenAICompatProvider) send(ctx context.Context, body chatCompletionRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llmrouter: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("llmrouter: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return p.client.Do(httpReq)
}

// IsAvailable does a lightweight reachability probe (§4.5 health checks).
func (p *OpenAICompatProvider) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
