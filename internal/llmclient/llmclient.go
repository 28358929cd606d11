// Package llmclient is the thin HTTP client boundary between the
// DiagnosticEngine/RetrievalIndex and an OpenAI-compatible chat/embeddings
// backend. See spec.md §6 (collaborator interfaces) and §5 (timeouts).
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pumpguard/internal/apierr"
	"pumpguard/internal/telemetry/tracing"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a logical completion request; Provider implementations map
// it onto whatever wire shape their backend expects.
type ChatRequest struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the provider's textual completion.
type ChatResponse struct {
	Content string
}

// Provider is the minimal contract the DiagnosticEngine needs from an LLM
// backend, letting tests substitute a fake without a live network call.
type Provider interface {
	Complete(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// Embedder produces vector embeddings for chunked text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// HTTPProvider talks to an OpenAI-compatible /chat/completions endpoint.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider constructs a Provider bound to baseURL (e.g.
// "https://api.openai.com/v1") using apiKey for bearer auth.
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete invokes the chat completion endpoint. The caller's ctx should
// already carry a <=30s deadline per spec.md §5; Complete does not impose
// its own beyond the underlying http.Client timeout.
func (p *HTTPProvider) Complete(ctx context.Context, req ChatRequest) (resp ChatResponse, err error) {
	ctx, span := tracing.Start(ctx, "llm.complete", map[string]any{"model": req.Model})
	defer func() {
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		span.End()
	}()

	body, err := json.Marshal(chatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return ChatResponse{}, apierr.Wrap(apierr.InternalError, "cannot encode chat request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, apierr.Wrap(apierr.InternalError, "cannot build chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, apierr.Wrap(apierr.LLMUnavailable, "chat completion request failed", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(httpResp.Body, 2048))
		return ChatResponse{}, apierr.New(apierr.LLMUnavailable, fmt.Sprintf("chat completion returned %d: %s", httpResp.StatusCode, string(data)))
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return ChatResponse{}, apierr.Wrap(apierr.LLMUnavailable, "cannot decode chat completion response", err)
	}
	if len(parsed.Choices) == 0 {
		return ChatResponse{}, apierr.New(apierr.LLMUnavailable, "chat completion returned no choices")
	}
	return ChatResponse{Content: parsed.Choices[0].Message.Content}, nil
}

// HTTPEmbedder talks to an OpenAI-compatible /embeddings endpoint.
type HTTPEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPEmbedder constructs an Embedder bound to baseURL using apiKey for
// bearer auth and model as the embedding model identifier.
func NewHTTPEmbedder(baseURL, apiKey, model string) *HTTPEmbedder {
	return &HTTPEmbedder{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed requests embeddings for a batch of chunk texts. The caller's ctx
// should already carry a <=10s-per-batch deadline per spec.md §5.
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) (vecs [][]float64, err error) {
	ctx, span := tracing.Start(ctx, "embedder.embed", map[string]any{"model": e.model, "batch_size": len(texts)})
	defer func() {
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		span.End()
	}()

	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "cannot encode embedding request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "cannot build embedding request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	// Errors here are deliberately NOT wrapped in apierr: the same failure
	// means IndexBuildFailed during index construction but RetrievalUnavailable
	// during a query, a distinction only the RetrievalIndex caller can make.
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("cannot decode embedding response: %w", err)
	}
	out := make([][]float64, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
