package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kgforge/kgforge/internal/config"
	"github.com/kgforge/kgforge/internal/limiter"
)

const (
	upstreamTimeout  = 120 * time.Second
	maxResponseBytes = 10 << 20 // 10 MB
	defaultBaseURL   = "https://api.openai.com/v1"
)

// apiClient is the shared plumbing for the OpenAI-compatible chat and
// embeddings endpoints.
type apiClient struct {
	baseURL string
	apiKey  config.Secret
	client  *http.Client
}

func newAPIClient(baseURL string, apiKey config.Secret) *apiClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: upstreamTimeout},
	}
}

// post sends a JSON request and decodes the JSON response into out.
// Non-2xx statuses become HTTPStatusError so the limiter can classify them.
func (c *apiClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", path, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey.Value())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048)) //nolint:errcheck // best-effort error body

		return &limiter.HTTPStatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	limited := io.LimitReader(resp.Body, maxResponseBytes)
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}

	return nil
}

// usage mirrors the token accounting block of OpenAI-compatible responses.
type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatClient calls the chat-completions endpoint.
type ChatClient struct {
	api               *apiClient
	model             string
	maxTokens         int
	temperature       float64
	repetitionPenalty float64
}

// NewChatClient creates a ChatClient from the LLM configuration.
func NewChatClient(cfg config.LLMConfig, apiKey config.Secret) *ChatClient {
	return &ChatClient{
		api:               newAPIClient(cfg.APIBaseURL, apiKey),
		model:             cfg.Model,
		maxTokens:         cfg.MaxTokens,
		temperature:       cfg.Temperature,
		repetitionPenalty: cfg.RepetitionPenalty,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model             string         `json:"model"`
	Messages          []chatMessage  `json:"messages"`
	Temperature       float64        `json:"temperature"`
	MaxTokens         int            `json:"max_tokens,omitempty"`
	RepetitionPenalty float64        `json:"repetition_penalty,omitempty"`
	ResponseFormat    map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage usage `json:"usage"`
}

// Complete sends a system+user prompt and returns the assistant text plus
// actual token usage (-1 when the upstream reported none).
func (c *ChatClient) Complete(ctx context.Context, system, user string) (string, int, error) {
	req := chatRequest{
		Model:             c.model,
		Temperature:       c.temperature,
		MaxTokens:         c.maxTokens,
		RepetitionPenalty: c.repetitionPenalty,
		ResponseFormat:    map[string]any{"type": "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	var resp chatResponse
	if err := c.api.post(ctx, "/chat/completions", req, &resp); err != nil {
		return "", -1, err
	}

	if len(resp.Choices) == 0 {
		return "", tokensOrUnknown(resp.Usage), fmt.Errorf("chat completion returned no choices")
	}

	return resp.Choices[0].Message.Content, tokensOrUnknown(resp.Usage), nil
}

// EmbeddingsClient calls the embeddings endpoint.
type EmbeddingsClient struct {
	api   *apiClient
	model string
}

// NewEmbeddingsClient creates an EmbeddingsClient from the embeddings
// configuration.
func NewEmbeddingsClient(cfg config.EmbeddingsConfig, apiKey config.Secret) *EmbeddingsClient {
	return &EmbeddingsClient{
		api:   newAPIClient(cfg.APIBaseURL, apiKey),
		model: cfg.Model,
	}
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage usage `json:"usage"`
}

// Embed returns one vector per input text, in input order, plus actual token
// usage (-1 when unreported).
func (c *EmbeddingsClient) Embed(ctx context.Context, texts []string) ([][]float64, int, error) {
	var resp embeddingsResponse
	if err := c.api.post(ctx, "/embeddings", embeddingsRequest{Model: c.model, Input: texts}, &resp); err != nil {
		return nil, -1, err
	}

	if len(resp.Data) != len(texts) {
		return nil, tokensOrUnknown(resp.Usage), fmt.Errorf("embeddings returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, tokensOrUnknown(resp.Usage), fmt.Errorf("embeddings returned out-of-range index %d", d.Index)
		}

		out[d.Index] = d.Embedding
	}

	return out, tokensOrUnknown(resp.Usage), nil
}

func tokensOrUnknown(u usage) int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}

	return -1
}

// estimateTokens is the entry estimate for the TPM budget, reconciled against
// reported usage after the call. Four bytes per token is the usual rough cut.
func estimateTokens(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += len(t)
	}

	return total/4 + 1
}
