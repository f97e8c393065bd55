package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHFModel is the hosted model used for grounded extraction. A low
// temperature and a tight output bound keep the answers extractive.
const DefaultHFModel = "HuggingFaceH4/zephyr-7b-beta"

// HuggingFaceProvider implements Provider against the Hugging Face
// inference router, which exposes an OpenAI-compatible chat completions API.
type HuggingFaceProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// HFOption configures the Hugging Face provider.
type HFOption func(*HuggingFaceProvider)

// WithHFBaseURL sets a custom base URL (e.g., for tests or proxies).
func WithHFBaseURL(url string) HFOption {
	return func(p *HuggingFaceProvider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithHFModel sets the default model.
func WithHFModel(model string) HFOption {
	return func(p *HuggingFaceProvider) { p.model = model }
}

// WithHFHTTPClient sets a custom HTTP client.
func WithHFHTTPClient(client *http.Client) HFOption {
	return func(p *HuggingFaceProvider) { p.client = client }
}

// NewHuggingFaceProvider creates a Hugging Face provider. The API token is
// required: credential checks happen here, at construction, not in ambient
// process state.
func NewHuggingFaceProvider(apiKey string, opts ...HFOption) (*HuggingFaceProvider, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	p := &HuggingFaceProvider{
		apiKey:  apiKey,
		baseURL: "https://router.huggingface.co/v1",
		model:   DefaultHFModel,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *HuggingFaceProvider) Name() string { return ProviderHuggingFace }

// Ping verifies the API token by listing models.
func (p *HuggingFaceProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderDown, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: invalid API token", ErrNoAPIKey)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrProviderDown, resp.StatusCode)
	}
	return nil
}

// Chat sends a chat completion request to the Hugging Face router.
func (p *HuggingFaceProvider) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	start := time.Now()
	model := p.resolveModel(opts)

	body := p.buildRequest(messages, model, opts)
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("huggingface: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderDown, err)
	}
	defer resp.Body.Close()

	if err := p.checkError(resp); err != nil {
		return nil, err
	}

	var result hfChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("huggingface: decode response: %w", err)
	}

	return p.parseResponse(&result, start), nil
}

// ── Internal Types ──

type hfChatRequest struct {
	Model       string      `json:"model"`
	Messages    []hfMessage `json:"messages"`
	Temperature *float64    `json:"temperature,omitempty"`
	MaxTokens   *int        `json:"max_tokens,omitempty"`
}

type hfMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type hfChatResponse struct {
	ID      string     `json:"id"`
	Choices []hfChoice `json:"choices"`
	Usage   hfUsage    `json:"usage"`
	Model   string     `json:"model"`
}

type hfChoice struct {
	Index        int       `json:"index"`
	Message      hfMessage `json:"message"`
	FinishReason string    `json:"finish_reason"`
}

type hfUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type hfErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// ── Helpers ──

func (p *HuggingFaceProvider) resolveModel(opts *ChatOptions) string {
	if opts != nil && opts.Model != "" {
		return opts.Model
	}
	return p.model
}

func (p *HuggingFaceProvider) buildRequest(messages []Message, model string, opts *ChatOptions) hfChatRequest {
	r := hfChatRequest{
		Model:    model,
		Messages: make([]hfMessage, len(messages)),
	}
	for i, m := range messages {
		r.Messages[i] = hfMessage{Role: string(m.Role), Content: m.Content}
	}
	if opts != nil {
		if opts.Temperature > 0 {
			r.Temperature = &opts.Temperature
		}
		if opts.MaxTokens > 0 {
			r.MaxTokens = &opts.MaxTokens
		}
	}
	return r
}

func (p *HuggingFaceProvider) checkError(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr hfErrorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrNoAPIKey, apiErr.Error.Message)
		case http.StatusTooManyRequests, 529:
			return fmt.Errorf("%w: %s", ErrRateLimit, apiErr.Error.Message)
		case http.StatusBadRequest:
			if strings.Contains(apiErr.Error.Code, "context_length") {
				return fmt.Errorf("%w: %s", ErrContextLength, apiErr.Error.Message)
			}
			if strings.Contains(apiErr.Error.Code, "model_not_found") {
				return fmt.Errorf("%w: %s", ErrInvalidModel, apiErr.Error.Message)
			}
		}
		return fmt.Errorf("huggingface: API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
	}
	return fmt.Errorf("huggingface: HTTP %d: %s", resp.StatusCode, string(body))
}

func (p *HuggingFaceProvider) parseResponse(raw *hfChatResponse, start time.Time) *Response {
	r := &Response{
		Model:    raw.Model,
		Provider: ProviderHuggingFace,
		Latency:  time.Since(start),
		Usage: Usage{
			PromptTokens:     raw.Usage.PromptTokens,
			CompletionTokens: raw.Usage.CompletionTokens,
			TotalTokens:      raw.Usage.TotalTokens,
		},
	}
	if len(raw.Choices) > 0 {
		choice := raw.Choices[0]
		r.Content = choice.Message.Content
		r.FinishReason = mapFinishReason(choice.FinishReason)
	}
	return r
}

func mapFinishReason(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	default:
		return FinishReason(reason)
	}
}
