package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const openaiDefaultBaseURL = "https://api.openai.com"

// OpenAIAdapter wraps the OpenAI Chat Completions API.
type OpenAIAdapter struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	throttle *rate.Limiter
}

// NewOpenAIAdapter creates an adapter for the Chat Completions API.
func NewOpenAIAdapter(opts Options) *OpenAIAdapter {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = openaiDefaultBaseURL
	}
	return &OpenAIAdapter{
		apiKey:   opts.APIKey,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		client:   newHTTPClient(opts.HTTPClient),
		throttle: newThrottle(opts.MaxRPS),
	}
}

// Provider returns the provider type.
func (a *OpenAIAdapter) Provider() Provider {
	return ProviderOpenAI
}

// Complete performs one completion against the Chat Completions API.
func (a *OpenAIAdapter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("openai: %w: missing API key", ErrNotConfigured)
	}

	ctx, cancel := context.WithTimeout(ctx, attemptTimeout(req.Timeout))
	defer cancel()

	return doWithRetry(ctx, func(ctx context.Context) (*CompletionResponse, error) {
		return a.complete(ctx, req)
	})
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponseFormat struct {
	Type string `json:"type"`
}

type oaiRequest struct {
	Model          string             `json:"model"`
	Messages       []oaiMessage       `json:"messages"`
	MaxTokens      int                `json:"max_tokens,omitempty"`
	Temperature    float64            `json:"temperature"`
	ResponseFormat *oaiResponseFormat `json:"response_format,omitempty"`
}

func (a *OpenAIAdapter) complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := waitThrottle(ctx, a.throttle, ProviderOpenAI); err != nil {
		return nil, err
	}

	messages := make([]oaiMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: req.UserPrompt})

	body := oaiRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.ResponseFormat == FormatJSON {
		body.ResponseFormat = &oaiResponseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: encoding request: %w", err)
	}
	payload, err = applyExtraParams(payload, req.ExtraParams)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := readBody(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Message: fmt.Sprintf("reading response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	content := gjson.GetBytes(raw, "choices.0.message.content").String()
	if strings.TrimSpace(content) == "" {
		return nil, errEmptyResponse(ProviderOpenAI)
	}

	usage := normalizeUsage(UsageInfo{
		InputTokens:  int(gjson.GetBytes(raw, "usage.prompt_tokens").Int()),
		OutputTokens: int(gjson.GetBytes(raw, "usage.completion_tokens").Int()),
		TotalTokens:  int(gjson.GetBytes(raw, "usage.total_tokens").Int()),
	})

	return &CompletionResponse{
		Content:   content,
		Usage:     usage,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

var _ Adapter = (*OpenAIAdapter)(nil)
