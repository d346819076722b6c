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

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// AnthropicAdapter wraps the Anthropic Messages API.
type AnthropicAdapter struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	throttle *rate.Limiter
}

// NewAnthropicAdapter creates an adapter for the Anthropic Messages API.
func NewAnthropicAdapter(opts Options) *AnthropicAdapter {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	return &AnthropicAdapter{
		apiKey:   opts.APIKey,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		client:   newHTTPClient(opts.HTTPClient),
		throttle: newThrottle(opts.MaxRPS),
	}
}

// Provider returns the provider type.
func (a *AnthropicAdapter) Provider() Provider {
	return ProviderAnthropic
}

// Complete performs one completion against the Messages API.
func (a *AnthropicAdapter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("anthropic: %w: missing API key", ErrNotConfigured)
	}

	ctx, cancel := context.WithTimeout(ctx, attemptTimeout(req.Timeout))
	defer cancel()

	return doWithRetry(ctx, func(ctx context.Context) (*CompletionResponse, error) {
		return a.complete(ctx, req)
	})
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

func (a *AnthropicAdapter) complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := waitThrottle(ctx, a.throttle, ProviderAnthropic); err != nil {
		return nil, err
	}

	// Anthropic has no native JSON output switch; the instruction rides in
	// the system prompt instead.
	body := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		System:      systemWithFormat(req.SystemPrompt, req.ResponseFormat),
		Messages:    []anthropicMessage{{Role: "user", Content: req.UserPrompt}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: encoding request: %w", err)
	}
	payload, err = applyExtraParams(payload, req.ExtraParams)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("anthropic: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderAnthropic, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := readBody(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderAnthropic, Message: fmt.Sprintf("reading response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: ProviderAnthropic, StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	content := anthropicText(raw)
	if strings.TrimSpace(content) == "" {
		return nil, errEmptyResponse(ProviderAnthropic)
	}

	usage := normalizeUsage(UsageInfo{
		InputTokens:  int(gjson.GetBytes(raw, "usage.input_tokens").Int()),
		OutputTokens: int(gjson.GetBytes(raw, "usage.output_tokens").Int()),
	})

	return &CompletionResponse{
		Content:   content,
		Usage:     usage,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// anthropicText concatenates the text blocks of a Messages response.
func anthropicText(raw []byte) string {
	var sb strings.Builder
	for _, block := range gjson.GetBytes(raw, "content").Array() {
		if block.Get("type").String() == "text" {
			sb.WriteString(block.Get("text").String())
		}
	}
	return sb.String()
}

var _ Adapter = (*AnthropicAdapter)(nil)
