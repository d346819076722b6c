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

const ollamaDefaultBaseURL = "http://localhost:11434"

// OllamaAdapter wraps a local Ollama server's /api/chat endpoint.
// Ollama reports usage as prompt_eval_count/eval_count rather than the
// OpenAI-style prompt_tokens/completion_tokens, so usage extraction checks
// the native fields first and falls back to the OpenAI names (some Ollama
// versions return them).
type OllamaAdapter struct {
	baseURL  string
	client   *http.Client
	throttle *rate.Limiter
}

// NewOllamaAdapter creates an adapter for a local Ollama server.
func NewOllamaAdapter(opts Options) *OllamaAdapter {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}
	return &OllamaAdapter{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		client:   newHTTPClient(opts.HTTPClient),
		throttle: newThrottle(opts.MaxRPS),
	}
}

// Provider returns the provider type.
func (a *OllamaAdapter) Provider() Provider {
	return ProviderOllama
}

// Complete performs one completion against /api/chat.
func (a *OllamaAdapter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, attemptTimeout(req.Timeout))
	defer cancel()

	return doWithRetry(ctx, func(ctx context.Context) (*CompletionResponse, error) {
		return a.complete(ctx, req)
	})
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []oaiMessage  `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  ollamaOptions `json:"options"`
}

func (a *OllamaAdapter) complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := waitThrottle(ctx, a.throttle, ProviderOllama); err != nil {
		return nil, err
	}

	messages := make([]oaiMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: req.UserPrompt})

	body := ollamaRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   false,
		Options:  ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	}
	if req.ResponseFormat == FormatJSON {
		body.Format = "json"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: encoding request: %w", err)
	}
	payload, err = applyExtraParams(payload, req.ExtraParams)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOllama, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := readBody(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOllama, Message: fmt.Sprintf("reading response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: ProviderOllama, StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	content := gjson.GetBytes(raw, "message.content").String()
	if strings.TrimSpace(content) == "" {
		return nil, errEmptyResponse(ProviderOllama)
	}

	return &CompletionResponse{
		Content:   content,
		Usage:     ollamaUsage(raw),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// ollamaUsage extracts token usage, trying the Ollama-native fields first
// and the OpenAI names as a fallback.
func ollamaUsage(raw []byte) UsageInfo {
	in := int(gjson.GetBytes(raw, "prompt_eval_count").Int())
	out := int(gjson.GetBytes(raw, "eval_count").Int())
	if in == 0 && out == 0 {
		in = int(gjson.GetBytes(raw, "usage.prompt_tokens").Int())
		out = int(gjson.GetBytes(raw, "usage.completion_tokens").Int())
	}
	return normalizeUsage(UsageInfo{InputTokens: in, OutputTokens: out})
}

var _ Adapter = (*OllamaAdapter)(nil)
