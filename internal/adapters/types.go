// Package adapters - uniform completion contract over external model providers.
//
// DESIGN: Every provider is wrapped by exactly one Adapter implementing
// Complete(ctx, CompletionRequest) -> *CompletionResponse. Adapters are
// registered in a Registry keyed by the closed Provider enum; call sites
// never switch on provider names themselves. Retry/backoff policy is shared
// (retry.go) and applies inside a single Complete call, bounded by the
// request timeout.
package adapters

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// PROVIDER TYPES - Closed enum used for identification and routing
// =============================================================================

// Provider identifies which completion backend an adapter wraps.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderBedrock   Provider = "bedrock"
	ProviderOllama    Provider = "ollama"
	ProviderMock      Provider = "mock"
	ProviderUnknown   Provider = "unknown"
)

// String returns the provider name.
func (p Provider) String() string {
	return string(p)
}

// ProviderFromString converts a string to a Provider type.
// Unknown names map to ProviderUnknown so callers can reject them at the boundary.
func ProviderFromString(s string) Provider {
	switch s {
	case "anthropic":
		return ProviderAnthropic
	case "openai":
		return ProviderOpenAI
	case "bedrock":
		return ProviderBedrock
	case "ollama":
		return ProviderOllama
	case "mock":
		return ProviderMock
	default:
		return ProviderUnknown
	}
}

// =============================================================================
// REQUEST / RESPONSE TYPES - The uniform completion contract
// =============================================================================

// ResponseFormat constrains the shape of the completion output.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// CompletionRequest is the provider-independent completion request.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64

	// Timeout bounds the whole Complete call, internal retries included.
	// Zero means defaultTimeout.
	Timeout time.Duration

	// ResponseFormat selects text or JSON output. Providers with a native
	// JSON mode use it; the rest get an instruction appended to the system
	// prompt.
	ResponseFormat ResponseFormat

	// ExtraParams are agent-declared provider parameters (top_p, stop
	// sequences, ...) applied onto the serialized request body.
	ExtraParams map[string]any
}

// UsageInfo holds normalized token usage extracted from a provider response.
type UsageInfo struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// normalizeUsage derives a missing total as input+output.
func normalizeUsage(u UsageInfo) UsageInfo {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

// CompletionResponse is the uniform result of a successful completion.
type CompletionResponse struct {
	Content   string
	Usage     UsageInfo
	LatencyMs int64
}

// Adapter is the uniform contract over one external completion backend.
type Adapter interface {
	// Provider returns the backend this adapter wraps.
	Provider() Provider

	// Complete performs one completion, enforcing the request timeout via a
	// cancellable request and retrying at most once on transient failures.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// =============================================================================
// ADAPTER OPTIONS - Shared construction knobs
// =============================================================================

// Options configures a concrete adapter.
type Options struct {
	// APIKey authenticates against the provider. Unused by bedrock (SigV4)
	// and ollama.
	APIKey string

	// BaseURL overrides the provider default endpoint (testing, proxies,
	// self-hosted ollama).
	BaseURL string

	// Region selects the AWS region for bedrock.
	Region string

	// MaxRPS caps outbound requests per second to protect upstream quotas.
	// Zero disables the throttle.
	MaxRPS float64

	// HTTPClient overrides the default client (tests inject httptest here).
	HTTPClient *http.Client
}

// newThrottle builds the optional client-side limiter for an adapter.
func newThrottle(maxRPS float64) *rate.Limiter {
	if maxRPS <= 0 {
		return nil
	}
	burst := int(maxRPS)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(maxRPS), burst)
}
