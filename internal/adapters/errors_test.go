package adapters

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "HTTP 429",
			err:       &ProviderError{Provider: ProviderOpenAI, StatusCode: 429, Message: "quota"},
			retryable: true,
		},
		{
			name:      "HTTP 500",
			err:       &ProviderError{Provider: ProviderAnthropic, StatusCode: 500, Message: "internal"},
			retryable: true,
		},
		{
			name:      "HTTP 502",
			err:       &ProviderError{Provider: ProviderAnthropic, StatusCode: 502, Message: "bad gateway"},
			retryable: true,
		},
		{
			name:      "HTTP 503",
			err:       &ProviderError{Provider: ProviderBedrock, StatusCode: 503, Message: "unavailable"},
			retryable: true,
		},
		{
			name:      "HTTP 504",
			err:       &ProviderError{Provider: ProviderOllama, StatusCode: 504, Message: "gateway timeout"},
			retryable: true,
		},
		{
			name:      "HTTP 400 is terminal",
			err:       &ProviderError{Provider: ProviderOpenAI, StatusCode: 400, Message: "bad request"},
			retryable: false,
		},
		{
			name:      "HTTP 401 is terminal",
			err:       &ProviderError{Provider: ProviderOpenAI, StatusCode: 401, Message: "invalid key"},
			retryable: false,
		},
		{
			name:      "timeout text",
			err:       errors.New("request timed out waiting for upstream"),
			retryable: true,
		},
		{
			name:      "rate limit text",
			err:       errors.New("rate limit reached for model"),
			retryable: true,
		},
		{
			name:      "overloaded text",
			err:       &ProviderError{Provider: ProviderAnthropic, StatusCode: 529, Message: "Overloaded"},
			retryable: true,
		},
		{
			name:      "connection reset text",
			err:       errors.New("read tcp: connection reset by peer"),
			retryable: true,
		},
		{
			name:      "wrapped retryable status",
			err:       fmt.Errorf("attempt failed: %w", &ProviderError{Provider: ProviderOpenAI, StatusCode: 503, Message: "x"}),
			retryable: true,
		},
		{
			name:      "empty response is terminal",
			err:       errEmptyResponse(ProviderAnthropic),
			retryable: false,
		},
		{
			name:      "not configured is terminal",
			err:       fmt.Errorf("openai: %w: missing API key", ErrNotConfigured),
			retryable: false,
		},
		{
			name:      "nil",
			err:       nil,
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestProviderErrorFormat(t *testing.T) {
	withStatus := &ProviderError{Provider: ProviderOpenAI, StatusCode: 429, Message: "slow down"}
	assert.Equal(t, "openai: HTTP 429: slow down", withStatus.Error())

	transport := &ProviderError{Provider: ProviderAnthropic, Message: "dial tcp: refused"}
	assert.Equal(t, "anthropic: dial tcp: refused", transport.Error())
}

func TestEmptyResponseMessage(t *testing.T) {
	err := errEmptyResponse(ProviderOllama)
	assert.EqualError(t, err, "ollama returned an empty response")
}
