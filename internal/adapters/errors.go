package adapters

import (
	"errors"
	"fmt"
	"strings"
)

// ProviderError is a failure reported by (or on the way to) a provider.
// StatusCode is zero for transport-level failures.
type ProviderError struct {
	Provider   Provider
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// errEmptyResponse flags a blank completion body. A provider that answers
// with nothing has failed; it is never a vacuous success.
func errEmptyResponse(p Provider) error {
	return fmt.Errorf("%s returned an empty response", p)
}

// ErrNotConfigured marks attempts against a provider that has no usable
// configuration (missing API key, unregistered adapter). The gateway uses it
// to tell configuration problems apart from transient provider failures.
var ErrNotConfigured = errors.New("provider not configured")

// retryableStatuses are the HTTP statuses worth one more attempt.
var retryableStatuses = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// retryablePhrases mark transient-sounding failure text.
var retryablePhrases = []string{
	"timeout",
	"timed out",
	"rate limit",
	"overloaded",
	"temporarily unavailable",
	"try again",
	"connection reset",
	"connection refused",
	"too many requests",
}

// IsRetryable classifies a completion failure. Retryable means HTTP
// 429/500/502/503/504 or transient-sounding error text; everything else
// (malformed request, auth failure, contract violations) is terminal for
// the attempt loop.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) && retryableStatuses[pe.StatusCode] {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range retryablePhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
