// Package estimate sizes token reservations before a provider call.
package estimate

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/agentlane/execution-gateway/internal/config"
)

// Estimator counts prompt tokens. It uses the cl100k_base encoding when
// available and falls back to a character ratio when the encoding can't be
// loaded (e.g. no network to fetch the vocabulary on first use).
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// New creates an estimator. The fallback path is not an error condition;
// reservations only need to be roughly right.
func New() *Estimator {
	enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	if err != nil {
		log.Warn().Err(err).Msg("estimate: encoding unavailable, using character ratio")
		return &Estimator{}
	}
	return &Estimator{enc: enc}
}

// Count returns the token count for text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e.enc == nil {
		return len(text) / config.TokenEstimateRatio
	}
	return len(e.enc.Encode(text, nil, nil))
}

// ForCall sizes the reservation for one execution. A declared per-call
// estimate on the agent definition wins; otherwise the prompt count plus
// the response ceiling is used.
func (e *Estimator) ForCall(declared int, systemPrompt, userPrompt string, maxTokens int) int {
	if declared > 0 {
		return declared
	}
	total := e.Count(systemPrompt) + e.Count(userPrompt) + maxTokens
	if total < 1 {
		total = 1
	}
	return total
}
