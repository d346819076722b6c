package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetModelPricing(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		expected ModelPricing
	}{
		{
			name:     "Exact match",
			model:    "claude-haiku-4-5",
			expected: ModelPricing{InputPerMTok: 1, OutputPerMTok: 5},
		},
		{
			name:     "Undated release falls to family",
			model:    "claude-sonnet-4-5-20991231",
			expected: ModelPricing{InputPerMTok: 3, OutputPerMTok: 15},
		},
		{
			name:     "Longest prefix wins over broad family",
			model:    "claude-3-haiku-xyz",
			expected: ModelPricing{InputPerMTok: 0.25, OutputPerMTok: 1.25},
		},
		{
			name:     "Bedrock id normalized",
			model:    "us.anthropic.claude-sonnet-4-5-v1:0",
			expected: ModelPricing{InputPerMTok: 3, OutputPerMTok: 15},
		},
		{
			name:     "Ollama tag priced as base model",
			model:    "llama3.1:8b",
			expected: ModelPricing{},
		},
		{
			name:     "Unknown model gets conservative default",
			model:    "totally-new-model",
			expected: defaultPricing,
		},
		{
			name:     "GPT-4 broad family",
			model:    "gpt-4-turbo",
			expected: ModelPricing{InputPerMTok: 10, OutputPerMTok: 30},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetModelPricing(tt.model))
		})
	}
}

func TestCalculateCost(t *testing.T) {
	pricing := ModelPricing{InputPerMTok: 3, OutputPerMTok: 15}

	// 1M input + 1M output at sonnet rates.
	assert.InDelta(t, 18.0, CalculateCost(1_000_000, 1_000_000, pricing), 1e-9)

	// Small counts scale linearly.
	assert.InDelta(t, 0.0039, CalculateCost(800, 100, pricing), 1e-9)

	assert.Zero(t, CalculateCost(0, 0, pricing))
}

func TestCostFor(t *testing.T) {
	// Local models cost nothing regardless of volume.
	assert.Zero(t, CostFor("llama3.1:70b", 1_000_000, 1_000_000))

	assert.InDelta(t, 18.0, CostFor("claude-sonnet-4-5", 1_000_000, 1_000_000), 1e-9)
}
