package adapters

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockResponse scripts one MockAdapter reply.
type MockResponse struct {
	Content string
	Usage   UsageInfo
	Err     error
	Delay   time.Duration
}

// MockAdapter is a scriptable in-process adapter for tests and local dev.
// It replays the configured responses in order and repeats the last one when
// the script runs out; every request is recorded for assertions.
type MockAdapter struct {
	mu        sync.Mutex
	responses []MockResponse
	callIndex int
	calls     []CompletionRequest
}

// NewMockAdapter creates a mock adapter with scripted responses.
func NewMockAdapter(responses ...MockResponse) *MockAdapter {
	return &MockAdapter{responses: responses}
}

// Provider returns the provider type.
func (m *MockAdapter) Provider() Provider {
	return ProviderMock
}

// Complete replays the next scripted response.
func (m *MockAdapter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	var resp MockResponse
	switch {
	case len(m.responses) == 0:
		resp = MockResponse{Content: "mock response", Usage: UsageInfo{InputTokens: 1, OutputTokens: 1}}
	case m.callIndex < len(m.responses):
		resp = m.responses[m.callIndex]
		m.callIndex++
	default:
		resp = m.responses[len(m.responses)-1]
	}
	m.mu.Unlock()

	if resp.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(resp.Delay):
		}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil, errEmptyResponse(ProviderMock)
	}
	return &CompletionResponse{
		Content: resp.Content,
		Usage:   normalizeUsage(resp.Usage),
	}, nil
}

// Calls returns a copy of every request seen so far.
func (m *MockAdapter) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset clears recorded calls and rewinds the script.
func (m *MockAdapter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callIndex = 0
}

var _ Adapter = (*MockAdapter)(nil)
