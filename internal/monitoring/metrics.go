// Package monitoring keeps lightweight in-memory counters for the /stats
// endpoint.
//
// DESIGN: hot-path counters (runs, tokens) are lock-free atomics; the
// per-provider outcome map sees one short mutex hold per attempt. Counters
// reset on restart. For fleet-wide numbers, query run_records instead.
package monitoring

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Collector accumulates process-lifetime run metrics.
type Collector struct {
	startedAt time.Time

	// Terminal outcome counters
	runs      atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	timeouts  atomic.Int64

	// Admission refusals (never reach a provider)
	rateLimited   atomic.Int64
	budgetRefused atomic.Int64

	// Settled usage from committed runs
	inputTokens  atomic.Int64
	outputTokens atomic.Int64
	costMicroUSD atomic.Int64

	mu        sync.Mutex
	providers map[string]*providerOutcomes
}

type providerOutcomes struct {
	Attempts  int64
	Succeeded int64
	Failed    int64
}

// NewCollector creates a collector anchored at the current time.
func NewCollector() *Collector {
	return &Collector{
		startedAt: time.Now(),
		providers: make(map[string]*providerOutcomes),
	}
}

// RecordRun records one terminal outcome by status name.
func (c *Collector) RecordRun(status string) {
	c.runs.Add(1)
	switch status {
	case "success":
		c.successes.Add(1)
	case "timeout":
		c.timeouts.Add(1)
	default:
		c.failures.Add(1)
	}
}

// RecordUsage records settled token usage and cost for a committed run.
func (c *Collector) RecordUsage(inputTokens, outputTokens int, costUSD float64) {
	c.inputTokens.Add(int64(inputTokens))
	c.outputTokens.Add(int64(outputTokens))
	c.costMicroUSD.Add(int64(costUSD * 1e6))
}

// RecordRateLimited counts a request refused at the rate gate.
func (c *Collector) RecordRateLimited() { c.rateLimited.Add(1) }

// RecordBudgetRefused counts a request refused at the budget gate.
func (c *Collector) RecordBudgetRefused() { c.budgetRefused.Add(1) }

// RecordProviderAttempt records one provider call inside the fallback loop.
func (c *Collector) RecordProviderAttempt(provider string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.providers[provider]
	if p == nil {
		p = &providerOutcomes{}
		c.providers[provider] = p
	}
	p.Attempts++
	if ok {
		p.Succeeded++
	} else {
		p.Failed++
	}
}

// StartedAt returns when the collector was created.
func (c *Collector) StartedAt() time.Time { return c.startedAt }

// Snapshot returns all counters in the /stats response shape.
func (c *Collector) Snapshot() StatsResponse {
	uptime := time.Since(c.startedAt)
	in := c.inputTokens.Load()
	out := c.outputTokens.Load()

	c.mu.Lock()
	providers := make(map[string]ProviderStats, len(c.providers))
	for name, p := range c.providers {
		providers[name] = ProviderStats{
			Attempts:  p.Attempts,
			Succeeded: p.Succeeded,
			Failed:    p.Failed,
		}
	}
	c.mu.Unlock()

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     c.startedAt.Format(time.RFC3339),
		Runs: RunStats{
			Total:     c.runs.Load(),
			Succeeded: c.successes.Load(),
			Failed:    c.failures.Load(),
			TimedOut:  c.timeouts.Load(),
		},
		Refusals: RefusalStats{
			RateLimited:   c.rateLimited.Load(),
			BudgetRefused: c.budgetRefused.Load(),
		},
		Tokens: TokenStats{
			Input:  in,
			Output: out,
			Total:  in + out,
		},
		CostUSD:   float64(c.costMicroUSD.Load()) / 1e6,
		Providers: providers,
	}
}

// StatsResponse is the structured response for the /stats endpoint.
type StatsResponse struct {
	Uptime        string                   `json:"uptime"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	StartedAt     string                   `json:"started_at"`
	Runs          RunStats                 `json:"runs"`
	Refusals      RefusalStats             `json:"refusals"`
	Tokens        TokenStats               `json:"tokens"`
	CostUSD       float64                  `json:"cost_usd"`
	Providers     map[string]ProviderStats `json:"providers"`
}

// RunStats holds terminal outcome counts.
type RunStats struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	TimedOut  int64 `json:"timed_out"`
}

// RefusalStats holds admission refusal counts.
type RefusalStats struct {
	RateLimited   int64 `json:"rate_limited"`
	BudgetRefused int64 `json:"budget_refused"`
}

// TokenStats holds settled token usage.
type TokenStats struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

// ProviderStats holds per-provider attempt outcomes.
type ProviderStats struct {
	Attempts  int64 `json:"attempts"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
