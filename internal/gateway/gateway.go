// Package gateway - gateway.go runs the execution state machine.
//
// DESIGN: one request moves through
// authenticate -> validate -> rate check -> reserve -> attempt routes in
// order -> commit or release. The reservation is the one resource that
// must resolve on every exit path; a resolved flag plus a deferred release
// guarantees exactly one commit or one release per reserve.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentlane/execution-gateway/internal/adapters"
	"github.com/agentlane/execution-gateway/internal/agents"
	"github.com/agentlane/execution-gateway/internal/auth"
	"github.com/agentlane/execution-gateway/internal/budget"
	"github.com/agentlane/execution-gateway/internal/estimate"
	"github.com/agentlane/execution-gateway/internal/monitoring"
	"github.com/agentlane/execution-gateway/internal/ratelimit"
	"github.com/agentlane/execution-gateway/internal/router"
	"github.com/agentlane/execution-gateway/internal/runlog"
	"github.com/agentlane/execution-gateway/internal/store"
)

// ExecuteRequest is the POST /v1/execute body.
type ExecuteRequest struct {
	AgentID string         `json:"agentId"`
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

// Usage reports settled token usage and cost for one successful run.
type Usage struct {
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	LatencyMs        int64   `json:"latency_ms"`
}

// AgentInfo names the definition and the route that produced the response.
type AgentInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ExecuteResult is a successful execution.
type ExecuteResult struct {
	Data  json.RawMessage `json:"data"`
	Usage Usage           `json:"usage"`
	Agent AgentInfo       `json:"agent"`
}

// Deps carries the gateway's collaborators.
type Deps struct {
	Auth      *auth.Authenticator
	Plans     map[auth.PlanTier]auth.PlanLimits
	Catalog   *agents.Catalog
	Router    *router.Router
	Registry  *adapters.Registry
	Limiter   ratelimit.Limiter
	Budget    *budget.Manager
	Runs      *runlog.Recorder
	Estimator *estimate.Estimator
	Metrics   *monitoring.Collector
	Events    *EventHub
	DB        *store.DB
	Version   string
}

// Gateway orchestrates agent executions.
type Gateway struct {
	auth      *auth.Authenticator
	plans     map[auth.PlanTier]auth.PlanLimits
	catalog   *agents.Catalog
	router    *router.Router
	registry  *adapters.Registry
	limiter   ratelimit.Limiter
	budget    *budget.Manager
	runs      *runlog.Recorder
	estimator *estimate.Estimator
	metrics   *monitoring.Collector
	events    *EventHub
	db        *store.DB
	version   string
}

// New assembles a gateway from its dependencies.
func New(deps Deps) *Gateway {
	return &Gateway{
		auth:      deps.Auth,
		plans:     deps.Plans,
		catalog:   deps.Catalog,
		router:    deps.Router,
		registry:  deps.Registry,
		limiter:   deps.Limiter,
		budget:    deps.Budget,
		runs:      deps.Runs,
		estimator: deps.Estimator,
		metrics:   deps.Metrics,
		events:    deps.Events,
		db:        deps.DB,
		version:   deps.Version,
	}
}

// Execute runs one agent execution for an authenticated caller.
func (g *Gateway) Execute(ctx context.Context, caller *auth.CallerContext, req *ExecuteRequest) (*ExecuteResult, *Error) {
	def, err := g.catalog.Get(req.AgentID, req.Version)
	if errors.Is(err, agents.ErrNotFound) {
		return nil, g.refuse(ctx, caller, req, nil, NewError(CodeAgentNotFound, err.Error()))
	}
	if err != nil {
		return nil, g.refuse(ctx, caller, req, nil, wrapError(CodeInternal, "agent lookup failed", err))
	}

	// The catalog rejects unknown kinds at load time; this switch keeps the
	// closed set explicit where execution branches on it.
	switch def.Kind {
	case agents.KindGeneration, agents.KindExtraction:
	default:
		return nil, g.refuse(ctx, caller, req, def,
			NewError(CodeKindUnsupported, fmt.Sprintf("agent kind %q is not executable", def.Kind)))
	}

	values, err := def.ValidateInput(req.Input)
	if err != nil {
		return nil, g.refuse(ctx, caller, req, def, NewError(CodeInputSchema, err.Error()))
	}
	systemPrompt, userPrompt := def.RenderPrompts(values)

	limits := g.plans[caller.Plan]

	rate, err := g.limiter.CheckAndIncrement(ctx, caller.OrgID, caller.UserID, limits)
	if err != nil {
		return nil, g.refuse(ctx, caller, req, def, wrapError(CodeInternal, "rate limit check failed", err))
	}
	if !rate.Allowed {
		g.metrics.RecordRateLimited()
		gerr := NewError(CodeRateLimited, "rate limit exceeded, retry after the current window")
		gerr.RetryAfter = rate.RetryAfter
		return nil, g.refuse(ctx, caller, req, def, gerr)
	}

	estimated := g.estimator.ForCall(def.EstimatedTokens, systemPrompt, userPrompt, def.Model.MaxTokens)

	res, err := g.budget.Reserve(ctx, caller.OrgID, caller.UserID, limits, int64(estimated))
	if errors.Is(err, budget.ErrBudgetExceeded) {
		g.metrics.RecordBudgetRefused()
		return nil, g.refuse(ctx, caller, req, def, NewError(CodeBudgetExceeded, "monthly token budget exhausted"))
	}
	if err != nil {
		return nil, g.refuse(ctx, caller, req, def, wrapError(CodeInternal, "budget reservation failed", err))
	}

	resolved := false
	defer func() {
		if resolved {
			return
		}
		if rerr := g.budget.Release(context.WithoutCancel(ctx), res.ID); rerr != nil {
			log.Warn().Err(rerr).Str("reservation_id", res.ID).Msg("Failed to release reservation")
		}
	}()

	routes := g.router.Attempts(def, caller.Plan)
	attempts := make([]runlog.RouteAttempt, 0, len(routes))
	var lastErr error

	for _, rt := range routes {
		adapter, aerr := g.registry.Get(rt.Provider)
		if aerr != nil {
			lastErr = aerr
			attempts = append(attempts, runlog.RouteAttempt{Provider: rt.Provider.String(), Model: rt.Model, Error: aerr.Error()})
			log.Warn().Str("route", rt.String()).Err(aerr).Msg("Route skipped")
			continue
		}

		resp, cerr := adapter.Complete(ctx, adapters.CompletionRequest{
			Model:          rt.Model,
			SystemPrompt:   systemPrompt,
			UserPrompt:     userPrompt,
			MaxTokens:      def.Model.MaxTokens,
			Temperature:    def.Model.Temperature,
			Timeout:        def.Model.Timeout,
			ResponseFormat: def.ResponseFormat(),
			ExtraParams:    def.Model.ExtraParams,
		})
		if cerr != nil {
			lastErr = cerr
			g.metrics.RecordProviderAttempt(rt.Provider.String(), false)
			attempts = append(attempts, runlog.RouteAttempt{Provider: rt.Provider.String(), Model: rt.Model, Error: cerr.Error()})
			log.Warn().Str("route", rt.String()).Err(cerr).Msg("Route failed")
			continue
		}

		data, werr := def.WrapOutput(resp.Content)
		if werr != nil {
			lastErr = werr
			g.metrics.RecordProviderAttempt(rt.Provider.String(), false)
			attempts = append(attempts, runlog.RouteAttempt{Provider: rt.Provider.String(), Model: rt.Model, Error: werr.Error()})
			log.Warn().Str("route", rt.String()).Err(werr).Msg("Output contract violated")
			continue
		}

		commit, berr := g.budget.Commit(ctx, res.ID, resp.Usage.InputTokens, resp.Usage.OutputTokens, rt.Model)
		if errors.Is(berr, budget.ErrReservationNotFound) {
			// The sweeper resolved the reservation mid-flight. Nothing left
			// to release; report the race instead of double counting.
			resolved = true
			gerr := wrapError(CodeReservationNotFound, "reservation resolved concurrently", berr)
			g.finishRun(ctx, failureRecord(caller, req, def, attempts, gerr, runlog.StatusError))
			return nil, gerr
		}
		if berr != nil {
			gerr := wrapError(CodeInternal, "usage commit failed", berr)
			g.finishRun(ctx, failureRecord(caller, req, def, attempts, gerr, runlog.StatusError))
			return nil, gerr
		}
		resolved = true

		attempts = append(attempts, runlog.RouteAttempt{Provider: rt.Provider.String(), Model: rt.Model})
		g.metrics.RecordProviderAttempt(rt.Provider.String(), true)
		g.metrics.RecordUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens, commit.CostUSD)

		result := &ExecuteResult{
			Data: data,
			Usage: Usage{
				InputTokens:      resp.Usage.InputTokens,
				OutputTokens:     resp.Usage.OutputTokens,
				TotalTokens:      resp.Usage.TotalTokens,
				EstimatedCostUSD: commit.CostUSD,
				LatencyMs:        resp.LatencyMs,
			},
			Agent: AgentInfo{ID: def.ID, Version: def.Version, Provider: rt.Provider.String(), Model: rt.Model},
		}

		g.finishRun(ctx, &runlog.Record{
			OrgID:        caller.OrgID,
			UserID:       caller.UserID,
			AgentID:      def.ID,
			AgentVersion: def.Version,
			Provider:     rt.Provider.String(),
			Model:        rt.Model,
			Status:       runlog.StatusSuccess,
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.TotalTokens,
			CostUSD:      commit.CostUSD,
			LatencyMs:    resp.LatencyMs,
			Routes:       attempts,
		})

		log.Info().
			Str("agent_id", def.ID).
			Str("org_id", caller.OrgID).
			Str("route", rt.String()).
			Int("total_tokens", resp.Usage.TotalTokens).
			Int64("latency_ms", resp.LatencyMs).
			Msg("Execution succeeded")
		return result, nil
	}

	// Every route failed. The deferred release returns the hold; the caller
	// gets a sanitized summary while the full reasons go to the log and the
	// run record.
	gerr := NewError(CodeExecutionFailed, exhaustionMessage(attempts))
	status := runlog.StatusError
	if lastErr != nil && isTimeout(lastErr) {
		status = runlog.StatusTimeout
	}

	log.Error().
		Str("agent_id", def.ID).
		Str("org_id", caller.OrgID).
		Int("routes_attempted", len(attempts)).
		Interface("attempts", attempts).
		Msg("All routes exhausted")

	g.finishRun(ctx, failureRecord(caller, req, def, attempts, gerr, status))
	return nil, gerr
}

// refuse records a pre-reservation terminal failure and passes the error
// through. Used for every refusal that happens after authentication but
// before any provider attempt.
func (g *Gateway) refuse(ctx context.Context, caller *auth.CallerContext, req *ExecuteRequest, def *agents.Definition, gerr *Error) *Error {
	g.finishRun(ctx, failureRecord(caller, req, def, nil, gerr, runlog.StatusError))
	return gerr
}

// finishRun settles the per-run bookkeeping: stats counter, durable run
// record, live event. Runs on every terminal outcome exactly once.
func (g *Gateway) finishRun(ctx context.Context, rec *runlog.Record) {
	g.metrics.RecordRun(rec.Status)
	g.runs.Record(context.WithoutCancel(ctx), rec)
	g.events.Publish(rec)
}

func failureRecord(caller *auth.CallerContext, req *ExecuteRequest, def *agents.Definition, attempts []runlog.RouteAttempt, gerr *Error, status string) *runlog.Record {
	rec := &runlog.Record{
		OrgID:        caller.OrgID,
		UserID:       caller.UserID,
		AgentID:      req.AgentID,
		AgentVersion: req.Version,
		Status:       status,
		ErrorCode:    string(gerr.Code),
		ErrorMessage: gerr.Message,
		Routes:       attempts,
	}
	if def != nil {
		rec.AgentID = def.ID
		rec.AgentVersion = def.Version
	}
	return rec
}

// exhaustionMessage sanitizes the aggregated failure. Callers learn whether
// the problem is on their deployment (a route with no usable provider
// configuration) or upstream, never the raw provider errors.
func exhaustionMessage(attempts []runlog.RouteAttempt) string {
	for _, a := range attempts {
		if strings.Contains(a.Error, adapters.ErrNotConfigured.Error()) {
			return fmt.Sprintf("execution failed after %d route(s): provider configuration problem", len(attempts))
		}
	}
	return fmt.Sprintf("execution failed after %d route(s): temporary provider problem, try again later", len(attempts))
}

// isTimeout reports whether the decisive failure was a deadline.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded")
}

// healthy pings the store. The gateway is degraded when its durable state
// is unreachable.
func (g *Gateway) healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return g.db.Conn().PingContext(ctx)
}
