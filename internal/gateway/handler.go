// HTTP surface for the execution gateway.
//
// DESIGN: one plain mux: every endpoint authenticates through
// withAuth except /health (probes run unauthenticated). Handlers never
// leak provider detail; they translate *Error values via writeError and
// echo a request id on every response.
package gateway

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentlane/execution-gateway/internal/auth"
	"github.com/agentlane/execution-gateway/internal/budget"
	"github.com/agentlane/execution-gateway/internal/config"
)

const (
	// HeaderRequestID carries (or receives) the per-request correlation id.
	HeaderRequestID = "X-Request-ID"
)

// Routes builds the gateway's HTTP mux.
func (g *Gateway) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/stats", g.withAuth(g.handleStats))
	mux.HandleFunc("/v1/execute", g.withAuth(g.handleExecute))
	mux.HandleFunc("/v1/agents", g.withAuth(g.handleAgents))
	mux.HandleFunc("/v1/budget", g.withAuth(g.handleBudget))
	mux.HandleFunc("/v1/runs", g.withAuth(g.handleRuns))
	mux.HandleFunc("/v1/events", g.withAuth(g.handleEvents))
	return mux
}

type authedHandler func(http.ResponseWriter, *http.Request, *auth.CallerContext)

// withAuth resolves the bearer credential into a caller context before the
// wrapped handler runs.
func (g *Gateway) withAuth(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		w.Header().Set(HeaderRequestID, requestID)

		token := credential(r)
		if token == "" {
			g.writeError(w, NewError(CodeAuthMissing, "missing credential"))
			return
		}

		caller, err := g.auth.Authenticate(r.Context(), token)
		if err != nil {
			log.Debug().Err(err).Str("request_id", requestID).Msg("Authentication refused")
			g.writeError(w, authError(err))
			return
		}

		h(w, r, caller)
	}
}

// credential extracts the API key from Authorization or X-API-Key.
func credential(r *http.Request) string {
	if token := auth.BearerToken(r.Header.Get(auth.HeaderAuthorization)); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get(auth.HeaderXAPIKey))
}

// authError maps authentication failures onto the error taxonomy.
func authError(err error) *Error {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return NewError(CodeAuthMissing, "missing credential")
	case errors.Is(err, auth.ErrExpiredToken):
		return NewError(CodeAuthExpired, "credential expired")
	case errors.Is(err, auth.ErrProfileNotFound):
		return NewError(CodeAuthProfileNotFound, "no profile for credential")
	case errors.Is(err, auth.ErrInvalidToken):
		return NewError(CodeAuthInvalid, "invalid credential")
	default:
		return wrapError(CodeInternal, "authentication failed", err)
	}
}

// executeResponse is the POST /v1/execute success envelope.
type executeResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Usage   Usage           `json:"usage"`
	Agent   AgentInfo       `json:"agent"`
}

// handleExecute runs one agent execution.
func (g *Gateway) handleExecute(w http.ResponseWriter, r *http.Request, caller *auth.CallerContext) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, NewError(CodeInputMalformed, "request body is not a valid execute request"))
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		g.writeError(w, NewError(CodeInputMalformed, "agentId is required"))
		return
	}

	result, gerr := g.Execute(r.Context(), caller, &req)
	if gerr != nil {
		g.writeError(w, gerr)
		return
	}

	g.writeJSON(w, http.StatusOK, executeResponse{
		Success: true,
		Data:    result.Data,
		Usage:   result.Usage,
		Agent:   result.Agent,
	})
}

// handleHealth returns gateway health status. Unauthenticated.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": g.version,
	}

	status := http.StatusOK
	if err := g.healthy(r.Context()); err != nil {
		health["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(health)
}

// handleStats returns process counters.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request, _ *auth.CallerContext) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	g.writeJSON(w, http.StatusOK, g.metrics.Snapshot())
}

type agentSummary struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Name    string `json:"name,omitempty"`
	Kind    string `json:"kind"`
}

// handleAgents lists the loaded agent definitions.
func (g *Gateway) handleAgents(w http.ResponseWriter, r *http.Request, _ *auth.CallerContext) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	defs := g.catalog.List()
	out := make([]agentSummary, 0, len(defs))
	for _, def := range defs {
		out = append(out, agentSummary{ID: def.ID, Version: def.Version, Name: def.Name, Kind: string(def.Kind)})
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

// budgetResponse joins the stored snapshot with the caller's plan ceilings.
type budgetResponse struct {
	*budget.Snapshot
	MonthlyTokenLimit   int64   `json:"monthlyTokenLimit"`
	MonthlyCostLimitUSD float64 `json:"monthlyCostLimitUsd"`
}

// handleBudget returns the caller org's current-period budget.
func (g *Gateway) handleBudget(w http.ResponseWriter, r *http.Request, caller *auth.CallerContext) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap, err := g.budget.Snapshot(r.Context(), caller.OrgID)
	if err != nil {
		g.writeError(w, wrapError(CodeInternal, "budget lookup failed", err))
		return
	}

	limits := g.plans[caller.Plan]
	g.writeJSON(w, http.StatusOK, budgetResponse{
		Snapshot:            snap,
		MonthlyTokenLimit:   limits.MonthlyTokens,
		MonthlyCostLimitUSD: limits.MonthlyCostUSD,
	})
}

// handleRuns returns the caller org's recent run records.
func (g *Gateway) handleRuns(w http.ResponseWriter, r *http.Request, caller *auth.CallerContext) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			g.writeError(w, NewError(CodeInputMalformed, "limit must be an integer"))
			return
		}
		limit = n
	}

	records, err := g.runs.ListByOrg(r.Context(), caller.OrgID, limit)
	if err != nil {
		g.writeError(w, wrapError(CodeInternal, "run history lookup failed", err))
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"runs": records})
}

// writeError writes the failure envelope with the mapped status.
func (g *Gateway) writeError(w http.ResponseWriter, gerr *Error) {
	body := map[string]any{
		"success": false,
		"error":   gerr.Message,
		"code":    string(gerr.Code),
	}
	if gerr.Code == CodeRateLimited && gerr.RetryAfter > 0 {
		body["retryAfterMs"] = gerr.RetryAfter.Milliseconds()
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(gerr.RetryAfter.Seconds()))))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gerr.Code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(body)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// getRequestID gets or generates a request ID.
func getRequestID(r *http.Request) string {
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return id
	}
	return uuid.New().String()
}
