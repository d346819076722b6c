// Package runlog records one audit row per execution terminal outcome.
// Recording is best effort: an audit failure is logged, never propagated,
// so a full run_records table cannot take the gateway down with it.
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentlane/execution-gateway/internal/config"
	"github.com/agentlane/execution-gateway/internal/store"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// RouteAttempt is one provider/model try within a run, with its failure
// reason when the attempt did not produce the final response.
type RouteAttempt struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Error    string `json:"error,omitempty"`
}

// Record is one terminal outcome row.
type Record struct {
	ID           string         `json:"id"`
	OrgID        string         `json:"orgId"`
	UserID       string         `json:"userId"`
	AgentID      string         `json:"agentId"`
	AgentVersion string         `json:"agentVersion"`
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	Status       string         `json:"status"`
	ErrorCode    string         `json:"errorCode,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	InputTokens  int            `json:"inputTokens"`
	OutputTokens int            `json:"outputTokens"`
	TotalTokens  int            `json:"totalTokens"`
	CostUSD      float64        `json:"costUsd"`
	LatencyMs    int64          `json:"latencyMs"`
	Routes       []RouteAttempt `json:"routesAttempted"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Recorder writes and reads run records.
type Recorder struct {
	db  *store.DB
	now func() time.Time
}

// NewRecorder returns a recorder backed by the main store.
func NewRecorder(db *store.DB) *Recorder {
	return &Recorder{db: db, now: time.Now}
}

// Record persists one terminal outcome. It fills in the id and timestamp
// and never returns an error.
func (r *Recorder) Record(ctx context.Context, rec *Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}

	routes, err := json.Marshal(rec.Routes)
	if err != nil {
		routes = []byte("[]")
	}

	_, err = r.db.Conn().ExecContext(ctx,
		`INSERT INTO run_records (id, org_id, user_id, agent_id, agent_version, provider, model,
			status, error_code, error_message, input_tokens, output_tokens, total_tokens,
			cost_usd, latency_ms, routes_attempted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OrgID, rec.UserID, rec.AgentID, rec.AgentVersion, rec.Provider, rec.Model,
		rec.Status, rec.ErrorCode, rec.ErrorMessage, rec.InputTokens, rec.OutputTokens, rec.TotalTokens,
		rec.CostUSD, rec.LatencyMs, string(routes), rec.CreatedAt)
	if err != nil {
		log.Warn().Err(err).
			Str("run_id", rec.ID).
			Str("agent_id", rec.AgentID).
			Msg("Failed to write run record")
	}
}

// ListByOrg returns the org's most recent runs, newest first. A limit
// outside (0, MaxRunListLimit] is clamped.
func (r *Recorder) ListByOrg(ctx context.Context, orgID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = config.DefaultRunListLimit
	}
	if limit > config.MaxRunListLimit {
		limit = config.MaxRunListLimit
	}

	rows, err := r.db.Conn().QueryContext(ctx,
		`SELECT id, org_id, user_id, agent_id, agent_version, provider, model,
			status, error_code, error_message, input_tokens, output_tokens, total_tokens,
			cost_usd, latency_ms, routes_attempted, created_at
		 FROM run_records WHERE org_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list run records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var rec Record
		var routes string
		err := rows.Scan(&rec.ID, &rec.OrgID, &rec.UserID, &rec.AgentID, &rec.AgentVersion,
			&rec.Provider, &rec.Model, &rec.Status, &rec.ErrorCode, &rec.ErrorMessage,
			&rec.InputTokens, &rec.OutputTokens, &rec.TotalTokens,
			&rec.CostUSD, &rec.LatencyMs, &routes, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		if err := json.Unmarshal([]byte(routes), &rec.Routes); err != nil {
			log.Warn().Err(err).Str("run_id", rec.ID).Msg("Malformed routes metadata in run record")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run records: %w", err)
	}
	return records, nil
}
