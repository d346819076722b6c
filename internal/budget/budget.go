// Package budget manages the monthly per-org token budget: reserve before
// spending, commit actuals on success, release the hold on failure.
//
// DESIGN: reservations are durable rows, not process memory. In-flight
// holds survive a restart and stale ones stay visible until the sweeper
// releases them. Every operation is one transaction; the reserve gate is a
// single conditional UPDATE, so two concurrent reservations can never both
// squeeze under the ceiling.
package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentlane/execution-gateway/internal/auth"
	"github.com/agentlane/execution-gateway/internal/pricing"
	"github.com/agentlane/execution-gateway/internal/store"
)

var (
	// ErrBudgetExceeded means the reserve gate refused: granting the hold
	// would push used+reserved past the monthly token ceiling, or the org
	// has already spent past its monthly cost ceiling.
	ErrBudgetExceeded = errors.New("monthly budget exceeded")

	// ErrReservationNotFound means a commit targeted a reservation that
	// does not exist or was already resolved.
	ErrReservationNotFound = errors.New("reservation not found or already resolved")
)

// Reservation statuses. A row transitions exactly once out of active.
const (
	StatusActive    = "active"
	StatusCommitted = "committed"
	StatusReleased  = "released"
)

// Ledger entry kinds.
const (
	kindReserve = "reserve"
	kindCommit  = "commit"
	kindRelease = "release"
)

// Reservation is a provisional hold on the org's monthly token budget.
type Reservation struct {
	ID              string
	OrgID           string
	UserID          string
	Period          string
	EstimatedTokens int64
	Status          string
	CreatedAt       time.Time
}

// CommitResult reports the settled usage for one committed reservation.
type CommitResult struct {
	TotalTokens int
	CostUSD     float64
}

// Snapshot is the org's current-period budget state.
type Snapshot struct {
	OrgID          string  `json:"orgId"`
	Period         string  `json:"period"`
	TokensUsed     int64   `json:"tokensUsed"`
	TokensReserved int64   `json:"tokensReserved"`
	CostUsedUSD    float64 `json:"costUsedUsd"`
}

// Manager runs the reserve/commit/release lifecycle against the store.
type Manager struct {
	db  *store.DB
	now func() time.Time
}

// NewManager returns a budget manager backed by the main store.
func NewManager(db *store.DB) *Manager {
	return &Manager{db: db, now: time.Now}
}

// periodOf returns the calendar-month period key containing t.
func periodOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Reserve places a hold of estimatedTokens against the org's current-period
// budget. The gate admits the hold only while
// tokens_used + tokens_reserved + estimatedTokens stays within the monthly
// token ceiling and cost_used is still under the monthly cost ceiling.
// A refused reserve changes nothing and returns ErrBudgetExceeded.
func (m *Manager) Reserve(ctx context.Context, orgID, userID string, limits auth.PlanLimits, estimatedTokens int64) (*Reservation, error) {
	if estimatedTokens < 1 {
		estimatedTokens = 1
	}

	now := m.now().UTC()
	res := &Reservation{
		ID:              uuid.NewString(),
		OrgID:           orgID,
		UserID:          userID,
		Period:          periodOf(now),
		EstimatedTokens: estimatedTokens,
		Status:          StatusActive,
		CreatedAt:       now,
	}

	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO token_budgets (org_id, period, tokens_used, tokens_reserved, cost_used, updated_at)
			 VALUES (?, ?, 0, 0, 0, ?)`,
			orgID, res.Period, now)
		if err != nil {
			return fmt.Errorf("failed to ensure budget row: %w", err)
		}

		out, err := tx.ExecContext(ctx,
			`UPDATE token_budgets
			    SET tokens_reserved = tokens_reserved + ?, updated_at = ?
			  WHERE org_id = ? AND period = ?
			    AND (? <= 0 OR tokens_used + tokens_reserved + ? <= ?)
			    AND (? <= 0 OR cost_used < ?)`,
			estimatedTokens, now,
			orgID, res.Period,
			limits.MonthlyTokens, estimatedTokens, limits.MonthlyTokens,
			limits.MonthlyCostUSD, limits.MonthlyCostUSD)
		if err != nil {
			return fmt.Errorf("failed to reserve tokens: %w", err)
		}
		n, err := out.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read reserve result: %w", err)
		}
		if n == 0 {
			return ErrBudgetExceeded
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO reservations (id, org_id, user_id, period, estimated_tokens, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			res.ID, orgID, userID, res.Period, estimatedTokens, StatusActive, now)
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}

		return insertLedger(ctx, tx, res.ID, orgID, res.Period, kindReserve, estimatedTokens, 0, "", now)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Commit settles a reservation with the actual token usage. The original
// estimate leaves tokens_reserved; the actual total and its cost land in
// tokens_used / cost_used. The estimate/actual discrepancy is absorbed
// there, reserved only ever tracks outstanding estimates.
func (m *Manager) Commit(ctx context.Context, reservationID string, actualInput, actualOutput int, model string) (*CommitResult, error) {
	now := m.now().UTC()
	total := actualInput + actualOutput
	cost := pricing.CostFor(model, actualInput, actualOutput)

	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		orgID, period, estimate, err := resolve(ctx, tx, reservationID, StatusCommitted, now)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE token_budgets
			    SET tokens_reserved = MAX(0, tokens_reserved - ?),
			        tokens_used = tokens_used + ?,
			        cost_used = cost_used + ?,
			        updated_at = ?
			  WHERE org_id = ? AND period = ?`,
			estimate, total, cost, now, orgID, period)
		if err != nil {
			return fmt.Errorf("failed to commit usage: %w", err)
		}

		return insertLedger(ctx, tx, reservationID, orgID, period, kindCommit, int64(total), cost, model, now)
	})
	if err != nil {
		return nil, err
	}
	return &CommitResult{TotalTokens: total, CostUSD: cost}, nil
}

// Release returns a reservation's hold to the budget. Releasing a
// reservation that is unknown or already resolved is a no-op, so every
// failure path can call it without coordinating.
func (m *Manager) Release(ctx context.Context, reservationID string) error {
	now := m.now().UTC()

	return m.db.WithTx(ctx, func(tx *sql.Tx) error {
		orgID, period, estimate, err := resolve(ctx, tx, reservationID, StatusReleased, now)
		if errors.Is(err, ErrReservationNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE token_budgets
			    SET tokens_reserved = MAX(0, tokens_reserved - ?), updated_at = ?
			  WHERE org_id = ? AND period = ?`,
			estimate, now, orgID, period)
		if err != nil {
			return fmt.Errorf("failed to release reservation: %w", err)
		}

		return insertLedger(ctx, tx, reservationID, orgID, period, kindRelease, estimate, 0, "", now)
	})
}

// resolve flips an active reservation to the given terminal status and
// returns its org, period and original estimate. Zero rows flipped means
// the reservation is unknown or already resolved.
func resolve(ctx context.Context, tx *sql.Tx, reservationID, status string, now time.Time) (orgID, period string, estimate int64, err error) {
	out, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		status, now, reservationID, StatusActive)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to resolve reservation: %w", err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to read resolve result: %w", err)
	}
	if n == 0 {
		return "", "", 0, ErrReservationNotFound
	}

	err = tx.QueryRowContext(ctx,
		`SELECT org_id, period, estimated_tokens FROM reservations WHERE id = ?`,
		reservationID,
	).Scan(&orgID, &period, &estimate)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to load reservation: %w", err)
	}
	return orgID, period, estimate, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, reservationID, orgID, period, kind string, tokens int64, cost float64, model string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO usage_ledger (reservation_id, org_id, period, kind, tokens, cost_usd, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		reservationID, orgID, period, kind, tokens, cost, model, now)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// Snapshot returns the org's current-period budget row. An org with no
// usage this period gets a zeroed snapshot, not an error.
func (m *Manager) Snapshot(ctx context.Context, orgID string) (*Snapshot, error) {
	period := periodOf(m.now())
	snap := &Snapshot{OrgID: orgID, Period: period}

	err := m.db.Conn().QueryRowContext(ctx,
		`SELECT tokens_used, tokens_reserved, cost_used FROM token_budgets WHERE org_id = ? AND period = ?`,
		orgID, period,
	).Scan(&snap.TokensUsed, &snap.TokensReserved, &snap.CostUsedUSD)
	if err == sql.ErrNoRows {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load budget snapshot: %w", err)
	}
	return snap, nil
}

// SweepStale releases active reservations older than ttl. Crash-orphaned
// holds are the only way a reservation outlives its request, so anything
// this old is leaked budget. Returns the number released.
func (m *Manager) SweepStale(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := m.now().UTC().Add(-ttl)

	rows, err := m.db.Conn().QueryContext(ctx,
		`SELECT id FROM reservations WHERE status = ? AND created_at < ?`,
		StatusActive, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale reservations: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("failed to scan stale reservation: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("failed to iterate stale reservations: %w", err)
	}
	_ = rows.Close()

	released := 0
	for _, id := range ids {
		if err := m.Release(ctx, id); err != nil {
			log.Warn().Err(err).Str("reservation_id", id).Msg("Failed to release stale reservation")
			continue
		}
		released++
		log.Info().Str("reservation_id", id).Msg("Released stale reservation")
	}
	return released, nil
}
