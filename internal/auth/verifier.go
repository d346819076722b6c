package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentlane/execution-gateway/internal/config"
)

// Classified authentication failures. The HTTP layer maps each to its own
// error code; everything else surfaces as an internal error.
var (
	ErrMissingToken    = errors.New("missing credential")
	ErrInvalidToken    = errors.New("invalid credential")
	ErrExpiredToken    = errors.New("expired credential")
	ErrProfileNotFound = errors.New("profile not found")
)

// Verifier checks a raw credential and returns the owning user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// ProfileStore loads the organization and plan for a verified user.
type ProfileStore interface {
	LoadProfile(ctx context.Context, userID string) (orgID string, plan PlanTier, err error)
}

// Authenticator derives a CallerContext from a raw credential by running
// verification then profile lookup.
type Authenticator struct {
	verifier Verifier
	profiles ProfileStore
}

// NewAuthenticator wires a verifier and profile store together.
func NewAuthenticator(verifier Verifier, profiles ProfileStore) *Authenticator {
	return &Authenticator{verifier: verifier, profiles: profiles}
}

// Authenticate resolves token into a caller. Failures are one of the
// classified sentinel errors, possibly wrapped.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*CallerContext, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	userID, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	orgID, plan, err := a.profiles.LoadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &CallerContext{UserID: userID, OrgID: orgID, Plan: plan}, nil
}

// NewPlanTable converts configured plans into tier-keyed limits, rejecting
// unknown tier names at startup rather than at request time.
func NewPlanTable(plans map[string]config.PlanConfig) (map[PlanTier]PlanLimits, error) {
	table := make(map[PlanTier]PlanLimits, len(plans))
	for name, plan := range plans {
		tier, err := ParsePlanTier(name)
		if err != nil {
			return nil, fmt.Errorf("plans: %w", err)
		}
		table[tier] = PlanLimits{
			MonthlyTokens:  plan.MonthlyTokens,
			MonthlyCostUSD: plan.MonthlyCostUSD,
			OrgPerMinute:   plan.OrgPerMinute,
			UserPerMinute:  plan.UserPerMinute,
		}
	}
	return table, nil
}
