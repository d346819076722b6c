// Package auth resolves bearer credentials into caller identities and owns
// the plan tier reference data.
package auth

import (
	"fmt"
	"strings"
)

// =============================================================================
// PLAN TIER TYPES
// =============================================================================

// PlanTier is a subscription level. The set is closed; unknown tiers are
// rejected when configuration or profile rows are loaded, never defaulted.
type PlanTier string

const (
	// PlanBasic is the lowest tier. It routes to economy models.
	PlanBasic PlanTier = "basic"

	// PlanPro is the standard paid tier.
	PlanPro PlanTier = "pro"

	// PlanEnterprise is the highest tier.
	PlanEnterprise PlanTier = "enterprise"
)

// ParsePlanTier converts a string to a PlanTier.
func ParsePlanTier(s string) (PlanTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic":
		return PlanBasic, nil
	case "pro":
		return PlanPro, nil
	case "enterprise":
		return PlanEnterprise, nil
	default:
		return "", fmt.Errorf("unknown plan tier %q", s)
	}
}

// PlanLimits holds the ceilings for one tier. A ceiling that is zero or
// negative leaves that scope unlimited.
type PlanLimits struct {
	MonthlyTokens  int64
	MonthlyCostUSD float64
	OrgPerMinute   int
	UserPerMinute  int
}

// =============================================================================
// CALLER CONTEXT
// =============================================================================

// CallerContext identifies one authenticated request. Derived once during
// authentication and never mutated.
type CallerContext struct {
	UserID string
	OrgID  string
	Plan   PlanTier
}

// =============================================================================
// HEADER CONSTANTS
// =============================================================================

const (
	// HeaderAuthorization is the standard Authorization header.
	HeaderAuthorization = "Authorization"

	// HeaderXAPIKey accepts the key directly, for clients that don't send
	// bearer tokens.
	HeaderXAPIKey = "X-API-Key"
)

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// BearerToken extracts the bearer token value from an Authorization header.
// Input: "Bearer agl_..." -> Output: "agl_..."
// Input: "agl_..." -> Output: "agl_..." (pass-through if no Bearer prefix)
func BearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return ""
	}

	const bearerPrefix = "Bearer "
	if strings.HasPrefix(authHeader, bearerPrefix) {
		return strings.TrimSpace(authHeader[len(bearerPrefix):])
	}

	// If no Bearer prefix, return as-is (some clients send bare tokens)
	return authHeader
}
