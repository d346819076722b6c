package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlane/execution-gateway/internal/config"
	"github.com/agentlane/execution-gateway/internal/store"
)

func TestParsePlanTier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected PlanTier
		wantErr  bool
	}{
		{name: "Basic", input: "basic", expected: PlanBasic},
		{name: "Pro uppercase", input: "PRO", expected: PlanPro},
		{name: "Enterprise padded", input: " enterprise ", expected: PlanEnterprise},
		{name: "Unknown rejected", input: "platinum", wantErr: true},
		{name: "Empty rejected", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePlanTier(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{name: "Bearer prefix stripped", header: "Bearer agl_abc", expected: "agl_abc"},
		{name: "Bare token passes through", header: "agl_abc", expected: "agl_abc"},
		{name: "Whitespace trimmed", header: "  Bearer agl_abc  ", expected: "agl_abc"},
		{name: "Empty", header: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BearerToken(tt.header))
		})
	}
}

func TestGenerateKey(t *testing.T) {
	raw, hash, err := GenerateKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, config.APIKeyPrefix))
	assert.Equal(t, HashKey(raw), hash)

	raw2, _, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2)
}

func newTestAuthenticator(t *testing.T) (*Authenticator, *KeyStore) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ks := NewKeyStore(db)
	return NewAuthenticator(ks, ks), ks
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	authn, ks := newTestAuthenticator(t)

	_, rawKey, err := ks.CreateCaller(ctx, "org-1", PlanPro, "ci key", nil)
	require.NoError(t, err)

	t.Run("valid key resolves caller", func(t *testing.T) {
		caller, err := authn.Authenticate(ctx, rawKey)
		require.NoError(t, err)
		assert.Equal(t, "org-1", caller.OrgID)
		assert.Equal(t, PlanPro, caller.Plan)
		assert.NotEmpty(t, caller.UserID)
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := authn.Authenticate(ctx, "")
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := authn.Authenticate(ctx, "agl_not-a-real-key")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired key", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		_, expiredKey, err := ks.CreateCaller(ctx, "org-1", PlanBasic, "old", &past)
		require.NoError(t, err)

		_, err = authn.Authenticate(ctx, expiredKey)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("profile with unknown plan rejected", func(t *testing.T) {
		db := ks.db
		require.NoError(t, db.CreateUser(ctx, &store.User{ID: "u-bad", OrgID: "org-1", Plan: "platinum"}))
		raw, hash, err := GenerateKey()
		require.NoError(t, err)
		require.NoError(t, db.CreateAPIKey(ctx, &store.APIKey{ID: "k-bad", KeyHash: hash, UserID: "u-bad", IsActive: true}))

		_, err = authn.Authenticate(ctx, raw)
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})
}

func TestNewPlanTable(t *testing.T) {
	table, err := NewPlanTable(map[string]config.PlanConfig{
		"basic": {OrgPerMinute: 5, UserPerMinute: 2, MonthlyTokens: 1000, MonthlyCostUSD: 1},
		"pro":   {OrgPerMinute: 50, UserPerMinute: 20, MonthlyTokens: 100000, MonthlyCostUSD: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), table[PlanBasic].MonthlyTokens)
	assert.Equal(t, 20, table[PlanPro].UserPerMinute)

	_, err = NewPlanTable(map[string]config.PlanConfig{"gold": {}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gold")
}
