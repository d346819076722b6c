package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentlane/execution-gateway/internal/config"
	"github.com/agentlane/execution-gateway/internal/store"
)

// KeyStore verifies API keys and loads caller profiles from the SQLite
// store. It is both the Verifier and the ProfileStore for deployments that
// keep identities local.
type KeyStore struct {
	db *store.DB
}

// NewKeyStore creates a key store over db.
func NewKeyStore(db *store.DB) *KeyStore {
	return &KeyStore{db: db}
}

// HashKey returns the hex SHA-256 of raw key material. Only hashes are
// stored or compared.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateKey mints new key material and its storage hash. The raw key is
// shown once at creation and never persisted.
func GenerateKey() (raw, hash string, err error) {
	buf := make([]byte, config.APIKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generating key material: %w", err)
	}
	raw = config.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashKey(raw), nil
}

// Verify implements Verifier against the api_keys table.
func (s *KeyStore) Verify(ctx context.Context, token string) (string, error) {
	key, err := s.db.GetAPIKeyByHash(ctx, HashKey(token))
	if err != nil {
		return "", fmt.Errorf("verifying credential: %w", err)
	}
	if key == nil || !key.IsActive {
		return "", ErrInvalidToken
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return "", ErrExpiredToken
	}
	return key.UserID, nil
}

// LoadProfile implements ProfileStore against the users table. A user row
// carrying an unknown plan tier counts as a missing profile; the detail is
// logged server-side.
func (s *KeyStore) LoadProfile(ctx context.Context, userID string) (string, PlanTier, error) {
	user, err := s.db.GetUser(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("loading profile: %w", err)
	}
	if user == nil {
		return "", "", ErrProfileNotFound
	}
	tier, err := ParsePlanTier(user.Plan)
	if err != nil {
		log.Warn().Str("user_id", userID).Str("plan", user.Plan).Msg("auth: profile has unknown plan tier")
		return "", "", ErrProfileNotFound
	}
	return user.OrgID, tier, nil
}

// CreateCaller provisions a user and an API key for it, returning the raw
// key exactly once.
func (s *KeyStore) CreateCaller(ctx context.Context, orgID string, plan PlanTier, name string, expiresAt *time.Time) (userID, rawKey string, err error) {
	raw, hash, err := GenerateKey()
	if err != nil {
		return "", "", err
	}

	user := &store.User{
		ID:    uuid.NewString(),
		OrgID: orgID,
		Plan:  string(plan),
		Name:  name,
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		return "", "", err
	}

	key := &store.APIKey{
		ID:        uuid.NewString(),
		KeyHash:   hash,
		UserID:    user.ID,
		Name:      name,
		IsActive:  true,
		ExpiresAt: expiresAt,
	}
	if err := s.db.CreateAPIKey(ctx, key); err != nil {
		return "", "", err
	}

	return user.ID, raw, nil
}

var (
	_ Verifier     = (*KeyStore)(nil)
	_ ProfileStore = (*KeyStore)(nil)
)
