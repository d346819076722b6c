package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// User is one identity row. Organizations exist only as the org_id values
// their users carry.
type User struct {
	ID        string
	OrgID     string
	Plan      string
	Name      string
	CreatedAt time.Time
}

// APIKey is one credential row. Only the SHA-256 hash of the key material
// is stored.
type APIKey struct {
	ID        string
	KeyHash   string
	UserID    string
	Name      string
	IsActive  bool
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// CreateUser inserts a new user.
func (db *DB) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO users (id, org_id, plan, name, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := db.conn.ExecContext(ctx, query,
		user.ID, user.OrgID, user.Plan, user.Name, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id. Returns (nil, nil) when absent.
func (db *DB) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, org_id, plan, name, created_at
		FROM users
		WHERE id = ?
	`
	var user User
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.OrgID, &user.Plan, &user.Name, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// CreateAPIKey inserts a new API key row.
func (db *DB) CreateAPIKey(ctx context.Context, key *APIKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO api_keys (id, key_hash, user_id, name, is_active, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.conn.ExecContext(ctx, query,
		key.ID, key.KeyHash, key.UserID, key.Name, key.IsActive, key.CreatedAt, key.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash retrieves an API key row by its hash. Returns (nil, nil)
// when absent.
func (db *DB) GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	query := `
		SELECT id, key_hash, user_id, name, is_active, created_at, expires_at
		FROM api_keys
		WHERE key_hash = ?
	`
	var key APIKey
	err := db.conn.QueryRowContext(ctx, query, keyHash).Scan(
		&key.ID, &key.KeyHash, &key.UserID, &key.Name, &key.IsActive, &key.CreatedAt, &key.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &key, nil
}
