// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// TokenEstimateRatio is the approximate number of characters per token.
// Used for rough token counting when exact counts aren't available.
const TokenEstimateRatio = 4

// =============================================================================
// HTTP SERVER
// =============================================================================

// DefaultServerHost is the bind address when none is configured.
const DefaultServerHost = "0.0.0.0"

// DefaultServerPort is the listen port when none is configured.
const DefaultServerPort = 8080

// DefaultReadTimeout bounds how long a client may take to send a request.
const DefaultReadTimeout = 30 * time.Second

// DefaultWriteTimeout must cover a full execution including provider
// fallbacks, so it is generous.
const DefaultWriteTimeout = 5 * time.Minute

// DefaultShutdownTimeout is how long graceful shutdown waits for in-flight
// executions before forcing the listener closed.
const DefaultShutdownTimeout = 15 * time.Second

// MaxRequestBodySize is the maximum allowed execute request body (2MB).
const MaxRequestBodySize = 2 * 1024 * 1024

// =============================================================================
// STORAGE
// =============================================================================

// DefaultDatabasePath is where the SQLite store lives when unconfigured.
const DefaultDatabasePath = "agentlane.db"

// DefaultBusyTimeout is the SQLite busy handler timeout.
const DefaultBusyTimeout = 5 * time.Second

// =============================================================================
// RATE LIMITING
// =============================================================================

// Rate limiter backend names accepted in configuration.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// DefaultRateLimitBackend keeps single-node deployments dependency-free.
const DefaultRateLimitBackend = BackendMemory

// =============================================================================
// PLANS
// =============================================================================

// Built-in plan tier names. Unknown tiers are rejected at startup.
const (
	PlanBasic      = "basic"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// =============================================================================
// AGENTS AND EXECUTION
// =============================================================================

// DefaultAgentsFile is the agent catalog location when unconfigured.
const DefaultAgentsFile = "agents.yaml"

// DefaultMaxInputChars caps a single input variable when the agent
// definition doesn't set its own limit.
const DefaultMaxInputChars = 100_000

// DefaultMaxCompletionTokens applies when an agent's model policy doesn't
// declare max_tokens.
const DefaultMaxCompletionTokens = 1024

// DefaultRequestTimeout is the per-attempt provider timeout when an agent
// doesn't declare one.
const DefaultRequestTimeout = 60 * time.Second

// =============================================================================
// MAINTENANCE
// =============================================================================

// DefaultSweepInterval is the frequency for the background sweeper that
// releases stale reservations and drops expired rate windows.
const DefaultSweepInterval = time.Minute

// DefaultReservationTTL is how long a reservation may stay active before
// the sweeper treats its execution as lost and releases it.
const DefaultReservationTTL = 15 * time.Minute

// =============================================================================
// RUN HISTORY AND EVENTS
// =============================================================================

// DefaultRunListLimit is how many run records list endpoints return by default.
const DefaultRunListLimit = 50

// MaxRunListLimit caps the records a single list call may request.
const MaxRunListLimit = 500

// EventBufferSize is the per-subscriber buffer for live event streams.
// Slow subscribers drop events rather than stalling executions.
const EventBufferSize = 64

// =============================================================================
// API KEYS
// =============================================================================

// APIKeyBytes is the random length of generated API keys before encoding.
const APIKeyBytes = 32

// APIKeyPrefix marks keys minted by this gateway.
const APIKeyPrefix = "agl_"
