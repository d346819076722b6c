package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentlane/execution-gateway/internal/auth"
	"github.com/agentlane/execution-gateway/internal/config"
	"github.com/agentlane/execution-gateway/internal/store"
	"github.com/agentlane/execution-gateway/internal/utils"
)

// runKeygen provisions a user under an organization and prints the raw API
// key to stdout. The key material is shown exactly once; only its hash is
// stored.
func runKeygen(args []string) {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to the configuration file")
	org := fs.String("org", "", "organization id (required)")
	plan := fs.String("plan", config.PlanBasic, "plan tier: basic, pro or enterprise")
	name := fs.String("name", "", "human-readable label for the key")
	ttl := fs.Duration("ttl", 0, "key lifetime, e.g. 720h (0 = no expiry)")
	_ = fs.Parse(args)

	if *org == "" {
		fmt.Fprintln(os.Stderr, "keygen: -org is required")
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err, "Configuration failed")
	}
	initLogging(cfg.Logging)

	tier, err := auth.ParsePlanTier(*plan)
	if err != nil {
		fatal(err, "Plan tier rejected")
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		fatal(err, "Store failed to open")
	}
	defer func() { _ = db.Close() }()

	var expiresAt *time.Time
	if *ttl > 0 {
		t := time.Now().UTC().Add(*ttl)
		expiresAt = &t
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	userID, rawKey, err := auth.NewKeyStore(db).CreateCaller(ctx, *org, tier, *name, expiresAt)
	if err != nil {
		fatal(err, "Key creation failed")
	}

	log.Info().
		Str("org_id", *org).
		Str("user_id", userID).
		Str("plan", string(tier)).
		Str("key", utils.MaskKey(rawKey)).
		Msg("API key created")

	// The raw key goes to stdout only, so it can be captured without the
	// log noise.
	fmt.Println(rawKey)
}
