package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentlane/execution-gateway/internal/adapters"
	"github.com/agentlane/execution-gateway/internal/agents"
	"github.com/agentlane/execution-gateway/internal/auth"
	"github.com/agentlane/execution-gateway/internal/budget"
	"github.com/agentlane/execution-gateway/internal/config"
	"github.com/agentlane/execution-gateway/internal/estimate"
	"github.com/agentlane/execution-gateway/internal/gateway"
	"github.com/agentlane/execution-gateway/internal/monitoring"
	"github.com/agentlane/execution-gateway/internal/ratelimit"
	"github.com/agentlane/execution-gateway/internal/router"
	"github.com/agentlane/execution-gateway/internal/runlog"
	"github.com/agentlane/execution-gateway/internal/store"
)

// defaultConfigPath is looked for in the working directory; a missing file
// runs on compiled-in defaults.
const defaultConfigPath = "agentlane.yaml"

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to the configuration file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err, "Configuration failed")
	}
	initLogging(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		fatal(err, "Store failed to open")
	}
	defer func() { _ = db.Close() }()

	catalog, err := agents.LoadFile(cfg.Agents.File)
	if err != nil {
		fatal(err, "Agent catalog failed to load")
	}

	rt, err := router.New(cfg.Routing.EconomyModels)
	if err != nil {
		fatal(err, "Routing configuration rejected")
	}

	options, err := providerOptions(cfg.Providers)
	if err != nil {
		fatal(err, "Provider configuration rejected")
	}
	registry, err := adapters.BuildRegistry(ctx, options)
	if err != nil {
		fatal(err, "Provider adapters failed to build")
	}

	limiter, err := ratelimit.New(ctx, cfg, db)
	if err != nil {
		fatal(err, "Rate limiter failed to build")
	}

	plans, err := auth.NewPlanTable(cfg.Plans)
	if err != nil {
		fatal(err, "Plan configuration rejected")
	}

	keys := auth.NewKeyStore(db)
	budgets := budget.NewManager(db)

	gw := gateway.New(gateway.Deps{
		Auth:      auth.NewAuthenticator(keys, keys),
		Plans:     plans,
		Catalog:   catalog,
		Router:    rt,
		Registry:  registry,
		Limiter:   limiter,
		Budget:    budgets,
		Runs:      runlog.NewRecorder(db),
		Estimator: estimate.New(),
		Metrics:   monitoring.NewCollector(),
		Events:    gateway.NewEventHub(),
		DB:        db,
		Version:   version,
	})

	go runSweeper(ctx, cfg.Sweeper, budgets, limiter)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      gw.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Graceful shutdown incomplete")
		}
	}()

	log.Info().
		Str("addr", cfg.Server.Address()).
		Str("version", version).
		Int("agents", len(catalog.List())).
		Interface("providers", registry.Providers()).
		Str("rate_limit_backend", cfg.RateLimit.Backend).
		Msg("Gateway listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal(err, "Server failed")
	}
	log.Info().Msg("Gateway stopped")
}

// providerOptions converts configured providers into adapter options,
// rejecting unknown provider names at startup.
func providerOptions(cfgs map[string]config.ProviderConfig) (map[adapters.Provider]adapters.Options, error) {
	out := make(map[adapters.Provider]adapters.Options, len(cfgs))
	for name, pc := range cfgs {
		provider := adapters.ProviderFromString(name)
		if provider == adapters.ProviderUnknown {
			return nil, fmt.Errorf("unknown provider %q in configuration", name)
		}
		out[provider] = adapters.Options{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Region:  pc.Region,
			MaxRPS:  pc.MaxRPS,
		}
	}
	return out, nil
}

// expiredSweeper is implemented by rate-limit backends with durable
// windows. The memory and redis backends expire their own state.
type expiredSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// runSweeper periodically releases crash-orphaned reservations and drops
// dead rate windows until ctx is cancelled.
func runSweeper(ctx context.Context, cfg config.SweeperConfig, budgets *budget.Manager, limiter ratelimit.Limiter) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, err := budgets.SweepStale(ctx, cfg.ReservationTTL)
			if err != nil {
				log.Warn().Err(err).Msg("Reservation sweep failed")
			} else if released > 0 {
				log.Info().Int("released", released).Msg("Swept stale reservations")
			}

			if sweeper, ok := limiter.(expiredSweeper); ok {
				if _, err := sweeper.SweepExpired(ctx); err != nil {
					log.Warn().Err(err).Msg("Rate window sweep failed")
				}
			}
		}
	}
}
