// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/supmind/egbots/internal/dispatch"
	"github.com/supmind/egbots/internal/engine"
	"github.com/supmind/egbots/internal/logging"
	"github.com/supmind/egbots/internal/observability"
	"github.com/supmind/egbots/internal/platform"
	"github.com/supmind/egbots/internal/store"
)

// serveConfig holds configuration for the serve command.
type serveConfig struct {
	metricsAddr  string
	logFormat    string
	aggDelay     time.Duration
	drainTimeout time.Duration
}

// Validate checks that the configuration is valid.
func (cfg *serveConfig) Validate() error {
	if cfg.logFormat != "json" && cfg.logFormat != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log-format must be 'json' or 'text', got %q", cfg.logFormat)
	}
	return nil
}

// Default values for serve command flags.
const (
	defaultMetricsAddr = "127.0.0.1:9100"
	defaultLogFormat   = "json"
)

// ServeDeps carries the injectable collaborators of the serve command.
// The chat-platform client library lives outside this repository, so the
// embedding build (or a test) must supply the client and its update feed.
type ServeDeps struct {
	// Client talks to the chat platform.
	Client platform.Client
	// Updates feeds atomic platform events; serve returns when it closes.
	Updates <-chan *platform.Update
	// Stores may be nil; DATABASE_URL then selects postgres, and an
	// in-memory store backs everything else.
	Rules store.RuleStore
	Vars  store.VarStore
	Stats store.StatsStore
	Logs  store.LogStore
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cfg := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rule engine",
		Long: `Run the event dispatcher: load per-group rules, aggregate media
albums, fire schedules, and execute rules against incoming events.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg, nil)
		},
	}

	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", defaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().StringVar(&cfg.logFormat, "log-format", defaultLogFormat, "log format (json or text)")
	cmd.Flags().DurationVar(&cfg.aggDelay, "aggregation-delay", dispatch.DefaultAggregationDelay, "media group aggregation delay")
	cmd.Flags().DurationVar(&cfg.drainTimeout, "drain-timeout", dispatch.DefaultDrainTimeout, "shutdown drain timeout")

	return cmd
}

// runServe starts the engine with injectable dependencies. A nil deps is
// rejected: the platform client cannot be defaulted.
func runServe(ctx context.Context, cfg *serveConfig, deps *ServeDeps) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if deps == nil || deps.Client == nil || deps.Updates == nil {
		return oops.Code("CONFIG_INVALID").Errorf("no platform client configured")
	}

	logging.SetDefault("egbots", version, logging.Options{Format: cfg.logFormat})
	slog.Info("egbots starting", "version", version, "commit", commit)

	if err := fillStores(ctx, deps); err != nil {
		return err
	}

	var metrics *dispatch.Metrics
	var obs *observability.Server
	if cfg.metricsAddr != "" {
		obs = observability.NewServer(cfg.metricsAddr, nil)
		metrics = dispatch.NewMetrics(obs.Registry())
		if err := obs.Start(); err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
	}

	exec := engine.NewExecutor(deps.Client, deps.Vars, deps.Stats, deps.Logs, slog.Default())
	disp := dispatch.New(dispatch.Config{
		Rules:            deps.Rules,
		Stats:            deps.Stats,
		Exec:             exec,
		Client:           deps.Client,
		Logger:           slog.Default(),
		Metrics:          metrics,
		AggregationDelay: cfg.aggDelay,
		DrainTimeout:     cfg.drainTimeout,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case upd, ok := <-deps.Updates:
			if !ok {
				break loop
			}
			disp.Dispatch(ctx, upd)
		}
	}

	slog.Info("shutting down")
	disp.Close()
	if obs != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = obs.Stop(shutdownCtx)
	}
	return nil
}

// fillStores defaults any nil store: PostgreSQL when DATABASE_URL is set,
// a process-local memory store otherwise.
func fillStores(ctx context.Context, deps *ServeDeps) error {
	if deps.Rules != nil && deps.Vars != nil && deps.Stats != nil && deps.Logs != nil {
		return nil
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return oops.Code("DB_CONNECT_FAILED").Wrap(err)
		}
		pg := store.NewPostgresStore(pool)
		fillFrom(deps, pg, pg, pg, pg)
		return nil
	}

	slog.Warn("DATABASE_URL not set, using in-memory stores")
	mem := store.NewMemoryStore()
	fillFrom(deps, mem, mem, mem, mem)
	return nil
}

func fillFrom(deps *ServeDeps, r store.RuleStore, v store.VarStore, s store.StatsStore, l store.LogStore) {
	if deps.Rules == nil {
		deps.Rules = r
	}
	if deps.Vars == nil {
		deps.Vars = v
	}
	if deps.Stats == nil {
		deps.Stats = s
	}
	if deps.Logs == nil {
		deps.Logs = l
	}
}
