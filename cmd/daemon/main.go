// SPDX-License-Identifier: MIT
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tablebuzz/tablebuzz/internal/api"
	"github.com/tablebuzz/tablebuzz/internal/bus"
	"github.com/tablebuzz/tablebuzz/internal/config"
	"github.com/tablebuzz/tablebuzz/internal/health"
	tbzlog "github.com/tablebuzz/tablebuzz/internal/log"
	"github.com/tablebuzz/tablebuzz/internal/persistence/sqlite"
	"github.com/tablebuzz/tablebuzz/internal/session"
	"github.com/tablebuzz/tablebuzz/internal/transition"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	tbzlog.Configure(tbzlog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: version,
	})
	logger := tbzlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthMgr := health.NewManager(version)

	// Transition rule source: sqlite and/or YAML file, built-ins otherwise.
	var ruleSource transition.RuleSource
	if cfg.RulesDBPath != "" {
		// Refuse to serve rules from a corrupt database; a missing file is
		// fine, Open creates it.
		if _, err := os.Stat(cfg.RulesDBPath); err == nil {
			problems, err := sqlite.VerifyIntegrity(cfg.RulesDBPath, "quick")
			if err != nil {
				logger.Fatal().Err(err).Str("path", cfg.RulesDBPath).Msg("rule database integrity check failed")
			}
			if len(problems) > 0 {
				logger.Fatal().Strs("problems", problems).Str("path", cfg.RulesDBPath).Msg("rule database is corrupt")
			}
		}

		db, err := sqlite.Open(cfg.RulesDBPath, sqlite.DefaultConfig())
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.RulesDBPath).Msg("failed to open rule database")
		}
		defer func() { _ = db.Close() }()
		if err := sqlite.EnsureSchema(ctx, db); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate rule database")
		}
		ruleSource = sqlite.NewRuleStore(db)
		healthMgr.RegisterChecker(health.NewRuleDBChecker(db))
		logger.Info().Str("path", cfg.RulesDBPath).Msg("transition rules backed by sqlite")
	}

	var fileSource *transition.FileRuleSource
	if ruleSource == nil && cfg.RulesFilePath != "" {
		fileSource, err = transition.NewFileRuleSource(cfg.RulesFilePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.RulesFilePath).Msg("failed to load rule file")
		}
		ruleSource = fileSource
		logger.Info().Str("path", cfg.RulesFilePath).Msg("transition rules backed by file")
	}

	if ruleSource == nil {
		ruleSource = transition.NewDefaultRuleSource()
		logger.Info().Msg("transition rules using built-in defaults")
	}
	engine := transition.NewEngine(ruleSource, transition.WithCacheTTL(cfg.RuleCacheTTL))

	// Session cache: Redis when configured and reachable, in-memory otherwise.
	var store session.Store
	if cfg.RedisAddr != "" {
		redisStore, err := session.NewRedisStore(session.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.SessionTTL,
		})
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).
				Msg("redis unreachable, falling back to in-memory session cache")
		} else {
			defer func() { _ = redisStore.Close() }()
			healthMgr.RegisterChecker(health.NewCacheChecker(redisStore))
			store = redisStore
			logger.Info().Str("addr", cfg.RedisAddr).Msg("session cache backed by redis")
		}
	}
	if store == nil {
		memStore := session.NewMemoryStore(cfg.SessionTTL, time.Minute)
		defer func() { _ = memStore.Close() }()
		store = memStore
		logger.Info().Msg("session cache backed by memory")
	}

	hub := bus.NewHub(bus.WithBuffer(cfg.StreamBuffer))
	defer hub.Shutdown()

	var relay *bus.Relay
	if cfg.NATSURL != "" {
		relay, err = bus.NewRelay(cfg.NATSURL, hub)
		if err != nil {
			logger.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("failed to connect to nats")
		}
		if err := relay.Start(); err != nil {
			logger.Fatal().Err(err).Msg("failed to start event relay")
		}
		defer relay.Close()
		logger.Info().Str("url", cfg.NATSURL).Msg("cross-instance event relay enabled")
	}

	server := api.NewServer(cfg, engine, store, hub, healthMgr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})

	g.Go(func() error {
		hub.RunHeartbeat(gctx, cfg.HeartbeatInterval)
		return nil
	})

	g.Go(func() error {
		return runMetricsServer(gctx, cfg.MetricsListenAddr)
	})

	if fileSource != nil {
		g.Go(func() error {
			return fileSource.Watch(gctx, func() {
				if err := engine.RefreshCache(gctx); err != nil {
					logger.Warn().Err(err).Msg("rule cache refresh after file change failed")
				}
			})
		})
	}

	logger.Info().
		Str("listen", cfg.ListenAddr).
		Str("metrics", cfg.MetricsListenAddr).
		Msg("daemon started")

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Msg("daemon stopped")
}

// runMetricsServer exposes /metrics on its own listener until ctx is done.
func runMetricsServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
