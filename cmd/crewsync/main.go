// Command crewsync runs the crew analytics ingestion and query service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/crewlytics/crewsync/pkg/aggregate"
	"github.com/crewlytics/crewsync/pkg/api"
	"github.com/crewlytics/crewsync/pkg/audit"
	"github.com/crewlytics/crewsync/pkg/authz"
	"github.com/crewlytics/crewsync/pkg/config"
	"github.com/crewlytics/crewsync/pkg/identity"
	"github.com/crewlytics/crewsync/pkg/lifecycle"
	"github.com/crewlytics/crewsync/pkg/observability"
	"github.com/crewlytics/crewsync/pkg/query"
	"github.com/crewlytics/crewsync/pkg/storage/postgres"
	"github.com/crewlytics/crewsync/pkg/sync"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "crewsync: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting crewsync")

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	conns, err := postgres.NewConnectionManager(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	db := conns.Primary()

	migrateCtx, cancel := context.WithTimeout(context.Background(), cfg.Storage.Timeout)
	err = postgres.Migrate(migrateCtx, db)
	cancel()
	if err != nil {
		return err
	}

	resolver, err := identity.NewResolver([]byte(cfg.Auth.TokenSecret), cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	policy := authz.NewEngine()
	recorder := audit.NewRecorder(db, policy, metrics)
	lifecycleMgr := lifecycle.NewManager(db, policy, recorder)
	engine := sync.NewEngine(db, policy, recorder, logger, metrics, sync.Config{
		ChunkSize:   cfg.Sync.ChunkSize,
		Parallelism: cfg.Sync.Parallelism,
		Retry:       cfg.Sync.Retry,
	})
	gateway := query.NewGateway(conns.Replica(), policy, metrics)
	refresher := aggregate.NewRefresher(db, logger, metrics)
	periods := postgres.NewPeriodStore(db, policy, recorder)

	server := api.NewServer(resolver, policy, engine, gateway, lifecycleMgr, recorder, refresher, periods, logger, metrics)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes and scrapers.
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db))
	if metrics != nil {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	done := make(chan struct{})
	if metrics != nil {
		metrics.StartDBStatsCollector(db, 15*time.Second, done)
	}

	var scheduler *cron.Cron
	if cfg.Observability.RefreshSchedule != "" {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(cfg.Observability.RefreshSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if _, err := refresher.Refresh(ctx, nil); err != nil {
				logger.WithError(err).Error("scheduled aggregate refresh failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid refresh schedule %q: %w", cfg.Observability.RefreshSchedule, err)
		}
		scheduler.Start()
		logger.WithField("schedule", cfg.Observability.RefreshSchedule).Info("scheduled aggregate refresh enabled")
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		close(done)
		if scheduler != nil {
			scheduler.Stop()
		}
		return conns.Close()
	})

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()
	go func() {
		logger.WithField("addr", apiServer.Addr).Info("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("api server failed")
		}
	}()

	return shutdown.WaitForShutdown()
}
