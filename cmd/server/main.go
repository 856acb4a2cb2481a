// Copyright 2026 The AppForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/appforge/usagesync/internal/audit"
	"github.com/appforge/usagesync/internal/config"
	"github.com/appforge/usagesync/internal/observability/logger"
	"github.com/appforge/usagesync/internal/observability/metrics"
	"github.com/appforge/usagesync/internal/observability/tracing"
	"github.com/appforge/usagesync/internal/store/postgres"
	transportHTTP "github.com/appforge/usagesync/internal/transport/http"
	"github.com/appforge/usagesync/internal/usagesync"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting usage sync service")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
		tracer = tracing.Noop()
	}
	defer tracer.Shutdown(context.Background())

	// Initialize meter
	syncMetrics := metrics.NoopSyncMetrics()
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	} else {
		defer meter.Shutdown(context.Background())
		if m, err := metrics.NewSyncMetrics(meter); err != nil {
			slog.Error("failed to register sync instruments", logger.Error(err))
		} else {
			syncMetrics = m
		}
	}

	// Initialize database
	db, err := postgres.New(ctx, dbConfig(cfg))
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize repositories
	appRepo := postgres.NewAppRepository(db)
	quotaRepo := postgres.NewQuotaRepository(db)
	tenantRepo := postgres.NewTenantRepository(db)

	// Initialize sync job and runner
	job := usagesync.NewJob(
		appRepo,
		quotaRepo,
		audit.NewSlogLogger(log),
		usagesync.WithLogger(log),
		usagesync.WithTracer(tracer),
		usagesync.WithMetrics(syncMetrics),
	)
	runner := usagesync.NewRunner(job, tenantRepo, usagesync.RunnerConfig{
		MaxAttempts:      cfg.Sync.MaxAttempts,
		InitialBackoff:   cfg.Sync.InitialBackoff,
		MaxBackoff:       cfg.Sync.MaxBackoff,
		TenantsPerSecond: cfg.Sync.TenantsPerSecond,
		Burst:            cfg.Sync.Burst,
		PageSize:         cfg.Sync.PageSize,
	}, log, syncMetrics)

	if cfg.Sync.Interval > 0 {
		go runner.Start(ctx, cfg.Sync.Interval)
	} else {
		slog.Info("periodic sync disabled")
	}

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer rateLimiter.Close()

	if cfg.Security.JWTSecret == "" {
		slog.Warn("ADMIN_JWT_SECRET not set, admin API is disabled")
	}

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(runner, quotaRepo, transportHTTP.AuthConfig{
		Secret: []byte(cfg.Security.JWTSecret),
		Issuer: cfg.Security.JWTIssuer,
	})
	router := transportHTTP.NewRouter(handler, rateLimiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

func dbConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, dbConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
