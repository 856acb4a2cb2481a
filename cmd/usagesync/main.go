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
	"errors"
	"fmt"
	"log/slog"
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

// usagesync [tenant-id ...]
//
// Recomputes the development app count for the given tenants, or for every
// active tenant when none are given. `usagesync token <subject>` prints an
// admin API bearer token instead.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := printToken(cfg, os.Args[2:]); err != nil {
			fmt.Printf("Token generation failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, log, os.Args[1:]); err != nil {
		log.Error("usage sync failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger, tenantIDs []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		log.Error("failed to initialize tracer", logger.Error(err))
		tracer = tracing.Noop()
	}
	defer tracer.Shutdown(context.Background())

	meter, err := metrics.New(ctx, metrics.Config{Enabled: cfg.Observability.OTELEnabled}, cfg.Observability.ServiceName)
	if err != nil {
		return err
	}
	defer meter.Shutdown(context.Background())
	syncMetrics, err := metrics.NewSyncMetrics(meter)
	if err != nil {
		return err
	}

	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	job := usagesync.NewJob(
		postgres.NewAppRepository(db),
		postgres.NewQuotaRepository(db),
		audit.NewSlogLogger(log),
		usagesync.WithLogger(log),
		usagesync.WithTracer(tracer),
		usagesync.WithMetrics(syncMetrics),
	)
	runner := usagesync.NewRunner(job, postgres.NewTenantRepository(db), usagesync.RunnerConfig{
		MaxAttempts:      cfg.Sync.MaxAttempts,
		InitialBackoff:   cfg.Sync.InitialBackoff,
		MaxBackoff:       cfg.Sync.MaxBackoff,
		TenantsPerSecond: cfg.Sync.TenantsPerSecond,
		Burst:            cfg.Sync.Burst,
		PageSize:         cfg.Sync.PageSize,
	}, log, syncMetrics)

	if len(tenantIDs) == 0 {
		report, err := runner.RunAll(ctx)
		if report != nil {
			fmt.Printf("Synced %d tenants (%d failed)\n", len(report.Tenants), report.Failed())
		}
		return err
	}

	var errs []error
	for _, id := range tenantIDs {
		res, err := runner.RunTenant(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Printf("✓ %s: %d apps (revision %d)\n", res.TenantID, res.Apps, res.Revision)
	}
	return errors.Join(errs...)
}

func printToken(cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: usagesync token <subject>")
	}
	tok, err := transportHTTP.SignAdminToken(transportHTTP.AuthConfig{
		Secret: []byte(cfg.Security.JWTSecret),
		Issuer: cfg.Security.JWTIssuer,
	}, args[0], 24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
