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

// Package system runs the usage sync pipeline against a real PostgreSQL database.
//
// Test Execution:
//
//	INTEGRATION_TEST=true go test -v ./tests/system/...
//
// Prerequisites:
//
//	Docker, or DB_HOST pointing at a reachable PostgreSQL
package system

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/appforge/usagesync/internal/app"
	"github.com/appforge/usagesync/internal/audit"
	"github.com/appforge/usagesync/internal/observability/metrics"
	"github.com/appforge/usagesync/internal/quota"
	"github.com/appforge/usagesync/internal/store/postgres"
	"github.com/appforge/usagesync/internal/tenant"
	"github.com/appforge/usagesync/internal/usagesync"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// testDB is the shared database connection for integration tests
var testDB *postgres.DB

// TestMain connects to DB_HOST when set, otherwise starts a disposable
// PostgreSQL container.
func TestMain(m *testing.M) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		os.Exit(0)
	}

	ctx := context.Background()
	connString, stop, err := databaseURL(ctx)
	if err != nil {
		panic("failed to provision test database: " + err.Error())
	}

	db, err := postgres.Open(ctx, connString)
	if err != nil {
		stop()
		panic("failed to connect to test database: " + err.Error())
	}
	testDB = db

	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		testDB.Close()
		stop()
		panic("failed to apply schema: " + err.Error())
	}

	code := m.Run()

	testDB.Close()
	stop()
	os.Exit(code)
}

func databaseURL(ctx context.Context) (string, func(), error) {
	if host := os.Getenv("DB_HOST"); host != "" {
		return postgres.Config{
			Host:         host,
			Port:         getEnvOrDefault("DB_PORT", "5432"),
			User:         getEnvOrDefault("DB_USER", "usagesync"),
			Password:     getEnvOrDefault("DB_PASSWORD", "usagesync_dev_password"),
			Database:     getEnvOrDefault("DB_NAME", "usagesync"),
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		}.ConnString(), func() {}, nil
	}

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("usagesync_test"),
		tcpostgres.WithUsername("usagesync"),
		tcpostgres.WithPassword("usagesync_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return "", nil, err
	}
	stop := func() { _ = container.Terminate(context.Background()) }

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		stop()
		return "", nil, err
	}
	return dsn, stop, nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRunner(t *testing.T, cfg usagesync.RunnerConfig) *usagesync.Runner {
	t.Helper()
	log := slog.Default()
	job := usagesync.NewJob(
		postgres.NewAppRepository(testDB),
		postgres.NewQuotaRepository(testDB),
		audit.NewSlogLogger(log),
		usagesync.WithLogger(log),
	)
	return usagesync.NewRunner(job, postgres.NewTenantRepository(testDB), cfg, log, metrics.NoopSyncMetrics())
}

// seedTenant creates a tenant with dev development apps and pub published apps
func seedTenant(t *testing.T, status string, dev, pub int) string {
	t.Helper()
	ctx := context.Background()
	id := "sys-" + uuid.NewString()

	require.NoError(t, postgres.NewTenantRepository(testDB).Create(ctx, &tenant.Tenant{ID: id, Name: id, Status: status}))
	t.Cleanup(func() {
		testDB.Pool().Exec(context.Background(), "DELETE FROM tenants WHERE id = $1", id)
	})

	apps := postgres.NewAppRepository(testDB)
	for i := 0; i < dev+pub; i++ {
		s := &app.Summary{ID: fmt.Sprintf("app_%d", i), TenantID: id, Name: fmt.Sprintf("App %d", i), Status: app.StatusDevelopment}
		if i >= dev {
			s.Status = app.StatusPublished
		}
		require.NoError(t, apps.Create(ctx, s))
	}
	return id
}

// TestPurpose: Validates that syncing one tenant never reads or writes another tenant's data.
// Scope: System Test
// Expected: Tenant A's document holds A's count; tenant B has no document until it is synced.
// Test Case ID: SYS-01
func TestSync_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	a := seedTenant(t, tenant.StatusActive, 3, 1)
	b := seedTenant(t, tenant.StatusActive, 5, 0)

	runner := newRunner(t, usagesync.DefaultRunnerConfig())
	res, err := runner.RunTenant(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Apps)

	quotas := postgres.NewQuotaRepository(testDB)
	docA, err := quotas.Get(ctx, tenant.Context{ID: a})
	require.NoError(t, err)
	assert.Equal(t, int64(3), docA.UsageQuota.Apps)

	_, err = quotas.Get(ctx, tenant.Context{ID: b})
	assert.ErrorIs(t, err, quota.ErrNotFound)

	res, err = runner.RunTenant(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Apps)

	docA, err = quotas.Get(ctx, tenant.Context{ID: a})
	require.NoError(t, err)
	assert.Equal(t, int64(3), docA.UsageQuota.Apps, "tenant A must be untouched by B's sync")
}

// TestPurpose: Validates the full sweep syncs active tenants and skips inactive ones.
// Scope: System Test
// Expected: Active tenants appear in the report with their counts; the inactive tenant is absent.
// Test Case ID: SYS-02
func TestSync_RunAll(t *testing.T) {
	ctx := context.Background()
	active := seedTenant(t, tenant.StatusActive, 2, 2)
	inactive := seedTenant(t, tenant.StatusInactive, 4, 0)

	cfg := usagesync.DefaultRunnerConfig()
	cfg.TenantsPerSecond = 0
	report, err := newRunner(t, cfg).RunAll(ctx)
	if err != nil {
		// Other suites share the database; only this test's tenants are asserted.
		t.Logf("sweep reported errors: %v", err)
	}
	require.NotNil(t, report)

	byID := make(map[string]usagesync.TenantReport)
	for _, r := range report.Tenants {
		byID[r.TenantID] = r
	}
	require.Contains(t, byID, active)
	assert.Equal(t, usagesync.StateSucceeded, byID[active].State)
	assert.Equal(t, 2, byID[active].Apps)
	assert.NotContains(t, byID, inactive)
}

// TestPurpose: Validates concurrent syncs of one tenant converge without losing the count.
// Scope: System Test
// Expected: Every sync succeeds through conflict retries; revision advances once per sync.
// Test Case ID: SYS-03
func TestSync_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	id := seedTenant(t, tenant.StatusActive, 7, 0)

	cfg := usagesync.DefaultRunnerConfig()
	cfg.MaxAttempts = 20
	cfg.InitialBackoff = 5 * time.Millisecond
	cfg.MaxBackoff = 50 * time.Millisecond
	runner := newRunner(t, cfg)

	const writers = 6
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := runner.RunTenant(ctx, id)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	doc, err := postgres.NewQuotaRepository(testDB).Get(ctx, tenant.Context{ID: id})
	require.NoError(t, err)
	assert.Equal(t, int64(7), doc.UsageQuota.Apps)
	assert.Equal(t, int64(writers), doc.Revision)
}
