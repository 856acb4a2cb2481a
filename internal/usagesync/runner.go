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

package usagesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/appforge/usagesync/internal/observability/logger"
	"github.com/appforge/usagesync/internal/observability/metrics"
	"github.com/appforge/usagesync/internal/tenant"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// State is the lifecycle state of a tenant's most recent sync
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// RunnerConfig controls retry and pacing
type RunnerConfig struct {
	// MaxAttempts bounds job runs per tenant; only revision conflicts are retried.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// TenantsPerSecond paces RunAll; zero or less means unlimited.
	TenantsPerSecond float64
	Burst            int
	PageSize         int
}

// DefaultRunnerConfig returns the runner defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxAttempts:      3,
		InitialBackoff:   100 * time.Millisecond,
		MaxBackoff:       2 * time.Second,
		TenantsPerSecond: 10,
		Burst:            1,
		PageSize:         100,
	}
}

// TenantReport is the outcome of one tenant within a run
type TenantReport struct {
	TenantID string `json:"tenant_id"`
	State    State  `json:"state"`
	Apps     int    `json:"apps"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Report summarizes a RunAll invocation
type Report struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Tenants    []TenantReport `json:"tenants"`
}

// Failed returns the number of tenants that failed
func (r *Report) Failed() int {
	n := 0
	for _, t := range r.Tenants {
		if t.State == StateFailed {
			n++
		}
	}
	return n
}

// Runner schedules Job runs across tenants. It owns the retry policy:
// a revision conflict reruns the whole job so the count is recomputed
// against the freshly loaded document.
type Runner struct {
	job     *Job
	tenants tenant.Repository
	cfg     RunnerConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metrics.SyncMetrics

	mu     sync.Mutex
	states map[string]State
}

// NewRunner creates a runner
func NewRunner(job *Job, tenants tenant.Repository, cfg RunnerConfig, l *slog.Logger, m *metrics.SyncMetrics) *Runner {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = 100
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.TenantsPerSecond > 0 {
		limit = rate.Limit(cfg.TenantsPerSecond)
	}
	if l == nil {
		l = slog.Default()
	}
	if m == nil {
		m = metrics.NoopSyncMetrics()
	}

	return &Runner{
		job:     job,
		tenants: tenants,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  l.With(logger.Component("usagesync")),
		metrics: m,
		states:  make(map[string]State),
	}
}

// State returns the state of the tenant's most recent sync
func (r *Runner) State(tenantID string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.states[tenantID]; ok {
		return s
	}
	return StateIdle
}

func (r *Runner) setState(tenantID string, s State) {
	r.mu.Lock()
	r.states[tenantID] = s
	r.mu.Unlock()
}

// RunTenant synchronizes a single tenant, retrying revision conflicts
func (r *Runner) RunTenant(ctx context.Context, tenantID string) (*Result, error) {
	t, err := r.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant %s: %w", tenantID, err)
	}
	res, _, err := r.runTenant(ctx, t.ID)
	return res, err
}

func (r *Runner) runTenant(ctx context.Context, tenantID string) (*Result, int, error) {
	tc, err := tenant.NewContext(tenantID)
	if err != nil {
		return nil, 0, err
	}

	r.setState(tenantID, StateRunning)

	var (
		res      *Result
		attempts int
	)
	op := func() error {
		attempts++
		var runErr error
		res, runErr = r.job.Run(ctx, tc)
		if runErr == nil {
			return nil
		}
		if errors.Is(runErr, ErrPersistenceConflict) {
			r.metrics.RecordConflict(ctx, tenantID)
			r.logger.WarnContext(ctx, "usage quota changed concurrently, recomputing",
				logger.TenantID(tenantID),
				logger.Attempt(attempts),
				logger.Error(runErr),
			)
			return runErr
		}
		return backoff.Permanent(runErr)
	}

	err = backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(r.newBackOff(), uint64(r.cfg.MaxAttempts-1)), ctx))
	if err != nil {
		r.setState(tenantID, StateFailed)
		return nil, attempts, err
	}

	r.setState(tenantID, StateSucceeded)
	return res, attempts, nil
}

func (r *Runner) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.cfg.InitialBackoff > 0 {
		b.InitialInterval = r.cfg.InitialBackoff
	}
	if r.cfg.MaxBackoff > 0 {
		b.MaxInterval = r.cfg.MaxBackoff
	}
	b.MaxElapsedTime = 0
	return b
}

// RunAll synchronizes every active tenant serially. A failing tenant does
// not stop the run; all failures are joined into the returned error.
func (r *Runner) RunAll(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     uuid.Must(uuid.NewV7()).String(),
		StartedAt: time.Now().UTC(),
	}
	log := r.logger.With(logger.RunID(report.RunID))
	log.InfoContext(ctx, "usage sync run started")

	var errs []error
	for offset := 0; ; offset += r.cfg.PageSize {
		page, err := r.tenants.List(ctx, r.cfg.PageSize, offset)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list tenants: %w", err))
			break
		}

		for _, t := range page {
			if !t.Active() {
				continue
			}
			if err := r.limiter.Wait(ctx); err != nil {
				errs = append(errs, err)
				report.FinishedAt = time.Now().UTC()
				return report, errors.Join(errs...)
			}

			res, attempts, err := r.runTenant(ctx, t.ID)
			tr := TenantReport{TenantID: t.ID, Attempts: attempts}
			if err != nil {
				tr.State = StateFailed
				tr.Error = err.Error()
				errs = append(errs, err)
				log.ErrorContext(ctx, "usage sync failed",
					logger.TenantID(t.ID),
					logger.ErrorType(string(KindOf(err))),
					logger.Error(err),
				)
			} else {
				tr.State = StateSucceeded
				tr.Apps = res.Apps
			}
			report.Tenants = append(report.Tenants, tr)
		}

		if len(page) < r.cfg.PageSize {
			break
		}
	}

	report.FinishedAt = time.Now().UTC()
	log.InfoContext(ctx, "usage sync run finished",
		slog.Int("tenants", len(report.Tenants)),
		slog.Int("failed", report.Failed()),
		logger.Duration(report.FinishedAt.Sub(report.StartedAt).Milliseconds()),
	)
	return report, errors.Join(errs...)
}

// Start runs RunAll every interval until ctx is done
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunAll(ctx); err != nil {
				r.logger.ErrorContext(ctx, "scheduled usage sync finished with errors", logger.Error(err))
			}
		}
	}
}
