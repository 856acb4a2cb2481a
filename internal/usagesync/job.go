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
	"time"

	"github.com/appforge/usagesync/internal/app"
	"github.com/appforge/usagesync/internal/audit"
	"github.com/appforge/usagesync/internal/observability/logger"
	"github.com/appforge/usagesync/internal/observability/metrics"
	"github.com/appforge/usagesync/internal/observability/tracing"
	"github.com/appforge/usagesync/internal/quota"
	"github.com/appforge/usagesync/internal/tenant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Result describes a successful synchronization
type Result struct {
	TenantID string        `json:"tenant_id"`
	Apps     int           `json:"apps"`
	Previous int64         `json:"previous"`
	Revision int64         `json:"revision"`
	Duration time.Duration `json:"duration"`
}

// Job recomputes a tenant's development app count and stores it in the
// tenant's usage quota document. A Job holds no state between runs and
// never retries; retry policy belongs to the caller.
type Job struct {
	apps        app.Directory
	quotas      quota.Store
	auditLogger audit.Logger
	logger      *slog.Logger
	tracer      *tracing.Tracer
	metrics     *metrics.SyncMetrics
	now         func() time.Time
}

// Option configures a Job
type Option func(*Job)

// WithLogger sets the logger used for the sync diagnostic line
func WithLogger(l *slog.Logger) Option {
	return func(j *Job) { j.logger = l }
}

// WithTracer sets the tracer
func WithTracer(t *tracing.Tracer) Option {
	return func(j *Job) { j.tracer = t }
}

// WithMetrics sets the metric instruments
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(j *Job) { j.metrics = m }
}

// NewJob creates a usage sync job
func NewJob(apps app.Directory, quotas quota.Store, auditLogger audit.Logger, opts ...Option) *Job {
	j := &Job{
		apps:        apps,
		quotas:      quotas,
		auditLogger: auditLogger,
		logger:      slog.Default(),
		tracer:      tracing.Noop(),
		metrics:     metrics.NoopSyncMetrics(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run synchronizes the app count of the tenant identified by tc
func (j *Job) Run(ctx context.Context, tc tenant.Context) (*Result, error) {
	if tc.ID == "" {
		return nil, tenant.ErrMissingTenant
	}

	start := j.now()
	ctx = tenant.WithContext(ctx, tc)
	ctx, span := j.tracer.Start(ctx, "usagesync.Run",
		trace.WithAttributes(attribute.String("tenant_id", tc.ID)),
	)
	defer span.End()

	devApps, err := j.apps.ListApplications(ctx, tc, app.Filter{Development: true})
	if err != nil {
		return nil, j.fail(ctx, span, tc, start, KindQueryFailure, err)
	}
	appCount := len(devApps)

	j.logger.InfoContext(ctx, fmt.Sprintf("[Tenant: %s] Syncing app count: %d", tc.ID, appCount),
		logger.TenantID(tc.ID),
		logger.AppCount(appCount),
	)

	doc, err := j.quotas.GetOrCreate(ctx, tc)
	if err != nil {
		return nil, j.fail(ctx, span, tc, start, KindMissingQuotaDocument, err)
	}
	if doc == nil {
		return nil, j.fail(ctx, span, tc, start, KindMissingQuotaDocument, nil)
	}

	previous := doc.UsageQuota.Apps
	doc.UsageQuota.Apps = int64(appCount)

	if err := j.quotas.Put(ctx, doc); err != nil {
		kind := KindPersistence
		if errors.Is(err, quota.ErrRevisionConflict) {
			kind = KindPersistenceConflict
		}
		return nil, j.fail(ctx, span, tc, start, kind, err)
	}

	elapsed := j.now().Sub(start)
	span.SetAttributes(attribute.Int("app_count", appCount), attribute.Int64("revision", doc.Revision))
	j.metrics.RecordSuccess(ctx, tc.ID, appCount, elapsed)
	j.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeQuotaSynced,
		TenantID: tc.ID,
		ActorID:  "system",
		Resource: doc.ID,
		Metadata: map[string]any{"app_count": appCount, "previous": previous, "revision": doc.Revision},
	})
	if doc.Exceeded() {
		j.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeQuotaExceeded,
			TenantID: tc.ID,
			ActorID:  "system",
			Resource: doc.ID,
			Metadata: map[string]any{"app_count": appCount, "limit": doc.UsageLimits.Apps},
		})
	}

	return &Result{
		TenantID: tc.ID,
		Apps:     appCount,
		Previous: previous,
		Revision: doc.Revision,
		Duration: elapsed,
	}, nil
}

func (j *Job) fail(ctx context.Context, span trace.Span, tc tenant.Context, start time.Time, kind Kind, cause error) error {
	err := &Error{Kind: kind, TenantID: tc.ID, Err: cause}

	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))
	j.metrics.RecordFailure(ctx, tc.ID, string(kind), j.now().Sub(start))
	j.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeQuotaSyncFailed,
		TenantID: tc.ID,
		ActorID:  "system",
		Resource: quota.DocumentID,
		Metadata: map[string]any{"kind": string(kind)},
	})

	return err
}
