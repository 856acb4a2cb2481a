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

package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Config holds metrics configuration
type Config struct {
	Enabled        bool
	ExportInterval time.Duration
	// Reader replaces the OTLP exporter when set.
	Reader sdkmetric.Reader
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
}

// New creates a new meter instance. When enabled, metrics are pushed over
// OTLP/gRPC to the endpoint named by the OTEL_EXPORTER_OTLP_* variables.
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{
			meter: noop.NewMeterProvider().Meter(serviceName),
		}, nil
	}

	reader := cfg.Reader
	if reader == nil {
		exporter, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		interval := cfg.ExportInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(provider)

	return &Meter{
		meter:    provider.Meter(serviceName),
		provider: provider,
	}, nil
}

// Shutdown flushes and stops the exporter
func (m *Meter) Shutdown(ctx context.Context) error {
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// SyncMetrics records usage synchronization outcomes
type SyncMetrics struct {
	runs      metric.Int64Counter
	failures  metric.Int64Counter
	conflicts metric.Int64Counter
	duration  metric.Float64Histogram
	apps      metric.Float64Histogram
}

// NewSyncMetrics registers the usage sync instruments on m
func NewSyncMetrics(m *Meter) (*SyncMetrics, error) {
	var (
		s   SyncMetrics
		err error
	)
	if s.runs, err = m.CreateCounter("usagesync.runs", "Usage sync invocations"); err != nil {
		return nil, err
	}
	if s.failures, err = m.CreateCounter("usagesync.failures", "Failed usage sync invocations"); err != nil {
		return nil, err
	}
	if s.conflicts, err = m.CreateCounter("usagesync.conflicts", "Usage quota revision conflicts"); err != nil {
		return nil, err
	}
	if s.duration, err = m.CreateHistogram("usagesync.duration", "Usage sync duration", "ms"); err != nil {
		return nil, err
	}
	if s.apps, err = m.CreateHistogram("usagesync.app_count", "Development apps counted per sync", "{app}"); err != nil {
		return nil, err
	}
	return &s, nil
}

// NoopSyncMetrics returns instruments that record nothing
func NoopSyncMetrics() *SyncMetrics {
	s, _ := NewSyncMetrics(&Meter{meter: noop.NewMeterProvider().Meter("noop")})
	return s
}

// RecordSuccess records a completed sync
func (s *SyncMetrics) RecordSuccess(ctx context.Context, tenantID string, apps int, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("tenant_id", tenantID))
	s.runs.Add(ctx, 1, attrs)
	s.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	s.apps.Record(ctx, float64(apps), attrs)
}

// RecordFailure records a failed sync classified by kind
func (s *SyncMetrics) RecordFailure(ctx context.Context, tenantID, kind string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("kind", kind),
	)
	s.runs.Add(ctx, 1, attrs)
	s.failures.Add(ctx, 1, attrs)
	s.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

// RecordConflict records a revision conflict seen by the retrying runner
func (s *SyncMetrics) RecordConflict(ctx context.Context, tenantID string) {
	s.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_id", tenantID)))
}
