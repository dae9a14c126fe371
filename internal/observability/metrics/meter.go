// Copyright 2026 The Tenantgate Authors
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter and the instruments this service emits.
type Meter struct {
	meter metric.Meter

	authzDecisions metric.Int64Counter
	authzLatency   metric.Float64Histogram
	tenantPools    metric.Int64UpDownCounter
	poolFailures   metric.Int64Counter
}

// New creates a new meter instance
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{
			meter: otel.Meter("noop"),
		}, nil
	}

	// Get meter from global meter provider
	// In production, configure a proper meter provider with exporters
	meter := otel.Meter(serviceName)

	m := &Meter{meter: meter}

	var err error
	if m.authzDecisions, err = meter.Int64Counter(
		"authz_decisions_total",
		metric.WithDescription("Authorization decisions by outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create counter authz_decisions_total: %w", err)
	}
	if m.authzLatency, err = meter.Float64Histogram(
		"authz_check_duration",
		metric.WithDescription("Authorization check duration"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create histogram authz_check_duration: %w", err)
	}
	if m.tenantPools, err = meter.Int64UpDownCounter(
		"tenant_pools_active",
		metric.WithDescription("Cached tenant connection pools"),
	); err != nil {
		return nil, fmt.Errorf("failed to create counter tenant_pools_active: %w", err)
	}
	if m.poolFailures, err = meter.Int64Counter(
		"tenant_pool_failures_total",
		metric.WithDescription("Failed tenant pool constructions"),
	); err != nil {
		return nil, fmt.Errorf("failed to create counter tenant_pool_failures_total: %w", err)
	}

	return m, nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// RecordDecision counts one authorization decision. All record methods
// are no-ops on a nil receiver so callers need no metrics-enabled branch.
func (m *Meter) RecordDecision(ctx context.Context, authKey string, allowed bool) {
	if m == nil || m.authzDecisions == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.authzDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("auth_key", authKey),
		attribute.String("outcome", outcome),
	))
}

// RecordCheckDuration records the latency of one authorization check.
func (m *Meter) RecordCheckDuration(ctx context.Context, ms float64) {
	if m == nil || m.authzLatency == nil {
		return
	}
	m.authzLatency.Record(ctx, ms)
}

// PoolCreated counts a newly cached tenant pool.
func (m *Meter) PoolCreated(ctx context.Context, tenantCode string) {
	if m == nil || m.tenantPools == nil {
		return
	}
	m.tenantPools.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenantCode),
	))
}

// PoolFailed counts a failed tenant pool construction.
func (m *Meter) PoolFailed(ctx context.Context, tenantCode string) {
	if m == nil || m.poolFailures == nil {
		return
	}
	m.poolFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenantCode),
	))
}
