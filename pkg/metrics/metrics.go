// Package metrics wires the proxy's observability counters (spec §7) to
// OpenTelemetry instruments, following the metering pattern
// _teacher_ref/vmcp/server/telemetry.go uses: one Meter obtained from a
// metric.MeterProvider at construction time, one named instrument per
// counter, labeled with attributes rather than split into separate
// instruments per label value.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/saxyguy81/mcp-hub/pkg/metrics"

// Metrics holds every counter the spec's testable properties name (§7,
// §3's collision policy, §4.F's notification handling).
type Metrics struct {
	capabilityConflicts  metric.Int64Counter
	droppedNotifications metric.Int64Counter
	errorsTotal          metric.Int64Counter
}

// New builds a Metrics bound to provider. A nil provider falls back to
// whatever global MeterProvider otel.SetMeterProvider installed (a no-op
// provider if the process never installed one), matching how a library
// package that does not own process-wide telemetry setup is expected to
// behave.
func New(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)

	conflicts, err := meter.Int64Counter(
		"mcphub_capability_conflicts_total",
		metric.WithDescription("Capability key collisions resolved by the capability index, by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: create capability_conflicts_total: %w", err)
	}

	dropped, err := meter.Int64Counter(
		"mcphub_dropped_notifications_total",
		metric.WithDescription("Notifications accepted on the MCP endpoint but dropped rather than forwarded"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: create dropped_notifications_total: %w", err)
	}

	errorsTotal, err := meter.Int64Counter(
		"mcphub_errors_total",
		metric.WithDescription("Non-success outcomes, by taxonomy kind (spec §7)"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: create errors_total: %w", err)
	}

	return &Metrics{
		capabilityConflicts:  conflicts,
		droppedNotifications: dropped,
		errorsTotal:          errorsTotal,
	}, nil
}

// CapabilityConflict records one capability-key collision in namespace
// kind (tool, resource, or prompt).
func (m *Metrics) CapabilityConflict(kind string) {
	m.capabilityConflicts.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// DroppedNotification records one notification the router accepted but
// had no target to forward to.
func (m *Metrics) DroppedNotification() {
	m.droppedNotifications.Add(context.Background(), 1)
}

// Error records one non-success outcome classified as kind (transport,
// protocol, not_found, deadline_exceeded, invalid_params, backend_unavailable,
// internal).
func (m *Metrics) Error(kind string) {
	m.errorsTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}
