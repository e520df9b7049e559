package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments are created against the global provider, which forwards to
// whatever provider Init installs later.
var meter = otel.Meter("chat-notify")

var (
	SessionsActive, _ = meter.Int64UpDownCounter("notify_sessions_active",
		metric.WithDescription("Live notification sessions"))
	Polls, _ = meter.Int64Counter("notify_polls_total",
		metric.WithDescription("Delta engine polls"))
	PollErrors, _ = meter.Int64Counter("notify_poll_errors_total",
		metric.WithDescription("Storage failures while polling, by kind"))
	Pushes, _ = meter.Int64Counter("notify_pushes_total",
		metric.WithDescription("Payloads written to clients, by kind"))
	PresenceTransitions, _ = meter.Int64Counter("notify_presence_transitions_total",
		metric.WithDescription("Persistent online/offline transitions"))
)

func Kind(kind string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", kind))
}
