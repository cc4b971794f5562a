package session

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/mtzanidakis/teamfeed/internal/session"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)

	runsCounter, _   = meter.Int64Counter("teamfeed.runs", metric.WithDescription("Runs submitted"))
	eventsCounter, _ = meter.Int64Counter("teamfeed.events", metric.WithDescription("Stream events applied to the current run"))
	faultsCounter, _ = meter.Int64Counter("teamfeed.transport_faults", metric.WithDescription("Runs ended by a transport fault"))
)
