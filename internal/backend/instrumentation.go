package backend

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/mtzanidakis/teamfeed/internal/backend"

var tracer = otel.Tracer(scopeName)
