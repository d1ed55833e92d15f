package http

import (
	"context"

	"github.com/samirrijal/towermap/internal/core/usecases"
)

// Pinger is a dependency that can be pinged for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connector reports whether a broker connection is up.
type Connector interface {
	Connected() bool
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Aggregation *usecases.AggregationService
	Sessions    *usecases.SessionHub

	// BufferFraction is applied to corner-resolved viewports when the
	// client does not send one.
	BufferFraction float64

	// Readiness checks; nil means not configured.
	DB    Pinger
	Cache Pinger
	NATS  Connector
}
