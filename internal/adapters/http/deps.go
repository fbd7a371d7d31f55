package http

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/geoar/internal/core/usecases"
	"github.com/samirrijal/geoar/internal/session"
)

// Pinger is a backing service that can report its health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all services needed by HTTP handlers. Agents and the
// Pinger fields are optional.
type Dependencies struct {
	Session    *session.Controller
	Ranges     *usecases.RangeService
	Parser     *usecases.AgentParser
	Placements *usecases.PlacementService
	Agents     *usecases.AgentService

	NATS   *nats.Conn
	DB     Pinger
	Cache  Pinger
	Assets Pinger
}
