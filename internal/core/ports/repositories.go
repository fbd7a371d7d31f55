package ports

import (
	"context"

	"github.com/samirrijal/geoar/internal/core/domain"
)

// AgentRepository is the external nearby-agent query.
type AgentRepository interface {
	Upsert(ctx context.Context, agent *domain.TrackedAgent) error
	GetByID(ctx context.Context, id string) (*domain.TrackedAgent, error)
	FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.TrackedAgent, error)
	Deactivate(ctx context.Context, id string) error
}
