package ports

import (
	"context"

	"github.com/samirrijal/geoar/internal/core/domain"
)

// EventPublisher publishes engine events to a message broker.
type EventPublisher interface {
	PublishInRange(ctx context.Context, sessionID string, samples []domain.DistanceSample) error
	PublishAgents(ctx context.Context, region string, agents []domain.TrackedAgent) error
}

// EventSubscriber delivers raw feed payloads from a message broker.
// Payloads are decoded by the caller so that every record passes the
// boundary parser.
type EventSubscriber interface {
	SubscribeAgentFeed(ctx context.Context, handler func(ctx context.Context, data []byte) error) error
	SubscribeLocations(ctx context.Context, handler func(ctx context.Context, data []byte) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// AssetLoader resolves a model reference into a mesh. Implementations
// should honour ctx cancellation; the scene manager does not rely on it.
type AssetLoader interface {
	Load(ctx context.Context, modelRef string) (*domain.Mesh, error)
}
