package usecases

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/core/ports"
	"github.com/samirrijal/geoar/internal/pkg/metrics"
)

// AgentService wraps the external nearby-agent query.
type AgentService struct {
	agents ports.AgentRepository
	cache  ports.CacheService
}

// NewAgentService creates a new AgentService. cache may be nil.
func NewAgentService(agents ports.AgentRepository, cache ports.CacheService) *AgentService {
	return &AgentService{agents: agents, cache: cache}
}

// FindNearby returns active agents within radiusMeters of the given point.
func (s *AgentService) FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.TrackedAgent, error) {
	if err := (domain.GeoPoint{Lat: lat, Lon: lon}).Validate(); err != nil {
		return nil, err
	}
	if radiusMeters <= 0 {
		return nil, &domain.ValidationError{Field: "radius", Reason: "must be positive"}
	}
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	// ~11 m grid keeps the key stable across GPS jitter.
	cacheKey := fmt.Sprintf("agents:nearby:%.4f:%.4f:%.0f:%d", lat, lon, radiusMeters, limit)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var agents []domain.TrackedAgent
			if err := json.Unmarshal(data, &agents); err == nil {
				metrics.CacheHits.WithLabelValues("agents_nearby").Inc()
				return agents, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("agents_nearby").Inc()
	}

	agents, err := s.agents.FindNearby(ctx, lat, lon, radiusMeters, limit)
	if err != nil {
		return nil, fmt.Errorf("find nearby agents: %w", err)
	}

	// Agents move; keep the window short.
	if s.cache != nil {
		if data, err := json.Marshal(agents); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, 15)
		}
	}

	return agents, nil
}

// GetByID returns a single agent.
func (s *AgentService) GetByID(ctx context.Context, id string) (*domain.TrackedAgent, error) {
	if id == "" {
		return nil, &domain.ValidationError{Field: "id", Reason: "empty"}
	}
	cacheKey := "agents:id:" + id
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var agent domain.TrackedAgent
			if err := json.Unmarshal(data, &agent); err == nil {
				return &agent, nil
			}
		}
	}

	agent, err := s.agents.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(agent); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, 60)
		}
	}
	return agent, nil
}

// Register stores validated agents and drops their cached copies.
func (s *AgentService) Register(ctx context.Context, agents []domain.TrackedAgent) error {
	for i := range agents {
		if err := agents[i].Validate(); err != nil {
			return fmt.Errorf("agent %q: %w", agents[i].ID, err)
		}
		if err := s.agents.Upsert(ctx, &agents[i]); err != nil {
			return fmt.Errorf("upsert agent %s: %w", agents[i].ID, err)
		}
		if s.cache != nil {
			_ = s.cache.Delete(ctx, "agents:id:"+agents[i].ID)
		}
	}
	return nil
}

// Deactivate flags an agent inactive so it drops out of later results.
func (s *AgentService) Deactivate(ctx context.Context, id string) error {
	if err := s.agents.Deactivate(ctx, id); err != nil {
		return fmt.Errorf("deactivate agent %s: %w", id, err)
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, "agents:id:"+id)
	}
	return nil
}
