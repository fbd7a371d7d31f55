package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/core/ports"
	"github.com/samirrijal/geoar/internal/core/usecases"
)

const maxFeedBytes = 4 << 20

// agentStore persists relayed agents for the nearby query.
type agentStore interface {
	Register(ctx context.Context, agents []domain.TrackedAgent) error
}

// relay polls an HTTP nearby-agent feed and republishes the validated
// records on ar.agents.<region>.
type relay struct {
	client *http.Client
	url    string
	region string
	parser *usecases.AgentParser
	pub    ports.EventPublisher
	store  agentStore // optional
	logger *slog.Logger
}

func (r *relay) pollLogged(ctx context.Context) {
	n, err := r.poll(ctx)
	if err != nil {
		r.logger.Error("feed poll failed", "url", r.url, "error", err)
		return
	}
	r.logger.Debug("feed relayed", "agents", n)
}

// poll fetches the feed once and returns the number of agents published.
func (r *relay) poll(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w", r.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTP %d for %s", resp.StatusCode, r.url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}

	agents, rejected, err := r.parser.Decode(body)
	if err != nil {
		return 0, fmt.Errorf("decode feed: %w", err)
	}
	for _, rej := range rejected {
		r.logger.Debug("record rejected", "error", rej)
	}

	if r.store != nil {
		if err := r.store.Register(ctx, agents); err != nil {
			return 0, fmt.Errorf("store agents: %w", err)
		}
	}
	if err := r.pub.PublishAgents(ctx, r.region, agents); err != nil {
		return 0, fmt.Errorf("publish agents: %w", err)
	}
	return len(agents), nil
}
