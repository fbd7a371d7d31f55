package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/geoar/internal/core/domain"
)

// Subjects carried by the AR_EVENTS stream.
const (
	SubjectAgents   = "ar.agents"   // ar.agents.<region>
	SubjectLocation = "ar.location" // ar.location.<device>
	SubjectInRange  = "ar.inrange"  // ar.inrange.<session>
)

// InRangeEvent is the payload published on every range recomputation.
type InRangeEvent struct {
	SessionID string                  `json:"session_id"`
	Agents    []domain.DistanceSample `json:"agents"`
	At        time.Time               `json:"at"`
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	// Ensure streams exist
	streams := []nats.StreamConfig{
		{
			Name:      "AR_FEEDS",
			Subjects:  []string{SubjectAgents + ".>", SubjectLocation + ".>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    10 * time.Minute,
			Storage:   nats.MemoryStorage,
		},
		{
			Name:      "AR_EVENTS",
			Subjects:  []string{SubjectInRange + ".>"},
			Retention: nats.InterestPolicy,
			MaxAge:    time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist, try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// PublishInRange publishes the in-range list of a session.
func (p *Publisher) PublishInRange(ctx context.Context, sessionID string, samples []domain.DistanceSample) error {
	data, err := json.Marshal(InRangeEvent{SessionID: sessionID, Agents: samples, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectInRange+"."+sessionID, data, nats.Context(ctx))
	return err
}

// PublishAgents republishes a validated agent set for a region.
func (p *Publisher) PublishAgents(ctx context.Context, region string, agents []domain.TrackedAgent) error {
	data, err := json.Marshal(agents)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectAgents+"."+region, data, nats.Context(ctx))
	return err
}

// Conn exposes the underlying connection for health checks.
func (p *Publisher) Conn() *nats.Conn { return p.conn }

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection.
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("geoar"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
