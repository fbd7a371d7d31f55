package natsadapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Subscriber implements ports.EventSubscriber using NATS JetStream.
type Subscriber struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	subs   []*nats.Subscription
	logger *slog.Logger
}

// NewSubscriber creates a subscriber with its own NATS connection.
func NewSubscriber(url string, logger *slog.Logger) (*Subscriber, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{conn: conn, js: js, logger: logger.With("component", "nats")}, nil
}

// SubscribeAgentFeed delivers raw agent payloads from ar.agents.>.
func (s *Subscriber) SubscribeAgentFeed(ctx context.Context, handler func(ctx context.Context, data []byte) error) error {
	return s.subscribe(ctx, SubjectAgents+".>", "geoar-agent-feed", handler)
}

// SubscribeLocations delivers raw location fixes from ar.location.>.
func (s *Subscriber) SubscribeLocations(ctx context.Context, handler func(ctx context.Context, data []byte) error) error {
	return s.subscribe(ctx, SubjectLocation+".>", "geoar-location-feed", handler)
}

func (s *Subscriber) subscribe(ctx context.Context, subject, durable string, handler func(ctx context.Context, data []byte) error) error {
	sub, err := s.js.Subscribe(subject, func(msg *nats.Msg) {
		if err := handler(ctx, msg.Data); err != nil {
			s.logger.Warn("feed message rejected", "subject", msg.Subject, "error", err)
			// Rejected payloads are not redelivered.
			_ = msg.Term()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.MaxDeliver(3),
		nats.DeliverNew(),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
