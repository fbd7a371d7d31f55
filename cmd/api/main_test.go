package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/core/usecases"
	"github.com/samirrijal/geoar/internal/session"
)

type feedHandler func(ctx context.Context, data []byte) error

type capturingSubscriber struct {
	agents    feedHandler
	locations feedHandler
}

func (s *capturingSubscriber) SubscribeAgentFeed(_ context.Context, h func(ctx context.Context, data []byte) error) error {
	s.agents = h
	return nil
}

func (s *capturingSubscriber) SubscribeLocations(_ context.Context, h func(ctx context.Context, data []byte) error) error {
	s.locations = h
	return nil
}

type immediate struct{}

func (immediate) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func wireFeeds(t *testing.T) (*capturingSubscriber, *usecases.RangeService) {
	t.Helper()
	parser, err := usecases.NewAgentParser(nil)
	require.NoError(t, err)
	ranges := usecases.NewRangeService(nil)
	ctrl := session.NewController(ranges, missingAssets{}, session.DefaultConfig(), nil,
		session.WithScheduler(immediate{}))
	t.Cleanup(func() { _ = ctrl.Close(context.Background()) })

	sub := &capturingSubscriber{}
	require.NoError(t, subscribeFeeds(context.Background(), sub, parser, ctrl))
	require.NotNil(t, sub.agents)
	require.NotNil(t, sub.locations)
	return sub, ranges
}

func TestSubscribeFeeds_LocationFieldNames(t *testing.T) {
	sub, ranges := wireFeeds(t)

	err := sub.locations(context.Background(), []byte(`{"latitude":37.7749,"longitude":-122.4194}`))
	require.NoError(t, err)

	anchor, ok := ranges.Anchor()
	require.True(t, ok)
	assert.Equal(t, 37.7749, anchor.Lat)
	assert.Equal(t, -122.4194, anchor.Lon)
}

func TestSubscribeFeeds_LocationMissingFieldsRejected(t *testing.T) {
	sub, ranges := wireFeeds(t)

	for _, payload := range []string{`{}`, `{"lat":37.7749}`, `{"latitud":1,"longitud":2}`} {
		err := sub.locations(context.Background(), []byte(payload))
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr, payload)
	}
	_, ok := ranges.Anchor()
	assert.False(t, ok, "rejected fixes must not set the anchor")
}

func TestSubscribeFeeds_RejectedFixKeepsAnchor(t *testing.T) {
	sub, ranges := wireFeeds(t)

	require.NoError(t, sub.locations(context.Background(), []byte(`{"lat":10,"lon":20}`)))
	require.Error(t, sub.locations(context.Background(), []byte(`{"lon":0}`)))

	anchor, ok := ranges.Anchor()
	require.True(t, ok)
	assert.Equal(t, 10.0, anchor.Lat)
	assert.Equal(t, 20.0, anchor.Lon)
}

func TestSubscribeFeeds_AgentFeed(t *testing.T) {
	sub, ranges := wireFeeds(t)

	err := sub.agents(context.Background(), []byte(`[
		{"id":"a1","latitude":37.7750,"longitude":-122.4195},
		{"id":"bad","latitude":200,"longitude":0}
	]`))
	require.NoError(t, err)

	agents := ranges.Agents()
	require.Len(t, agents, 1)
	assert.Equal(t, "a1", agents[0].ID)

	assert.Error(t, sub.agents(context.Background(), []byte(`"nope"`)))
}

type recordingPublisher struct {
	mu      sync.Mutex
	lists   [][]domain.DistanceSample
	entered chan struct{}
	release chan struct{}
}

func (p *recordingPublisher) PublishInRange(_ context.Context, _ string, samples []domain.DistanceSample) error {
	p.mu.Lock()
	p.lists = append(p.lists, samples)
	n := len(p.lists)
	p.mu.Unlock()
	if n == 1 {
		close(p.entered)
		<-p.release
	}
	return nil
}

func (p *recordingPublisher) PublishAgents(context.Context, string, []domain.TrackedAgent) error {
	return nil
}

func (p *recordingPublisher) published() [][]domain.DistanceSample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]domain.DistanceSample(nil), p.lists...)
}

func TestInRangePublisher_SlowBrokerGetsNewestInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := &recordingPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	forward := inRangePublisher(ctx, pub, "s1", slog.Default())

	list := func(id string) []domain.DistanceSample {
		return []domain.DistanceSample{{AgentID: id, InRange: true}}
	}
	forward(list("first"))
	<-pub.entered

	forward(list("stale"))
	forward(list("newest"))
	close(pub.release)

	require.Eventually(t, func() bool {
		got := pub.published()
		return len(got) == 2 && got[1][0].AgentID == "newest"
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, pub.published(), 2, "superseded lists are dropped")
}
