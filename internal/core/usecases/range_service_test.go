package usecases_test

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/core/usecases"
	"github.com/samirrijal/geoar/internal/pkg/geospatial"
)

var sfOrigin = domain.GeoPoint{Lat: 37.7749, Lon: -122.4194}

// metersNorth returns a point d meters north of sfOrigin on the haversine sphere.
func metersNorth(d float64) domain.GeoPoint {
	return domain.GeoPoint{Lat: sfOrigin.Lat + d/geospatial.EarthRadiusMeters*180/math.Pi, Lon: sfOrigin.Lon}
}

func trackedAgent(id string, at domain.GeoPoint, radius float64) domain.TrackedAgent {
	return domain.TrackedAgent{ID: id, Location: at, VisibilityRadiusMeters: radius, Active: true}
}

type recorder struct {
	mu    sync.Mutex
	calls [][]domain.DistanceSample
}

func (r *recorder) fn(in []domain.DistanceSample) {
	r.mu.Lock()
	r.calls = append(r.calls, in)
	r.mu.Unlock()
}

func (r *recorder) last() []domain.DistanceSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func ids(samples []domain.DistanceSample) []string {
	out := make([]string, 0, len(samples))
	for _, s := range samples {
		out = append(out, s.AgentID)
	}
	return out
}

func TestRangeService_NearbyAgentInRange(t *testing.T) {
	svc := usecases.NewRangeService(nil)
	svc.UpdateUserLocation(sfOrigin)
	svc.UpdateAgents([]domain.TrackedAgent{
		trackedAgent("a", domain.GeoPoint{Lat: 37.7750, Lon: -122.4195}, 50),
	})

	in := svc.InRange()
	require.Len(t, in, 1)
	assert.Equal(t, "a", in[0].AgentID)
	assert.InDelta(t, 14, in[0].DistanceMeters, 1)
}

func TestRangeService_FarAgentOutOfRange(t *testing.T) {
	svc := usecases.NewRangeService(nil)
	svc.UpdateUserLocation(sfOrigin)
	far := trackedAgent("far", metersNorth(200), 0) // default radius
	svc.UpdateAgents([]domain.TrackedAgent{far})

	assert.Empty(t, svc.InRange())

	d, ok := svc.DistanceToAgent(far)
	require.True(t, ok)
	assert.InDelta(t, 200, d, 1)

	d, ok = svc.DistanceToAgentID("far")
	require.True(t, ok)
	assert.InDelta(t, 200, d, 1)
}

func TestRangeService_BoundaryIsInclusive(t *testing.T) {
	svc := usecases.NewRangeService(nil)
	svc.UpdateUserLocation(sfOrigin)

	at := metersNorth(30)
	exact := geospatial.Distance(sfOrigin, at)
	svc.UpdateAgents([]domain.TrackedAgent{
		trackedAgent("edge", at, exact),
		trackedAgent("short", at, math.Nextafter(exact, 0)),
	})

	assert.Equal(t, []string{"edge"}, ids(svc.InRange()))
}

func TestRangeService_DistanceWithoutAnchor(t *testing.T) {
	svc := usecases.NewRangeService(nil)

	_, ok := svc.DistanceToAgent(trackedAgent("a", metersNorth(10), 50))
	assert.False(t, ok)
	_, ok = svc.Anchor()
	assert.False(t, ok)
	assert.Empty(t, svc.InRange())
}

func TestRangeService_MalformedInputIgnored(t *testing.T) {
	svc := usecases.NewRangeService(nil)
	svc.UpdateUserLocation(sfOrigin)

	svc.UpdateUserLocation(domain.GeoPoint{Lat: math.NaN(), Lon: 0})
	anchor, ok := svc.Anchor()
	require.True(t, ok)
	assert.Equal(t, sfOrigin, anchor, "bad fix leaves the anchor untouched")

	svc.UpdateAgents([]domain.TrackedAgent{
		trackedAgent("good", metersNorth(10), 50),
		trackedAgent("nan", domain.GeoPoint{Lat: math.NaN(), Lon: 1}, 50),
		trackedAgent("", metersNorth(5), 50),
		trackedAgent("lat", domain.GeoPoint{Lat: 120, Lon: 1}, 50),
	})
	assert.Equal(t, []string{"good"}, ids(svc.InRange()))
	assert.Len(t, svc.Agents(), 1)
}

func TestRangeService_InactiveAgentsExcluded(t *testing.T) {
	svc := usecases.NewRangeService(nil)
	svc.UpdateUserLocation(sfOrigin)

	gone := trackedAgent("gone", metersNorth(5), 50)
	gone.Active = false
	svc.UpdateAgents([]domain.TrackedAgent{gone, trackedAgent("here", metersNorth(5), 50)})

	assert.Equal(t, []string{"here"}, ids(svc.InRange()))
}

func TestRangeService_SubscribeGetsFullList(t *testing.T) {
	svc := usecases.NewRangeService(nil)
	rec := &recorder{}
	unsubscribe := svc.Subscribe(rec.fn)
	defer unsubscribe()

	assert.Equal(t, 0, rec.count(), "no delivery on subscribe")

	svc.UpdateUserLocation(sfOrigin)
	svc.UpdateAgents([]domain.TrackedAgent{
		trackedAgent("a", metersNorth(10), 50),
		trackedAgent("b", metersNorth(20), 50),
		trackedAgent("c", metersNorth(90), 50),
	})
	assert.ElementsMatch(t, []string{"a", "b"}, ids(rec.last()))

	// Moving north brings c in and drops a: the full list again, not a delta.
	svc.UpdateUserLocation(metersNorth(65))
	assert.ElementsMatch(t, []string{"b", "c"}, ids(rec.last()))
	assert.Equal(t, 3, rec.count())
}

func TestRangeService_MultipleSubscribers(t *testing.T) {
	svc := usecases.NewRangeService(nil)
	r1, r2 := &recorder{}, &recorder{}
	svc.Subscribe(r1.fn)
	unsub2 := svc.Subscribe(r2.fn)

	svc.UpdateUserLocation(sfOrigin)
	unsub2()
	unsub2() // second call is a no-op
	svc.UpdateAgents([]domain.TrackedAgent{trackedAgent("a", metersNorth(10), 50)})

	assert.Equal(t, 2, r1.count())
	assert.Equal(t, 1, r2.count())
}

func TestRangeService_UnsubscribeInsideCallback(t *testing.T) {
	svc := usecases.NewRangeService(nil)

	var unsubscribe func()
	calls := 0
	unsubscribe = svc.Subscribe(func([]domain.DistanceSample) {
		calls++
		unsubscribe()
	})
	other := &recorder{}
	svc.Subscribe(other.fn)

	svc.UpdateUserLocation(sfOrigin)
	svc.UpdateUserLocation(metersNorth(1))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, other.count())
}

func TestRangeService_SlowSubscriberEndsOnNewestList(t *testing.T) {
	svc := usecases.NewRangeService(nil)
	svc.UpdateUserLocation(sfOrigin)

	entered := make(chan struct{})
	release := make(chan struct{})
	rec := &recorder{}
	first := true
	svc.Subscribe(func(in []domain.DistanceSample) {
		if first {
			first = false
			close(entered)
			<-release
		}
		rec.fn(in)
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.UpdateAgents([]domain.TrackedAgent{trackedAgent("a", metersNorth(10), 50)})
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.UpdateAgents(nil)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Empty(t, svc.InRange())
	require.Equal(t, 2, rec.count())
	assert.Empty(t, rec.last(), "subscriber must finish on the newest recomputation")
}

func TestRangeService_SubscriberCannotMutateState(t *testing.T) {
	svc := usecases.NewRangeService(nil)
	svc.Subscribe(func(in []domain.DistanceSample) {
		for i := range in {
			in[i].AgentID = "tampered"
		}
	})
	svc.UpdateUserLocation(sfOrigin)
	svc.UpdateAgents([]domain.TrackedAgent{trackedAgent("a", metersNorth(10), 50)})

	assert.Equal(t, []string{"a"}, ids(svc.InRange()))
}

func TestRangeService_Reset(t *testing.T) {
	svc := usecases.NewRangeService(nil)
	rec := &recorder{}
	svc.Subscribe(rec.fn)
	svc.UpdateUserLocation(sfOrigin)
	svc.UpdateAgents([]domain.TrackedAgent{trackedAgent("a", metersNorth(10), 50)})

	svc.Reset()

	_, ok := svc.Anchor()
	assert.False(t, ok)
	assert.Empty(t, svc.Agents())
	assert.Empty(t, rec.last())
}

func TestRangeService_InRangeSortedByDistance(t *testing.T) {
	svc := usecases.NewRangeService(nil)
	svc.UpdateUserLocation(sfOrigin)
	svc.UpdateAgents([]domain.TrackedAgent{
		trackedAgent("c", metersNorth(30), 50),
		trackedAgent("a", metersNorth(10), 50),
		trackedAgent("b", metersNorth(20), 50),
	})

	assert.Equal(t, []string{"a", "b", "c"}, ids(svc.InRange()))
	assert.Len(t, svc.Samples(), 3)
}
