package usecases_test

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/core/usecases"
)

func TestPlacementService_ScaleForDistance(t *testing.T) {
	svc := usecases.NewPlacementService(usecases.DefaultPlacementConfig())

	tests := []struct {
		distance float64
		want     float64
	}{
		{0, 1.2},
		{9.99, 1.2},
		{10, 1},
		{30, 1},
		{50, 1},
		{75, 0.7},
		{100, 0.4},
		{140, 0.4},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2fm", tt.distance), func(t *testing.T) {
			assert.InDelta(t, tt.want, svc.ScaleForDistance(tt.distance), 1e-9)
		})
	}
}

func TestPlacementService_BaseSizeByType(t *testing.T) {
	svc := usecases.NewPlacementService(usecases.DefaultPlacementConfig())
	assert.Equal(t, 112.0, svc.BaseSize(domain.AgentTypeMerchant))
	assert.Equal(t, 112.0, svc.BaseSize("MERCHANT"))
	assert.Equal(t, 96.0, svc.BaseSize("unknown"))
}

func TestPlacementService_TunableCurve(t *testing.T) {
	cfg := usecases.DefaultPlacementConfig()
	cfg.NearScale = 2
	cfg.FloorScale = 0.5
	svc := usecases.NewPlacementService(cfg)

	assert.Equal(t, 2.0, svc.ScaleForDistance(1))
	assert.Equal(t, 0.5, svc.ScaleForDistance(500))
}

func TestPlacementService_ExcludesBeyondMaxDistance(t *testing.T) {
	svc := usecases.NewPlacementService(usecases.DefaultPlacementConfig())
	anchor := sfOrigin

	out := svc.Allocate(&anchor, []domain.TrackedAgent{
		trackedAgent("near", metersNorth(20), 50),
		trackedAgent("edge", metersNorth(149), 50),
		trackedAgent("far", metersNorth(151), 50),
		trackedAgent("bad", domain.GeoPoint{Lat: 100}, 50),
	}, usecases.Viewport{Width: 1080, Height: 1920})

	got := make([]string, 0, len(out))
	for _, p := range out {
		got = append(got, p.AgentID)
	}
	assert.Equal(t, []string{"near", "edge"}, got)
}

func TestPlacementService_NoAnchorOrViewport(t *testing.T) {
	svc := usecases.NewPlacementService(usecases.DefaultPlacementConfig())
	agents := []domain.TrackedAgent{trackedAgent("a", metersNorth(10), 50)}

	assert.Nil(t, svc.Allocate(nil, agents, usecases.Viewport{Width: 100, Height: 100}))
	anchor := sfOrigin
	assert.Nil(t, svc.Allocate(&anchor, agents, usecases.Viewport{}))
}

func TestPlacementService_GridStaysInsideCells(t *testing.T) {
	svc := usecases.NewPlacementService(usecases.DefaultPlacementConfig())
	anchor := sfOrigin
	vp := usecases.Viewport{Width: 900, Height: 600}

	agents := make([]domain.TrackedAgent, 0, 7)
	for i := range 7 {
		a := trackedAgent(fmt.Sprintf("agent-%d", i), metersNorth(float64(5+i*20)), 50)
		a.Type = domain.AgentTypeGuide
		agents = append(agents, a)
	}

	out := svc.Allocate(&anchor, agents, vp)
	require.Len(t, out, 7)

	// 7 agents -> 3 columns, 3 rows.
	cellW, cellH := vp.Width/3, vp.Height/3
	seen := map[[2]int]bool{}
	for i, p := range out {
		assert.Equal(t, i/3, p.Row)
		assert.Equal(t, i%3, p.Col)
		assert.False(t, seen[[2]int{p.Row, p.Col}], "cell reused")
		seen[[2]int{p.Row, p.Col}] = true

		assert.LessOrEqual(t, p.Size, cellW)
		assert.LessOrEqual(t, p.Size, cellH)

		left := float64(p.Col) * cellW
		top := float64(p.Row) * cellH
		assert.GreaterOrEqual(t, p.X-p.Size/2, left-1e-9)
		assert.LessOrEqual(t, p.X+p.Size/2, left+cellW+1e-9)
		assert.GreaterOrEqual(t, p.Y-p.Size/2, top-1e-9)
		assert.LessOrEqual(t, p.Y+p.Size/2, top+cellH+1e-9)

		if i > 0 {
			assert.GreaterOrEqual(t, p.DistanceMeters, out[i-1].DistanceMeters)
		}
	}
	assert.InDelta(t, 1.2, out[0].Scale, 1e-9)
}

func TestPlacementService_Deterministic(t *testing.T) {
	svc := usecases.NewPlacementService(usecases.DefaultPlacementConfig())
	anchor := sfOrigin
	vp := usecases.Viewport{Width: 1080, Height: 1920}
	agents := []domain.TrackedAgent{
		trackedAgent("b", metersNorth(40), 50),
		trackedAgent("a", metersNorth(40), 50),
		trackedAgent("c", metersNorth(12), 50),
	}

	first := svc.Allocate(&anchor, agents, vp)
	reversed := []domain.TrackedAgent{agents[2], agents[1], agents[0]}
	second := svc.Allocate(&anchor, reversed, vp)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("placement depends on input order (-first +second):\n%s", diff)
	}
	assert.Equal(t, "c", first[0].AgentID)
	assert.Equal(t, "a", first[1].AgentID, "ties broken by id")
}

func TestPlacementService_JitterVariesByAgent(t *testing.T) {
	cfg := usecases.DefaultPlacementConfig()
	cfg.JitterFraction = 1
	svc := usecases.NewPlacementService(cfg)
	anchor := sfOrigin
	vp := usecases.Viewport{Width: 2000, Height: 2000}

	x := func(id string) float64 {
		out := svc.Allocate(&anchor, []domain.TrackedAgent{trackedAgent(id, metersNorth(90), 50)}, vp)
		require.Len(t, out, 1)
		return out[0].X
	}
	assert.NotEqual(t, x("alpha"), x("omega"))

	cfg.JitterFraction = 0
	flat := usecases.NewPlacementService(cfg)
	out := flat.Allocate(&anchor, []domain.TrackedAgent{trackedAgent("alpha", metersNorth(90), 50)}, vp)
	require.Len(t, out, 1)
	assert.Equal(t, 1000.0, out[0].X)
	assert.Equal(t, 1000.0, out[0].Y)
}
