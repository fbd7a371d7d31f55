package usecases

import (
	"hash/fnv"
	"math"
	"sort"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/pkg/geospatial"
)

// PlacementConfig holds the tunable scale curve and viewport layout.
// The curve constants are aesthetic, not physically derived.
type PlacementConfig struct {
	MaxDistance     float64 // agents further away are not placed at all
	NearDistance    float64 // below this the near boost applies
	NominalDistance float64 // up to this the base size is used unchanged
	FloorDistance   float64 // scale reaches FloorScale here
	NearScale       float64
	FloorScale      float64
	JitterFraction  float64 // max offset as a fraction of the free cell space, [0,1]

	BaseSizes   map[domain.AgentType]float64
	DefaultSize float64
}

// DefaultPlacementConfig returns the stock curve: ×1.2 under 10 m, nominal
// to 50 m, linear decay to ×0.4 at 100 m, nothing past 150 m.
func DefaultPlacementConfig() PlacementConfig {
	return PlacementConfig{
		MaxDistance:     150,
		NearDistance:    10,
		NominalDistance: 50,
		FloorDistance:   100,
		NearScale:       1.2,
		FloorScale:      0.4,
		JitterFraction:  0.3,
		BaseSizes: map[domain.AgentType]float64{
			domain.AgentTypeAssistant: 96,
			domain.AgentTypeMerchant:  112,
			domain.AgentTypeGuide:     104,
			domain.AgentTypeGame:      88,
		},
		DefaultSize: 96,
	}
}

// Viewport is the 2D overlay area in screen units.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PlacementService maps agent distance to apparent size and assigns each
// visible agent a slot in the 2D overlay.
type PlacementService struct {
	cfg PlacementConfig
}

// NewPlacementService creates a PlacementService.
func NewPlacementService(cfg PlacementConfig) *PlacementService {
	if cfg.DefaultSize <= 0 {
		cfg.DefaultSize = DefaultPlacementConfig().DefaultSize
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	if cfg.JitterFraction > 1 {
		cfg.JitterFraction = 1
	}
	return &PlacementService{cfg: cfg}
}

// ScaleForDistance returns the multiplier applied to an agent's base size.
func (s *PlacementService) ScaleForDistance(d float64) float64 {
	c := s.cfg
	switch {
	case d < c.NearDistance:
		return c.NearScale
	case d <= c.NominalDistance:
		return 1
	case d >= c.FloorDistance:
		return c.FloorScale
	default:
		t := (d - c.NominalDistance) / (c.FloorDistance - c.NominalDistance)
		return 1 - t*(1-c.FloorScale)
	}
}

// BaseSize returns the nominal overlay size for an agent type.
func (s *PlacementService) BaseSize(t domain.AgentType) float64 {
	if size, ok := s.cfg.BaseSizes[t.Normalize()]; ok && size > 0 {
		return size
	}
	return s.cfg.DefaultSize
}

type placementCandidate struct {
	agent    domain.TrackedAgent
	distance float64
}

// Allocate computes placements for agents around anchor. Agents beyond
// MaxDistance, inactive or malformed agents are skipped. The result is
// ordered nearest first and is deterministic for identical inputs.
func (s *PlacementService) Allocate(anchor *domain.GeoPoint, agents []domain.TrackedAgent, vp Viewport) []domain.Placement {
	if anchor == nil || vp.Width <= 0 || vp.Height <= 0 {
		return nil
	}

	candidates := make([]placementCandidate, 0, len(agents))
	for _, a := range agents {
		if !a.Active || a.Validate() != nil {
			continue
		}
		d := geospatial.Distance(*anchor, a.Location)
		if d > s.cfg.MaxDistance {
			continue
		}
		candidates = append(candidates, placementCandidate{agent: a, distance: d})
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].agent.ID < candidates[j].agent.ID
	})

	n := len(candidates)
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := int(math.Ceil(float64(n) / float64(cols)))
	cellW := vp.Width / float64(cols)
	cellH := vp.Height / float64(rows)

	out := make([]domain.Placement, 0, n)
	for i, c := range candidates {
		row, col := i/cols, i%cols
		scale := s.ScaleForDistance(c.distance)
		size := s.BaseSize(c.agent.Type) * scale
		// Never draw larger than the cell.
		size = math.Min(size, math.Min(cellW, cellH))

		jx, jy := jitter(c.agent.ID)
		slackX := (cellW - size) / 2 * s.cfg.JitterFraction
		slackY := (cellH - size) / 2 * s.cfg.JitterFraction

		out = append(out, domain.Placement{
			AgentID:        c.agent.ID,
			DistanceMeters: c.distance,
			Scale:          scale,
			Size:           size,
			X:              (float64(col)+0.5)*cellW + jx*slackX,
			Y:              (float64(row)+0.5)*cellH + jy*slackY,
			Row:            row,
			Col:            col,
		})
	}
	return out
}

// jitter derives two stable offsets in [-1, 1] from an agent id.
func jitter(id string) (float64, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	sum := h.Sum64()
	x := float64(sum&0xffff)/0xffff*2 - 1
	y := float64((sum>>16)&0xffff)/0xffff*2 - 1
	return x, y
}
