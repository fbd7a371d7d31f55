package usecases

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/pkg/geospatial"
	"github.com/samirrijal/geoar/internal/pkg/metrics"
)

// InRangeFunc receives the complete in-range list after every recomputation.
type InRangeFunc func(inRange []domain.DistanceSample)

type subscription struct {
	fn      InRangeFunc
	removed atomic.Bool
}

// RangeService tracks which agents are within their visibility radius of
// the user. Writers replace the anchor or the agent set; every write
// recomputes membership synchronously and notifies subscribers.
//
// Malformed input is logged and dropped, never returned as an error.
type RangeService struct {
	mu      sync.RWMutex
	anchor  *domain.GeoPoint
	agents  []domain.TrackedAgent
	samples []domain.DistanceSample
	seq     uint64

	subMu sync.Mutex
	subs  []*subscription

	// deliverMu is held for a whole delivery so subscribers see lists in
	// recomputation order.
	deliverMu sync.Mutex
	delivered uint64

	logger *slog.Logger
}

// NewRangeService creates a RangeService. A nil logger uses slog.Default().
func NewRangeService(logger *slog.Logger) *RangeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RangeService{logger: logger.With("component", "range")}
}

// UpdateUserLocation replaces the anchor and recomputes membership.
func (s *RangeService) UpdateUserLocation(p domain.GeoPoint) {
	if err := p.Validate(); err != nil {
		s.logger.Warn("ignoring user location", "error", err)
		metrics.RangeInputRejected.WithLabelValues("location").Inc()
		return
	}
	anchor := p
	s.mu.Lock()
	s.anchor = &anchor
	seq, inRange := s.recomputeLocked()
	s.mu.Unlock()

	s.notify(seq, inRange)
}

// UpdateAgents replaces the agent set and recomputes membership. Agents
// failing validation or flagged inactive are excluded.
func (s *RangeService) UpdateAgents(agents []domain.TrackedAgent) {
	kept := make([]domain.TrackedAgent, 0, len(agents))
	for _, a := range agents {
		if err := a.Validate(); err != nil {
			s.logger.Warn("ignoring agent", "agent_id", a.ID, "error", err)
			metrics.RangeInputRejected.WithLabelValues("agent").Inc()
			continue
		}
		if !a.Active {
			continue
		}
		kept = append(kept, a)
	}

	s.mu.Lock()
	s.agents = kept
	seq, inRange := s.recomputeLocked()
	s.mu.Unlock()

	s.notify(seq, inRange)
}

// recomputeLocked rebuilds the samples and returns the in-range subset
// tagged with a sequence number.
func (s *RangeService) recomputeLocked() (uint64, []domain.DistanceSample) {
	s.seq++
	s.samples = s.samples[:0]
	inRange := []domain.DistanceSample{}
	if s.anchor == nil {
		metrics.AgentsInRange.Set(0)
		return s.seq, inRange
	}
	for _, a := range s.agents {
		d := geospatial.Distance(*s.anchor, a.Location)
		sample := domain.DistanceSample{
			AgentID:        a.ID,
			DistanceMeters: d,
			InRange:        d <= a.Radius(),
		}
		s.samples = append(s.samples, sample)
		if sample.InRange {
			inRange = append(inRange, sample)
		}
	}
	metrics.AgentsInRange.Set(float64(len(inRange)))
	return s.seq, inRange
}

// notify delivers one recomputation. A result older than one already
// delivered is dropped, so every subscriber ends on the newest list.
func (s *RangeService) notify(seq uint64, inRange []domain.DistanceSample) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if seq < s.delivered {
		return
	}
	s.delivered = seq

	s.subMu.Lock()
	subs := make([]*subscription, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		if sub.removed.Load() {
			continue
		}
		out := make([]domain.DistanceSample, len(inRange))
		copy(out, inRange)
		sub.fn(out)
	}
}

// Subscribe registers fn for in-range updates. Calls are serialized and
// writers wait for them, so fn should hand the list off rather than block.
// fn must not write to the service. The returned function removes the
// subscription; it is safe to call more than once and from inside fn.
func (s *RangeService) Subscribe(fn InRangeFunc) (unsubscribe func()) {
	sub := &subscription{fn: fn}
	s.subMu.Lock()
	s.subs = append(s.subs, sub)
	s.subMu.Unlock()

	return func() {
		if sub.removed.Swap(true) {
			return
		}
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, existing := range s.subs {
			if existing == sub {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				break
			}
		}
	}
}

// DistanceToAgent returns the distance from the user to agent. ok is false
// while no user location is known or the agent location is malformed.
func (s *RangeService) DistanceToAgent(agent domain.TrackedAgent) (meters float64, ok bool) {
	s.mu.RLock()
	anchor := s.anchor
	s.mu.RUnlock()

	if anchor == nil || agent.Location.Validate() != nil {
		return 0, false
	}
	return geospatial.Distance(*anchor, agent.Location), true
}

// DistanceToAgentID looks the agent up in the current set.
func (s *RangeService) DistanceToAgentID(id string) (meters float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sample := range s.samples {
		if sample.AgentID == id {
			return sample.DistanceMeters, true
		}
	}
	return 0, false
}

// Anchor returns a copy of the current user location.
func (s *RangeService) Anchor() (domain.GeoPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.anchor == nil {
		return domain.GeoPoint{}, false
	}
	return *s.anchor, true
}

// Agents returns a copy of the accepted agent set.
func (s *RangeService) Agents() []domain.TrackedAgent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TrackedAgent, len(s.agents))
	copy(out, s.agents)
	return out
}

// InRange returns the current in-range samples ordered by distance.
func (s *RangeService) InRange() []domain.DistanceSample {
	s.mu.RLock()
	out := make([]domain.DistanceSample, 0, len(s.samples))
	for _, sample := range s.samples {
		if sample.InRange {
			out = append(out, sample)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	return out
}

// Samples returns every sample from the last recomputation.
func (s *RangeService) Samples() []domain.DistanceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DistanceSample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Reset forgets the anchor and the agent set.
func (s *RangeService) Reset() {
	s.mu.Lock()
	s.anchor = nil
	s.agents = nil
	seq, inRange := s.recomputeLocked()
	s.mu.Unlock()

	s.notify(seq, inRange)
}
