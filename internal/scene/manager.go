package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/core/ports"
	"github.com/samirrijal/geoar/internal/pkg/geospatial"
	"github.com/samirrijal/geoar/internal/pkg/metrics"
)

// Config controls scene limits.
type Config struct {
	MaxObjects    int
	LoadTimeout   time.Duration
	FrameInterval time.Duration
}

// DefaultConfig returns 20 objects, a 10 s load bound and ~30 fps.
func DefaultConfig() Config {
	return Config{
		MaxObjects:    20,
		LoadTimeout:   10 * time.Second,
		FrameInterval: 33 * time.Millisecond,
	}
}

var ErrDisposed = errors.New("scene manager disposed")

var errLoadCancelled = errors.New("load cancelled")

// ReconcileResult lists the ids touched by one reconcile pass.
type ReconcileResult struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// Manager owns the scene graph: an arena of nodes keyed by agent id, each
// holding at most one renderer handle.
type Manager struct {
	loader   ports.AssetLoader
	renderer Renderer
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer

	mu       sync.Mutex
	nodes    map[string]*node
	anchor   *domain.GeoPoint
	camera   Camera
	epoch    uint64
	disposed bool
	ctx      context.Context
	cancel   context.CancelFunc
	loads    sync.WaitGroup

	reconcileMu sync.Mutex
}

// NewManager creates a Manager drawing through renderer.
func NewManager(loader ports.AssetLoader, renderer Renderer, cfg Config, logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.MaxObjects <= 0 {
		cfg.MaxObjects = def.MaxObjects
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = def.LoadTimeout
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		loader:   loader,
		renderer: renderer,
		cfg:      cfg,
		logger:   logger.With("component", "scene"),
		tracer:   otel.Tracer("github.com/samirrijal/geoar/internal/scene"),
		nodes:    make(map[string]*node),
		camera:   DefaultCamera(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetAnchor moves the scene origin and repositions every node.
func (m *Manager) SetAnchor(p domain.GeoPoint) {
	anchor := p
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchor = &anchor
	for _, n := range m.nodes {
		n.position = geospatial.GPSToLocal(m.anchor, n.agent.Location)
	}
}

// SetCamera replaces the camera used for visibility queries.
func (m *Manager) SetCamera(c Camera) {
	m.mu.Lock()
	m.camera = c
	m.mu.Unlock()
}

// SetHeading turns the camera to a compass heading in degrees.
func (m *Manager) SetHeading(deg float64) {
	m.mu.Lock()
	m.camera = m.camera.WithHeading(deg)
	m.mu.Unlock()
}

// LoadObject adds a node for agent and blocks until it settles in Ready,
// FallbackReady or Failed. It is a no-op when the node already exists.
// Asset problems never surface as errors; they produce a fallback node.
func (m *Manager) LoadObject(ctx context.Context, agent domain.TrackedAgent) error {
	if err := agent.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	if _, ok := m.nodes[agent.ID]; ok {
		m.mu.Unlock()
		return nil
	}
	n := &node{
		agent:     agent,
		state:     StateLoading,
		epoch:     m.epoch,
		position:  geospatial.GPSToLocal(m.anchor, agent.Location),
		startedAt: time.Now(),
	}
	m.nodes[agent.ID] = n
	metrics.SceneNodes.Set(float64(len(m.nodes)))
	base := m.ctx
	m.loads.Add(1)
	m.mu.Unlock()

	defer m.loads.Done()
	m.fetch(ctx, base, n, agent)
	return nil
}

func (m *Manager) fetch(ctx, base context.Context, n *node, agent domain.TrackedAgent) {
	ctx, span := m.tracer.Start(ctx, "scene.load", trace.WithAttributes(
		attribute.String("agent.id", agent.ID),
		attribute.String("agent.model_ref", agent.ModelRef),
	))
	defer span.End()

	// Loads outlive the caller's cancellation; only the timeout and
	// disposal stop them.
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.LoadTimeout)
	defer cancel()
	stop := context.AfterFunc(base, cancel)
	defer stop()

	mesh, err := m.loadAsset(loadCtx, agent)
	if base.Err() != nil {
		m.settleCancelled(n)
		span.SetStatus(codes.Error, errLoadCancelled.Error())
		return
	}
	if err == nil {
		h, uerr := m.renderer.Upload(loadCtx, mesh)
		if uerr == nil {
			if m.commit(n, StateReady, h, mesh, nil) {
				m.settled(n, "ready")
			}
			return
		}
		err = &domain.AssetLoadError{AgentID: agent.ID, ModelRef: agent.ModelRef, Err: uerr}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	m.logger.Warn("asset load failed, using fallback",
		"agent_id", agent.ID, "model_ref", agent.ModelRef, "error", err)
	if !m.markFailed(n, err) {
		m.settleCancelled(n)
		return
	}

	fb := FallbackMesh(agent.Type)
	h, uerr := m.renderer.Upload(context.WithoutCancel(ctx), fb)
	if uerr != nil {
		m.logger.Error("fallback upload failed, dropping node", "agent_id", agent.ID, "error", uerr)
		m.dropFailed(n)
		m.settled(n, "failed")
		return
	}
	if m.commit(n, StateFallbackReady, h, fb, err) {
		m.settled(n, "fallback")
	}
}

// loadAsset runs the loader on its own goroutine so that a loader ignoring
// its context still cannot hold the node in Loading past the timeout.
func (m *Manager) loadAsset(ctx context.Context, agent domain.TrackedAgent) (*domain.Mesh, error) {
	wrap := func(err error) error {
		return &domain.AssetLoadError{AgentID: agent.ID, ModelRef: agent.ModelRef, Err: err}
	}
	if m.loader == nil {
		return nil, wrap(errors.New("no asset loader configured"))
	}
	if agent.ModelRef == "" {
		return nil, wrap(errors.New("no model reference"))
	}

	type result struct {
		mesh *domain.Mesh
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		mesh, err := m.loader.Load(ctx, agent.ModelRef)
		ch <- result{mesh: mesh, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return nil, wrap(domain.ErrLoadTimeout)
			}
			return nil, wrap(r.err)
		}
		if r.mesh == nil {
			return nil, wrap(errors.New("loader returned no mesh"))
		}
		return r.mesh, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, wrap(fmt.Errorf("after %s: %w", m.cfg.LoadTimeout, domain.ErrLoadTimeout))
		}
		return nil, wrap(errLoadCancelled)
	}
}

// current reports whether n is still the live node for its id in the
// epoch it was created in. Callers hold m.mu.
func (m *Manager) current(n *node) bool {
	return !m.disposed && m.epoch == n.epoch && m.nodes[n.agent.ID] == n
}

func (m *Manager) markFailed(n *node, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(n) {
		return false
	}
	n.state = StateFailed
	n.loadErr = err
	return true
}

// dropFailed removes a node that could not render anything so the next
// reconcile loads it again. A Failed node holds no handle.
func (m *Manager) dropFailed(n *node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(n) || n.state != StateFailed {
		return
	}
	delete(m.nodes, n.agent.ID)
	n.state = StateRemoved
	metrics.SceneNodes.Set(float64(len(m.nodes)))
}

// commit attaches a freshly uploaded handle to n. A stale node gets the
// handle released on the spot.
func (m *Manager) commit(n *node, state NodeState, h Handle, mesh *domain.Mesh, loadErr error) bool {
	m.mu.Lock()
	if !m.current(n) || (n.state != StateLoading && n.state != StateFailed) {
		m.mu.Unlock()
		m.release(h)
		m.settleCancelled(n)
		return false
	}
	n.state = state
	n.handle = h
	n.mesh = mesh
	n.bound = ComputeBound(mesh)
	n.loadErr = loadErr
	m.mu.Unlock()
	return true
}

func (m *Manager) settled(n *node, outcome string) {
	metrics.SceneLoads.WithLabelValues(outcome).Inc()
	metrics.SceneLoadDuration.Observe(time.Since(n.startedAt).Seconds())
}

func (m *Manager) settleCancelled(n *node) {
	metrics.SceneLoads.WithLabelValues("cancelled").Inc()
	m.logger.Debug("discarding stale load", "agent_id", n.agent.ID)
}

func (m *Manager) release(h Handle) {
	if h == "" {
		return
	}
	if err := m.renderer.Release(h); err != nil {
		m.logger.Error("release handle", "handle", h, "error", err)
	}
}

// RemoveObject drops the node for agentID. Its handle is released before
// RemoveObject returns.
func (m *Manager) RemoveObject(agentID string) error {
	m.mu.Lock()
	n, ok := m.nodes[agentID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("node %s: %w", agentID, domain.ErrNotFound)
	}
	delete(m.nodes, agentID)
	n.state = StateRemoved
	h := n.handle
	n.handle = ""
	metrics.SceneNodes.Set(float64(len(m.nodes)))
	m.mu.Unlock()

	metrics.SceneRemovals.Inc()
	if h == "" {
		return nil
	}
	if err := m.renderer.Release(h); err != nil {
		return fmt.Errorf("release node %s: %w", agentID, err)
	}
	return nil
}

// Reconcile syncs the scene to agents: nodes for absent agents are removed
// and new agents are loaded concurrently. Only the MaxObjects nearest agents
// are kept. Passes are serialized; a caller waits for the one in flight.
func (m *Manager) Reconcile(ctx context.Context, agents []domain.TrackedAgent) (ReconcileResult, error) {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	start := time.Now()
	defer func() { metrics.ReconcileDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := m.tracer.Start(ctx, "scene.reconcile",
		trace.WithAttributes(attribute.Int("agents.candidates", len(agents))))
	defer span.End()

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ReconcileResult{}, ErrDisposed
	}
	wanted := m.selectNearest(m.anchor, agents)

	var result ReconcileResult
	var toLoad []domain.TrackedAgent
	for id, n := range m.nodes {
		a, ok := wanted[id]
		if !ok || a.ModelRef != n.agent.ModelRef {
			result.Removed = append(result.Removed, id)
		}
	}
	for id, a := range wanted {
		n, ok := m.nodes[id]
		switch {
		case !ok || a.ModelRef != n.agent.ModelRef:
			toLoad = append(toLoad, a)
			result.Added = append(result.Added, id)
		default:
			n.agent = a
			n.position = geospatial.GPSToLocal(m.anchor, a.Location)
		}
	}
	m.mu.Unlock()

	sort.Strings(result.Removed)
	sort.Strings(result.Added)
	sort.Slice(toLoad, func(i, j int) bool { return toLoad[i].ID < toLoad[j].ID })

	for _, id := range result.Removed {
		if err := m.RemoveObject(id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			m.logger.Error("remove during reconcile", "agent_id", id, "error", err)
		}
	}

	var g errgroup.Group
	for _, a := range toLoad {
		g.Go(func() error { return m.LoadObject(ctx, a) })
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return result, err
	}

	span.SetAttributes(
		attribute.Int("nodes.added", len(result.Added)),
		attribute.Int("nodes.removed", len(result.Removed)),
	)
	return result, nil
}

// selectNearest keeps valid active agents, deduplicated by id, trimmed to
// the MaxObjects nearest the anchor. Ties and a missing anchor fall back to
// id order. Callers hold m.mu.
func (m *Manager) selectNearest(anchor *domain.GeoPoint, agents []domain.TrackedAgent) map[string]domain.TrackedAgent {
	type candidate struct {
		agent    domain.TrackedAgent
		distance float64
	}
	seen := make(map[string]struct{}, len(agents))
	candidates := make([]candidate, 0, len(agents))
	for _, a := range agents {
		if !a.Active || a.Validate() != nil {
			continue
		}
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		var d float64
		if anchor != nil {
			d = geospatial.Distance(*anchor, a.Location)
		}
		candidates = append(candidates, candidate{agent: a, distance: d})
	}

	if len(candidates) > m.cfg.MaxObjects {
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].distance != candidates[j].distance {
				return candidates[i].distance < candidates[j].distance
			}
			return candidates[i].agent.ID < candidates[j].agent.ID
		})
		candidates = candidates[:m.cfg.MaxObjects]
	}

	out := make(map[string]domain.TrackedAgent, len(candidates))
	for _, c := range candidates {
		out[c.agent.ID] = c.agent
	}
	return out
}

// VisibleNodeIDs returns the sorted ids of renderable nodes whose bound
// intersects the camera frustum.
func (m *Manager) VisibleNodeIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visibleLocked()
}

func (m *Manager) visibleLocked() []string {
	fr := NewFrustum(m.camera)
	ids := make([]string, 0, len(m.nodes))
	for id, n := range m.nodes {
		if !n.state.Renderable() {
			continue
		}
		if fr.IntersectsSphere(n.worldBound()) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Nodes returns a snapshot of every node ordered by agent id.
func (m *Manager) Nodes() []NodeInfo {
	m.mu.Lock()
	out := make([]NodeInfo, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n.info())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// NodeState returns the state of the node for agentID.
func (m *Manager) NodeState(agentID string) (NodeState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[agentID]
	if !ok {
		return StateUnloaded, false
	}
	return n.state, true
}

// Start begins the render loop.
func (m *Manager) Start() error {
	m.mu.Lock()
	disposed := m.disposed
	m.mu.Unlock()
	if disposed {
		return ErrDisposed
	}
	m.renderer.StartLoop(m.cfg.FrameInterval, m.frame)
	return nil
}

func (m *Manager) frame() {
	m.mu.Lock()
	visible := len(m.visibleLocked())
	m.mu.Unlock()
	metrics.SceneVisibleNodes.Set(float64(visible))
}

// Dispose cancels in-flight loads, stops the render loop, releases every
// handle and finally disposes the renderer. Later calls return nil.
func (m *Manager) Dispose() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.disposed = true
	m.epoch++
	m.cancel()
	nodes := m.nodes
	m.nodes = make(map[string]*node)
	m.mu.Unlock()

	m.renderer.StopLoop()
	m.loads.Wait()

	var errs []error
	for id, n := range nodes {
		n.state = StateRemoved
		if n.handle == "" {
			continue
		}
		if err := m.renderer.Release(n.handle); err != nil {
			errs = append(errs, fmt.Errorf("release node %s: %w", id, err))
		}
		n.handle = ""
	}
	metrics.SceneNodes.Set(0)
	metrics.SceneVisibleNodes.Set(0)

	if err := m.renderer.Dispose(); err != nil {
		errs = append(errs, fmt.Errorf("dispose renderer: %w", err))
	}
	return errors.Join(errs...)
}
