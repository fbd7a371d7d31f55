package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/core/ports"
	"github.com/samirrijal/geoar/internal/core/usecases"
	"github.com/samirrijal/geoar/internal/pkg/metrics"
	"github.com/samirrijal/geoar/internal/scene"
)

// ErrInitAborted is returned to Initialize callers when the session was
// ended while the attempt was running.
var ErrInitAborted = errors.New("initialization aborted")

// Config controls retries and the scene built for each session.
type Config struct {
	Scene      scene.Config
	MaxRetries int
	Backoff    []time.Duration
}

// DefaultConfig retries three times after 1 s, 2 s and 4 s.
func DefaultConfig() Config {
	return Config{
		Scene:      scene.DefaultConfig(),
		MaxRetries: 3,
		Backoff:    []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
	}
}

// NearbySource answers the nearby-agent query on a location fix.
type NearbySource interface {
	FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.TrackedAgent, error)
}

// Option customizes a Controller.
type Option func(*Controller)

func WithProbe(p CapabilityProbe) Option { return func(c *Controller) { c.probe = p } }

func WithScheduler(s Scheduler) Option { return func(c *Controller) { c.sched = s } }

func WithRendererFactory(f RendererFactory) Option { return func(c *Controller) { c.newRenderer = f } }

// WithNearbySource makes UpdateLocation refresh the agent set from src.
func WithNearbySource(src NearbySource, radiusMeters float64, limit int) Option {
	return func(c *Controller) {
		c.nearby = src
		c.nearbyRadius = radiusMeters
		c.nearbyLimit = limit
	}
}

// Status is a snapshot of the controller.
type Status struct {
	State       State         `json:"state"`
	SessionID   string        `json:"session_id,omitempty"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	LastError   string        `json:"last_error,omitempty"`
	Target      *RenderTarget `json:"target,omitempty"`
	Heading     float64       `json:"heading"`
}

// Controller runs one AR session at a time: it probes the platform, owns
// the scene manager while Active and feeds it from the range service.
type Controller struct {
	ranges *usecases.RangeService
	loader ports.AssetLoader
	cfg    Config
	logger *slog.Logger

	probe        CapabilityProbe
	sched        Scheduler
	newRenderer  RendererFactory
	nearby       NearbySource
	nearbyRadius float64
	nearbyLimit  int

	init singleflight.Group

	mu         sync.Mutex
	state      State
	gen        uint64
	initCancel context.CancelFunc
	manager    *scene.Manager
	sessionID  string
	attempt    int
	lastErr    error
	target     *RenderTarget
	heading    float64

	reconcileMu sync.Mutex
	dirty       atomic.Bool
}

// NewController creates an idle Controller.
func NewController(ranges *usecases.RangeService, loader ports.AssetLoader, cfg Config, logger *slog.Logger, opts ...Option) *Controller {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = DefaultConfig().Backoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		ranges:      ranges,
		loader:      loader,
		cfg:         cfg,
		logger:      logger.With("component", "session"),
		probe:       TargetProbe{},
		sched:       SystemScheduler{},
		newRenderer: HeadlessRenderers,
		nearbyLimit: 200,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const initKey = "init"

// Initialize starts a session on target. Concurrent callers share one
// attempt. Failures move to Error and are retried with backoff; the error
// of the last attempt is returned once retries run out.
func (c *Controller) Initialize(ctx context.Context, target RenderTarget) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	switch state {
	case StateEnded:
		return domain.ErrSessionEnded
	case StateActive:
		return nil
	}

	_, err, _ := c.init.Do(initKey, func() (any, error) {
		return nil, c.runInit(ctx, target)
	})
	return err
}

func (c *Controller) runInit(ctx context.Context, target RenderTarget) error {
	c.mu.Lock()
	switch c.state {
	case StateEnded:
		c.mu.Unlock()
		return domain.ErrSessionEnded
	case StateActive:
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	ictx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.initCancel = cancel
	c.target = &target
	c.mu.Unlock()
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries+1; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt - 2)
			c.logger.Info("retrying session init", "attempt", attempt, "delay", delay)
			select {
			case <-c.sched.After(delay):
			case <-ictx.Done():
				return ErrInitAborted
			}
		}
		if !c.transition(gen, StateInitializing, attempt, nil) {
			return ErrInitAborted
		}

		mgr, err := c.build(ictx, target)
		if err == nil {
			if !c.activate(gen, mgr) {
				_ = mgr.Dispose()
				metrics.SessionInitAttempts.WithLabelValues("aborted").Inc()
				return ErrInitAborted
			}
			metrics.SessionInitAttempts.WithLabelValues("success").Inc()
			c.dirty.Store(true)
			if err := c.reconcile(ctx); err != nil && !errors.Is(err, domain.ErrReconcileInFlight) {
				c.logger.Warn("initial reconcile failed", "error", err)
			}
			return nil
		}

		lastErr = err
		var capErr *domain.CapabilityError
		if errors.As(err, &capErr) {
			metrics.SessionInitAttempts.WithLabelValues("capability").Inc()
		} else {
			metrics.SessionInitAttempts.WithLabelValues("error").Inc()
		}
		c.logger.Warn("session init failed", "attempt", attempt, "error", err)
		if !c.transition(gen, StateError, attempt, err) {
			return ErrInitAborted
		}
	}
	return lastErr
}

func (c *Controller) backoff(i int) time.Duration {
	if i >= len(c.cfg.Backoff) {
		return c.cfg.Backoff[len(c.cfg.Backoff)-1]
	}
	return c.cfg.Backoff[i]
}

// build probes the platform and constructs the renderer and manager. On
// error nothing is left allocated.
func (c *Controller) build(ctx context.Context, target RenderTarget) (*scene.Manager, error) {
	caps, err := c.probe.Probe(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("probe capabilities: %w", err)
	}
	if name := caps.missing(); name != "" {
		return nil, &domain.CapabilityError{Capability: name}
	}

	renderer, err := c.newRenderer(target)
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}
	mgr := scene.NewManager(c.loader, renderer, c.cfg.Scene, c.logger)
	if anchor, ok := c.ranges.Anchor(); ok {
		mgr.SetAnchor(anchor)
	}
	if err := mgr.Start(); err != nil {
		_ = mgr.Dispose()
		return nil, fmt.Errorf("start render loop: %w", err)
	}
	return mgr, nil
}

// transition applies a state change made by the init attempt of gen. It
// fails once End has superseded that attempt.
func (c *Controller) transition(gen uint64, to State, attempt int, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state == StateEnded {
		return false
	}
	c.setStateLocked(to)
	c.attempt = attempt
	c.lastErr = err
	return true
}

func (c *Controller) activate(gen uint64, mgr *scene.Manager) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state == StateEnded || c.manager != nil {
		return false
	}
	mgr.SetHeading(c.heading)
	c.manager = mgr
	c.sessionID = uuid.NewString()
	c.lastErr = nil
	c.setStateLocked(StateActive)
	c.logger.Info("session active", "session_id", c.sessionID, "attempt", c.attempt)
	return true
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	metrics.SessionTransitions.WithLabelValues(s.String()).Inc()
}

// Update feeds a new anchor and/or agent set. nil arguments leave the
// corresponding value unchanged. The range service is updated at once;
// the scene is reconciled while Active, latest update wins.
func (c *Controller) Update(ctx context.Context, anchor *domain.GeoPoint, agents []domain.TrackedAgent) error {
	c.mu.Lock()
	ended := c.state == StateEnded
	c.mu.Unlock()
	if ended {
		return domain.ErrSessionEnded
	}

	if anchor != nil {
		c.ranges.UpdateUserLocation(*anchor)
	}
	if agents != nil {
		c.ranges.UpdateAgents(agents)
	}

	if c.dirty.Swap(true) {
		metrics.ReconcileCoalesced.Inc()
	}
	err := c.reconcile(ctx)
	if errors.Is(err, domain.ErrReconcileInFlight) {
		return nil
	}
	return err
}

// UpdateLocation feeds a location fix, refreshing agents from the nearby
// source when one is configured.
func (c *Controller) UpdateLocation(ctx context.Context, p domain.GeoPoint) error {
	var agents []domain.TrackedAgent
	if c.nearby != nil && p.Validate() == nil {
		found, err := c.nearby.FindNearby(ctx, p.Lat, p.Lon, c.nearbyRadius, c.nearbyLimit)
		if err != nil {
			c.logger.Warn("nearby query failed, keeping agent set", "error", err)
		} else {
			agents = found
			if agents == nil {
				agents = []domain.TrackedAgent{}
			}
		}
	}
	return c.Update(ctx, &p, agents)
}

// UpdateAgents replaces the agent set.
func (c *Controller) UpdateAgents(ctx context.Context, agents []domain.TrackedAgent) error {
	if agents == nil {
		agents = []domain.TrackedAgent{}
	}
	return c.Update(ctx, nil, agents)
}

// reconcile runs one pass over the latest range state. A caller whose
// update was already consumed by the pass before it gets
// ErrReconcileInFlight.
func (c *Controller) reconcile(ctx context.Context) error {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	if !c.dirty.Swap(false) {
		return domain.ErrReconcileInFlight
	}

	c.mu.Lock()
	mgr := c.manager
	c.mu.Unlock()
	if mgr == nil {
		return nil
	}

	if anchor, ok := c.ranges.Anchor(); ok {
		mgr.SetAnchor(anchor)
	}
	res, err := mgr.Reconcile(ctx, c.ranges.Agents())
	if errors.Is(err, scene.ErrDisposed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile scene: %w", err)
	}
	if len(res.Added)+len(res.Removed) > 0 {
		c.logger.Debug("scene reconciled", "added", len(res.Added), "removed", len(res.Removed))
	}
	return nil
}

// SetHeading turns the camera to a compass heading in degrees.
func (c *Controller) SetHeading(deg float64) {
	c.mu.Lock()
	c.heading = deg
	mgr := c.manager
	c.mu.Unlock()
	if mgr != nil {
		mgr.SetHeading(deg)
	}
}

// End tears the current session down and returns to Idle. It is safe in
// any state; after Close it does nothing.
func (c *Controller) End(ctx context.Context) error {
	return c.teardown(ctx, StateIdle)
}

// Close ends the session for good. Initialize fails afterwards.
func (c *Controller) Close(ctx context.Context) error {
	return c.teardown(ctx, StateEnded)
}

func (c *Controller) teardown(_ context.Context, final State) error {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	if c.initCancel != nil {
		c.initCancel()
		c.initCancel = nil
	}
	// A superseded attempt may still be running; later callers start fresh.
	c.init.Forget(initKey)
	mgr := c.manager
	c.manager = nil
	prev := c.sessionID
	c.sessionID = ""
	c.attempt = 0
	c.lastErr = nil
	c.target = nil
	c.setStateLocked(final)
	c.mu.Unlock()

	c.dirty.Store(false)
	c.ranges.Reset()

	if mgr == nil {
		return nil
	}
	c.logger.Info("session ended", "session_id", prev, "state", final)
	if err := mgr.Dispose(); err != nil {
		return fmt.Errorf("dispose scene: %w", err)
	}
	return nil
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:       c.state,
		SessionID:   c.sessionID,
		Attempt:     c.attempt,
		MaxAttempts: c.cfg.MaxRetries + 1,
		Heading:     c.heading,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if c.target != nil {
		t := *c.target
		st.Target = &t
	}
	return st
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error of the last failed attempt.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) activeManager() (*scene.Manager, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == StateEnded:
		return nil, domain.ErrSessionEnded
	case c.manager == nil:
		return nil, domain.ErrSessionNotActive
	}
	return c.manager, nil
}

// VisibleNodeIDs returns the ids of scene nodes inside the camera view.
func (c *Controller) VisibleNodeIDs() ([]string, error) {
	mgr, err := c.activeManager()
	if err != nil {
		return nil, err
	}
	return mgr.VisibleNodeIDs(), nil
}

// Nodes returns a snapshot of the scene nodes.
func (c *Controller) Nodes() ([]scene.NodeInfo, error) {
	mgr, err := c.activeManager()
	if err != nil {
		return nil, err
	}
	return mgr.Nodes(), nil
}

// Ranges returns the range service the controller feeds.
func (c *Controller) Ranges() *usecases.RangeService {
	return c.ranges
}
