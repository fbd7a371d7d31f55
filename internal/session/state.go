package session

import (
	"context"
	"time"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/scene"
)

// State is the session lifecycle state.
//
//	Idle → Initializing → Active
//	          ↓ ↑
//	         Error
//	any → Ended (terminal, via Close)
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateActive
	StateError
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Capabilities are the platform features a session needs.
type Capabilities struct {
	Graphics    bool `json:"graphics"`
	Orientation bool `json:"orientation"`
	Camera      bool `json:"camera"`
}

// missing returns the first required capability that is absent.
func (c Capabilities) missing() string {
	switch {
	case !c.Graphics:
		return domain.CapabilityGraphics
	case !c.Orientation:
		return domain.CapabilityOrientation
	case !c.Camera:
		return domain.CapabilityCamera
	}
	return ""
}

// RenderTarget describes the surface a session draws to.
type RenderTarget struct {
	Width        int          `json:"width"`
	Height       int          `json:"height"`
	Capabilities Capabilities `json:"capabilities"`
}

// CapabilityProbe reports what the platform behind a target supports.
type CapabilityProbe interface {
	Probe(ctx context.Context, target RenderTarget) (Capabilities, error)
}

// ProbeFunc adapts a function to CapabilityProbe.
type ProbeFunc func(ctx context.Context, target RenderTarget) (Capabilities, error)

func (f ProbeFunc) Probe(ctx context.Context, target RenderTarget) (Capabilities, error) {
	return f(ctx, target)
}

// TargetProbe trusts the capabilities declared by the client. A target
// without a drawable area has no graphics.
type TargetProbe struct{}

func (TargetProbe) Probe(_ context.Context, target RenderTarget) (Capabilities, error) {
	caps := target.Capabilities
	if target.Width <= 0 || target.Height <= 0 {
		caps.Graphics = false
	}
	return caps, nil
}

// Scheduler delivers a value after d. Tests substitute a fake to drive
// retries without sleeping.
type Scheduler interface {
	After(d time.Duration) <-chan time.Time
}

// SystemScheduler uses the wall clock.
type SystemScheduler struct{}

func (SystemScheduler) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RendererFactory builds the renderer for a target.
type RendererFactory func(target RenderTarget) (scene.Renderer, error)

// HeadlessRenderers is the default RendererFactory.
func HeadlessRenderers(RenderTarget) (scene.Renderer, error) {
	return scene.NewHeadlessRenderer(), nil
}
