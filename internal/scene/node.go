package scene

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/samirrijal/geoar/internal/core/domain"
)

// NodeState is the lifecycle state of a scene node.
//
//	Unloaded → Loading → Ready
//	                   ↘ Failed → FallbackReady
//	any → Removed (terminal)
//
// A node whose fallback upload also fails goes Failed → Removed and is
// loaded again by the next reconcile.
type NodeState int

const (
	StateUnloaded NodeState = iota
	StateLoading
	StateReady
	StateFailed
	StateFallbackReady
	StateRemoved
)

func (s NodeState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateFallbackReady:
		return "fallback_ready"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// MarshalText lets states appear by name in JSON.
func (s NodeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Renderable reports whether the node holds geometry that can be drawn.
// FallbackReady counts as Ready everywhere outside the manager.
func (s NodeState) Renderable() bool {
	return s == StateReady || s == StateFallbackReady
}

// node is one arena entry, keyed by agent id. All fields are guarded by
// Manager.mu. A node owns at most one GPU handle.
type node struct {
	agent     domain.TrackedAgent
	state     NodeState
	epoch     uint64
	handle    Handle
	mesh      *domain.Mesh
	position  r3.Vec
	bound     *Sphere // mesh space; nil until computed
	loadErr   error
	startedAt time.Time
}

// worldBound returns the node bound in scene space, computing the default
// unit sphere on first use when the mesh gave none.
func (n *node) worldBound() Sphere {
	if n.bound == nil {
		n.bound = &Sphere{Radius: 1}
	}
	scale := n.agent.Transform.Scale
	if scale <= 0 {
		scale = 1
	}
	return Sphere{
		Center: r3.Add(n.position, r3.Scale(scale, n.bound.Center)),
		Radius: n.bound.Radius * scale,
	}
}

// NodeInfo is a read-only snapshot of a node.
type NodeInfo struct {
	AgentID   string    `json:"agent_id"`
	State     NodeState `json:"state"`
	Position  r3.Vec    `json:"position"`
	Primitive string    `json:"primitive,omitempty"`
	Fallback  bool      `json:"fallback"`
	HasHandle bool      `json:"has_handle"`
	Error     string    `json:"error,omitempty"`
}

func (n *node) info() NodeInfo {
	info := NodeInfo{
		AgentID:   n.agent.ID,
		State:     n.state,
		Position:  n.position,
		HasHandle: n.handle != "",
	}
	if n.mesh != nil {
		info.Primitive = n.mesh.Primitive
		info.Fallback = n.mesh.Fallback
	}
	if n.loadErr != nil {
		info.Error = n.loadErr.Error()
	}
	return info
}
