package domain

import (
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultVisibilityRadius is used when an agent does not declare a radius.
const DefaultVisibilityRadius = 50.0

// AgentType selects the base overlay size and the fallback primitive.
type AgentType string

const (
	AgentTypeDefault   AgentType = "default"
	AgentTypeAssistant AgentType = "assistant"
	AgentTypeMerchant  AgentType = "merchant"
	AgentTypeGuide     AgentType = "guide"
	AgentTypeGame      AgentType = "game"
)

// Normalize lower-cases the type and maps empty values to AgentTypeDefault.
func (t AgentType) Normalize() AgentType {
	s := strings.ToLower(strings.TrimSpace(string(t)))
	if s == "" {
		return AgentTypeDefault
	}
	return AgentType(s)
}

// Transform is the per-agent model transform declared by the feed.
type Transform struct {
	Scale    float64 `json:"scale"`
	Rotation r3.Vec  `json:"rotation"` // Euler angles, radians
}

// TrackedAgent is a validated virtual agent anchored at a GPS position.
type TrackedAgent struct {
	ID                     string    `json:"id"`
	Name                   string    `json:"name,omitempty"`
	Type                   AgentType `json:"type"`
	Location               GeoPoint  `json:"location"`
	VisibilityRadiusMeters float64   `json:"visibility_radius_meters"`
	ModelRef               string    `json:"model_ref"`
	Transform              Transform `json:"transform"`
	Active                 bool      `json:"active"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Radius returns the visibility radius, substituting the default for
// missing or nonsensical values.
func (a TrackedAgent) Radius() float64 {
	r := a.VisibilityRadiusMeters
	if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return DefaultVisibilityRadius
	}
	return r
}

// Validate checks the fields the core relies on.
func (a TrackedAgent) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return &ValidationError{Field: "id", Reason: "empty"}
	}
	return a.Location.Validate()
}

// AgentRecord is the loosely typed record delivered by the nearby-agent
// feed. It must go through the boundary parser before entering the core.
type AgentRecord struct {
	ID                     string           `json:"id"`
	Name                   string           `json:"name,omitempty"`
	Type                   string           `json:"type,omitempty"`
	Latitude               *float64         `json:"latitude"`
	Longitude              *float64         `json:"longitude"`
	Altitude               *float64         `json:"altitude,omitempty"`
	VisibilityRadiusMeters *float64         `json:"visibility_radius_meters,omitempty"`
	ModelRef               string           `json:"model_ref"`
	Transform              *RecordTransform `json:"transform,omitempty"`
	Active                 *bool            `json:"active,omitempty"`
}

// RecordTransform is the wire form of Transform.
type RecordTransform struct {
	Scale    *float64  `json:"scale,omitempty"`
	Rotation []float64 `json:"rotation,omitempty"`
}

// Mesh is what an asset loader produces for one model reference.
type Mesh struct {
	Name      string   `json:"name"`
	Primitive string   `json:"primitive,omitempty"`
	Color     string   `json:"color,omitempty"`
	Vertices  []r3.Vec `json:"vertices"`
	Fallback  bool     `json:"fallback,omitempty"`
}

// DistanceSample is the ephemeral result of one range computation.
type DistanceSample struct {
	AgentID        string  `json:"agent_id"`
	DistanceMeters float64 `json:"distance_meters"`
	InRange        bool    `json:"in_range"`
}

// Placement is the 2D overlay slot allocated to one agent.
type Placement struct {
	AgentID        string  `json:"agent_id"`
	DistanceMeters float64 `json:"distance_meters"`
	Scale          float64 `json:"scale"`
	Size           float64 `json:"size"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Row            int     `json:"row"`
	Col            int     `json:"col"`
}
