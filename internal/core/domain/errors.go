package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrLoadTimeout is wrapped by AssetLoadError when a fetch exceeds its bound.
	ErrLoadTimeout = errors.New("asset load timed out")

	// ErrReconcileInFlight marks a reconcile request that was coalesced into
	// a pass already running. It never leaves the session package.
	ErrReconcileInFlight = errors.New("reconcile already in flight")

	// ErrSessionNotActive is returned for scene operations outside Active.
	ErrSessionNotActive = errors.New("session not active")

	// ErrSessionEnded is returned once a controller has been closed.
	ErrSessionEnded = errors.New("session ended")

	// ErrNoAnchor is returned by queries that need a user location.
	ErrNoAnchor = errors.New("no user location")

	// ErrNotFound is returned when an agent is unknown.
	ErrNotFound = errors.New("not found")
)

// ValidationError describes malformed geo or agent input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Capability names probed before a session starts.
const (
	CapabilityGraphics    = "graphics"
	CapabilityOrientation = "orientation"
	CapabilityCamera      = "camera"
)

// CapabilityError reports a missing platform feature.
type CapabilityError struct {
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("required capability unavailable: %s", e.Capability)
}

// AssetLoadError reports a failed fetch or parse of one agent's model.
type AssetLoadError struct {
	AgentID  string
	ModelRef string
	Err      error
}

func (e *AssetLoadError) Error() string {
	return fmt.Sprintf("load asset %q for agent %s: %v", e.ModelRef, e.AgentID, e.Err)
}

func (e *AssetLoadError) Unwrap() error { return e.Err }

// IsTimeout reports whether the load failed because it exceeded its bound.
func (e *AssetLoadError) IsTimeout() bool {
	return errors.Is(e.Err, ErrLoadTimeout)
}
