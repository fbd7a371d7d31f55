package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/core/usecases"
	"github.com/samirrijal/geoar/internal/session"
)

// SessionStatusHandler returns the controller status.
func SessionStatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(deps.Session.Status())
	}
}

// InitSessionHandler starts a session for the render target in the body.
// Capability failures answer 422 once the retry schedule is exhausted.
func InitSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var target session.RenderTarget
		if err := c.BodyParser(&target); err != nil {
			return errBadRequest(c, "invalid render target")
		}
		if err := deps.Session.Initialize(c.UserContext(), target); err != nil {
			return writeError(c, err)
		}
		return c.JSON(deps.Session.Status())
	}
}

// EndSessionHandler disposes the current session and returns to Idle.
func EndSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Session.End(c.UserContext()); err != nil {
			return writeError(c, err)
		}
		return c.JSON(deps.Session.Status())
	}
}

type headingRequest struct {
	Heading *float64 `json:"heading"`
}

// HeadingHandler turns the camera to a compass heading.
func HeadingHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req headingRequest
		if err := c.BodyParser(&req); err != nil || req.Heading == nil {
			return errBadRequest(c, "heading is required")
		}
		deps.Session.SetHeading(*req.Heading)
		return c.JSON(deps.Session.Status())
	}
}

// UpdateLocationHandler feeds one location fix and answers with the agents
// now in range.
func UpdateLocationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := usecases.DecodeLocation(c.Body())
		if err != nil {
			return writeError(c, err)
		}
		if err := deps.Session.UpdateLocation(c.UserContext(), p); err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{
			"in_range": deps.Ranges.InRange(),
		})
	}
}

type agentsResponse struct {
	Accepted int      `json:"accepted"`
	Rejected []string `json:"rejected,omitempty"`
}

// UpdateAgentsHandler replaces the agent set with the records in the body.
// Malformed records are dropped individually.
func UpdateAgentsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		agents, rejected, err := deps.Parser.Decode(c.Body())
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		if err := deps.Session.UpdateAgents(c.UserContext(), agents); err != nil {
			return writeError(c, err)
		}
		resp := agentsResponse{Accepted: len(agents)}
		for _, r := range rejected {
			resp.Rejected = append(resp.Rejected, r.Error())
		}
		return c.JSON(resp)
	}
}

// InRangeHandler returns the agents within their visibility radius.
func InRangeHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(deps.Ranges.InRange())
	}
}

// NearbyAgentsHandler runs the nearby-agent query directly.
func NearbyAgentsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Agents == nil {
			return errUnavailable(c, "agent store not configured")
		}
		if c.Query("lat") == "" || c.Query("lon") == "" {
			return errBadRequest(c, "lat and lon are required")
		}
		lat := c.QueryFloat("lat", 0)
		lon := c.QueryFloat("lon", 0)
		radius := c.QueryFloat("radius", 150)
		limit := c.QueryInt("limit", 50)
		if radius <= 0 || radius > 10000 {
			return errBadRequest(c, "radius must be between 1 and 10000 meters")
		}

		agents, err := deps.Agents.FindNearby(c.UserContext(), lat, lon, radius, limit)
		if err != nil {
			return writeError(c, err)
		}
		if agents == nil {
			agents = []domain.TrackedAgent{}
		}
		return c.JSON(agents)
	}
}

// AgentDistanceHandler returns the distance from the user to one agent.
func AgentDistanceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, ok := deps.Ranges.Anchor(); !ok {
			return writeError(c, domain.ErrNoAnchor)
		}
		d, ok := deps.Ranges.DistanceToAgentID(id)
		if !ok {
			return errNotFound(c, "agent not tracked: "+id)
		}
		return c.JSON(fiber.Map{
			"agent_id":        id,
			"distance_meters": d,
		})
	}
}

// VisibleNodesHandler returns the ids of scene nodes inside the view.
func VisibleNodesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ids, err := deps.Session.VisibleNodeIDs()
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"visible": ids})
	}
}

// SceneNodesHandler returns a snapshot of every scene node.
func SceneNodesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		nodes, err := deps.Session.Nodes()
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(nodes)
	}
}

// PlacementsHandler lays the tracked agents out on a 2D viewport.
func PlacementsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		vp := usecases.Viewport{
			Width:  c.QueryFloat("width", 0),
			Height: c.QueryFloat("height", 0),
		}
		if vp.Width <= 0 || vp.Height <= 0 {
			return errBadRequest(c, "width and height must be positive")
		}
		anchor, ok := deps.Ranges.Anchor()
		if !ok {
			return writeError(c, domain.ErrNoAnchor)
		}
		placements := deps.Placements.Allocate(&anchor, deps.Ranges.Agents(), vp)
		if placements == nil {
			placements = []domain.Placement{}
		}
		return c.JSON(placements)
	}
}

