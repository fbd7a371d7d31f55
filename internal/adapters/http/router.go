package http

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/geoar/internal/pkg/metrics"
)

// requestTimeout bounds REST handlers. Session init may run its full
// retry schedule inside it.
const requestTimeout = 15 * time.Second

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	// Location fixes arrive at sensor rate; 600 per minute per IP.
	app.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/ws"
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Cache-Control", "no-store")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	// Health & readiness
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	v1 := app.Group("/v1")
	v1.Get("/session", SessionStatusHandler(deps))
	v1.Post("/session/init", timeout.NewWithContext(InitSessionHandler(deps), requestTimeout))
	v1.Post("/session/end", timeout.NewWithContext(EndSessionHandler(deps), requestTimeout))
	v1.Put("/session/heading", HeadingHandler(deps))

	v1.Post("/location", timeout.NewWithContext(UpdateLocationHandler(deps), requestTimeout))
	v1.Post("/agents", timeout.NewWithContext(UpdateAgentsHandler(deps), requestTimeout))
	v1.Get("/agents/in-range", InRangeHandler(deps))
	v1.Get("/agents/nearby", timeout.NewWithContext(NearbyAgentsHandler(deps), requestTimeout))
	v1.Get("/agents/:id/distance", AgentDistanceHandler(deps))

	v1.Get("/scene/visible", VisibleNodesHandler(deps))
	v1.Get("/scene/nodes", SceneNodesHandler(deps))
	v1.Get("/placements", PlacementsHandler(deps))

	app.Post("/graphql", GraphQLHandler(deps))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps.Ranges, slog.Default())))
}
