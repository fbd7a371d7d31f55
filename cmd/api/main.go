package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/geoar/internal/adapters/http"
	natsadapter "github.com/samirrijal/geoar/internal/adapters/nats"
	"github.com/samirrijal/geoar/internal/adapters/objectstore"
	"github.com/samirrijal/geoar/internal/adapters/postgres"
	"github.com/samirrijal/geoar/internal/adapters/valkey"
	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/core/ports"
	"github.com/samirrijal/geoar/internal/core/usecases"
	"github.com/samirrijal/geoar/internal/pkg/config"
	"github.com/samirrijal/geoar/internal/pkg/logging"
	"github.com/samirrijal/geoar/internal/pkg/telemetry"
	"github.com/samirrijal/geoar/internal/scene"
	"github.com/samirrijal/geoar/internal/session"
)

func main() {
	cfg, err := config.Load("geoar-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			logger.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	deps := &http.Dependencies{}

	// Cache
	var cache ports.CacheService
	if c, err := valkey.New(cfg.Valkey.Addr); err != nil {
		logger.Warn("valkey unavailable", "error", err)
	} else {
		defer c.Close()
		cache = c
		deps.Cache = c
	}

	// Nearby-agent store
	var agentSvc *usecases.AgentService
	if cfg.Database.Enabled {
		db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		deps.DB = db
		agentSvc = usecases.NewAgentService(postgres.NewAgentRepo(db), cache)
	}

	// Asset storage
	var loader ports.AssetLoader = missingAssets{}
	if cfg.MinIO.Endpoint != "" {
		l, err := objectstore.New(objectstore.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			log.Fatalf("minio: %v", err)
		}
		loader = l
		deps.Assets = l
	}

	parser, err := usecases.NewAgentParser(logger)
	if err != nil {
		log.Fatalf("agent parser: %v", err)
	}

	// Core
	ranges := usecases.NewRangeService(logger)
	opts := []session.Option{}
	if agentSvc != nil {
		opts = append(opts, session.WithNearbySource(agentSvc, cfg.Range.NearbyRadius, cfg.Range.NearbyLimit))
	}
	ctrl := session.NewController(ranges, loader, session.Config{
		Scene: scene.Config{
			MaxObjects:    cfg.Scene.MaxObjects,
			LoadTimeout:   cfg.Scene.LoadTimeout,
			FrameInterval: cfg.Scene.FrameInterval,
		},
		MaxRetries: cfg.Session.MaxRetries,
		Backoff:    cfg.Session.Backoff,
	}, logger, opts...)

	// NATS: in-range events out, agent and location feeds in.
	if pub, err := natsadapter.NewPublisher(cfg.NATS.URL); err != nil {
		logger.Warn("nats publisher unavailable", "error", err)
	} else {
		defer pub.Close()
		deps.NATS = pub.Conn()
		unsubscribe := ranges.Subscribe(inRangePublisher(ctx, pub, cfg.NATS.Session, logger))
		defer unsubscribe()
	}

	if sub, err := natsadapter.NewSubscriber(cfg.NATS.URL, logger); err != nil {
		logger.Warn("nats subscriber unavailable", "error", err)
	} else {
		defer sub.Close()
		if err := subscribeFeeds(ctx, sub, parser, ctrl); err != nil {
			logger.Warn("feed subscription failed", "error", err)
		}
	}

	deps.Session = ctrl
	deps.Ranges = ranges
	deps.Parser = parser
	deps.Agents = agentSvc
	deps.Placements = usecases.NewPlacementService(usecases.PlacementConfig{
		MaxDistance:     cfg.Placement.MaxDistance,
		NearDistance:    cfg.Placement.NearDistance,
		NominalDistance: cfg.Placement.NominalDistance,
		FloorDistance:   cfg.Placement.FloorDistance,
		NearScale:       cfg.Placement.NearScale,
		FloorScale:      cfg.Placement.FloorScale,
		JitterFraction:  cfg.Placement.JitterFraction,
		BaseSizes:       usecases.DefaultPlacementConfig().BaseSizes,
	})

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "GeoAR API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
		MaxAge:       3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}
	if err := ctrl.Close(shutdownCtx); err != nil {
		logger.Error("close session", "error", err)
	}

	logger.Info("server stopped")
}

// inRangePublisher forwards in-range updates to NATS from one goroutine so
// publishes keep recomputation order. A slow broker only sees the newest
// list. The worker stops with ctx.
func inRangePublisher(ctx context.Context, pub ports.EventPublisher, sessionID string, logger *slog.Logger) usecases.InRangeFunc {
	pending := make(chan []domain.DistanceSample, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case samples := <-pending:
				pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
				if err := pub.PublishInRange(pctx, sessionID, samples); err != nil {
					logger.Warn("publish in-range", "error", err)
				}
				cancel()
			}
		}
	}()

	return func(samples []domain.DistanceSample) {
		for {
			select {
			case pending <- samples:
				return
			default:
			}
			select {
			case <-pending:
			default:
			}
		}
	}
}

func subscribeFeeds(ctx context.Context, sub ports.EventSubscriber, parser *usecases.AgentParser, ctrl *session.Controller) error {
	err := sub.SubscribeAgentFeed(ctx, func(ctx context.Context, data []byte) error {
		agents, _, err := parser.Decode(data)
		if err != nil {
			return err
		}
		return ctrl.UpdateAgents(ctx, agents)
	})
	if err != nil {
		return fmt.Errorf("agent feed: %w", err)
	}

	err = sub.SubscribeLocations(ctx, func(ctx context.Context, data []byte) error {
		p, err := usecases.DecodeLocation(data)
		if err != nil {
			return err
		}
		return ctrl.UpdateLocation(ctx, p)
	})
	if err != nil {
		return fmt.Errorf("location feed: %w", err)
	}
	return nil
}

// missingAssets is used when no object store is configured; every agent
// renders its fallback primitive.
type missingAssets struct{}

func (missingAssets) Load(_ context.Context, ref string) (*domain.Mesh, error) {
	return nil, fmt.Errorf("no asset store configured for %q: %w", ref, domain.ErrNotFound)
}
