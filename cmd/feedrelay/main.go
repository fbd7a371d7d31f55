package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsadapter "github.com/samirrijal/geoar/internal/adapters/nats"
	"github.com/samirrijal/geoar/internal/adapters/postgres"
	"github.com/samirrijal/geoar/internal/core/usecases"
	"github.com/samirrijal/geoar/internal/pkg/config"
	"github.com/samirrijal/geoar/internal/pkg/logging"
)

func main() {
	cfg, err := config.Load("geoar-feedrelay")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	feedURL := cfg.Feed.URL
	if len(os.Args) > 1 {
		feedURL = os.Args[1]
	}
	if feedURL == "" {
		log.Fatal("usage: feedrelay <feed-url> (or set GEOAR_FEED_URL)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer pub.Close()

	parser, err := usecases.NewAgentParser(logger)
	if err != nil {
		log.Fatalf("agent parser: %v", err)
	}

	r := &relay{
		client: &http.Client{Timeout: 30 * time.Second},
		url:    feedURL,
		region: cfg.Feed.Region,
		parser: parser,
		pub:    pub,
		logger: logger,
	}

	if cfg.Database.Enabled {
		db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer db.Close()
		r.store = usecases.NewAgentService(postgres.NewAgentRepo(db), nil)
	}

	ticker := time.NewTicker(cfg.Feed.PollInterval)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("feed relay started", "url", feedURL, "region", cfg.Feed.Region, "interval", cfg.Feed.PollInterval)

	// Run once immediately
	r.pollLogged(ctx)

	for {
		select {
		case <-ticker.C:
			r.pollLogged(ctx)
		case sig := <-quit:
			logger.Info("shutting down feed relay", "signal", sig.String())
			return
		}
	}
}
