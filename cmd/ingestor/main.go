package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/samirrijal/geoar/internal/adapters/objectstore"
	"github.com/samirrijal/geoar/internal/adapters/postgres"
	"github.com/samirrijal/geoar/internal/core/usecases"
	"github.com/samirrijal/geoar/internal/pkg/config"
	"github.com/samirrijal/geoar/internal/pkg/logging"
)

// Manifest lists the agents and model documents to seed.
type Manifest struct {
	Source string          `json:"source"`
	Agents json.RawMessage `json:"agents"`
	Models []ModelEntry    `json:"models"`
}

// ModelEntry maps a model reference to a mesh document on disk, relative
// to the manifest.
type ModelEntry struct {
	Ref  string `json:"ref"`
	Path string `json:"path"`
}

// modelStore uploads mesh documents.
type modelStore interface {
	Store(ctx context.Context, modelRef string, data []byte) error
}

func main() {
	cfg, err := config.Load("geoar-ingestor")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	manifestPath := "manifest.json"
	if len(os.Args) > 1 {
		manifestPath = os.Args[1]
	}
	manifest, err := readManifest(manifestPath)
	if err != nil {
		log.Fatalf("manifest: %v", err)
	}

	ctx := context.Background()

	assets, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
	})
	if err != nil {
		log.Fatalf("minio: %v", err)
	}
	if err := assets.EnsureBucket(ctx); err != nil {
		log.Fatalf("bucket: %v", err)
	}

	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	parser, err := usecases.NewAgentParser(logger)
	if err != nil {
		log.Fatalf("agent parser: %v", err)
	}
	agents := usecases.NewAgentService(postgres.NewAgentRepo(db), nil)

	logger.Info("seeding", "source", manifest.Source, "models", len(manifest.Models))

	failed := uploadModels(ctx, assets, filepath.Dir(manifestPath), manifest.Models, logger)

	if len(manifest.Agents) > 0 {
		parsed, rejected, err := parser.Decode(manifest.Agents)
		if err != nil {
			log.Fatalf("agents: %v", err)
		}
		if err := agents.Register(ctx, parsed); err != nil {
			log.Fatalf("register agents: %v", err)
		}
		logger.Info("agents registered", "accepted", len(parsed), "rejected", len(rejected))
	}

	if failed > 0 {
		log.Fatalf("%d model uploads failed", failed)
	}
	logger.Info("ingestion complete")
}

const uploadConcurrency = 4

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	for i, e := range m.Models {
		if e.Ref == "" || e.Path == "" {
			return nil, fmt.Errorf("models[%d]: ref and path are required", i)
		}
	}
	return &m, nil
}

// uploadModels stores every model document, at most uploadConcurrency at
// a time, and returns the number of failures. One failure does not stop
// the others.
func uploadModels(ctx context.Context, store modelStore, dir string, models []ModelEntry, logger *slog.Logger) int {
	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(uploadConcurrency)

	for _, m := range models {
		g.Go(func() error {
			if err := uploadModel(ctx, store, dir, m); err != nil {
				logger.Error("model upload failed", "ref", m.Ref, "error", err)
				failed.Add(1)
				return nil
			}
			logger.Info("model uploaded", "ref", m.Ref)
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}

func uploadModel(ctx context.Context, store modelStore, dir string, m ModelEntry) error {
	path := m.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return store.Store(ctx, m.Ref, data)
}
