package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gaugedStore tracks how many Store calls run at once.
type gaugedStore struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (g *gaugedStore) Store(context.Context, string, []byte) error {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	g.calls.Add(1)
	time.Sleep(10 * time.Millisecond)
	return nil
}

type mockModelStore struct {
	mu     sync.Mutex
	stored []string
	fail   string
}

func (m *mockModelStore) Store(ctx context.Context, ref string, data []byte) error {
	if ref == m.fail {
		return errors.New("rejected")
	}
	m.mu.Lock()
	m.stored = append(m.stored, ref)
	m.mu.Unlock()
	return nil
}

func TestReadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"source": "demo",
		"agents": [{"id":"a1","latitude":1,"longitude":2}],
		"models": [{"ref":"models/a1.json","path":"a1.json"}]
	}`), 0o600))

	m, err := readManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", m.Source)
	assert.Len(t, m.Models, 1)
	assert.NotEmpty(t, m.Agents)
}

func TestReadManifest_MissingModelPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"models":[{"ref":"x"}]}`), 0o600))

	_, err := readManifest(path)
	assert.ErrorContains(t, err, "models[0]")
}

func TestUploadModels_CountsFailures(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.json", "b.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{"vertices":[]}`), 0o600))
	}
	store := &mockModelStore{fail: "models/b.json"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	failed := uploadModels(context.Background(), store, dir, []ModelEntry{
		{Ref: "models/a.json", Path: "a.json"},
		{Ref: "models/b.json", Path: "b.json"},
		{Ref: "models/c.json", Path: "missing.json"},
	}, logger)

	assert.Equal(t, 2, failed)
	sort.Strings(store.stored)
	assert.Equal(t, []string{"models/a.json"}, store.stored)
}

func TestUploadModels_BoundedConcurrency(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.json"), []byte(`{"vertices":[]}`), 0o600))

	models := make([]ModelEntry, 12)
	for i := range models {
		models[i] = ModelEntry{Ref: fmt.Sprintf("models/%d.json", i), Path: "m.json"}
	}
	store := &gaugedStore{}

	failed := uploadModels(context.Background(), store, dir, models, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Zero(t, failed)
	assert.Equal(t, int32(12), store.calls.Load())
	assert.LessOrEqual(t, store.peak.Load(), int32(uploadConcurrency))
}
