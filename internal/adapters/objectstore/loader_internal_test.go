package objectstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/samirrijal/geoar/internal/core/domain"
)

// blockingFetch serves one mesh once released and records whether its
// context was already done at that point.
type blockingFetch struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	ctxErr  atomic.Value
}

func newBlockingFetch() *blockingFetch {
	return &blockingFetch{entered: make(chan struct{}), release: make(chan struct{})}
}

func (f *blockingFetch) fetch(ctx context.Context, _, key string) (*domain.Mesh, error) {
	if f.calls.Add(1) == 1 {
		close(f.entered)
	}
	<-f.release
	if err := ctx.Err(); err != nil {
		f.ctxErr.Store(err)
		return nil, err
	}
	return &domain.Mesh{Name: key, Primitive: "model", Vertices: []r3.Vec{{X: 1}}}, nil
}

func testLoader(fetch func(ctx context.Context, bucket, key string) (*domain.Mesh, error)) *Loader {
	return &Loader{bucket: "agent-models", fetchTimeout: time.Minute, fetchObject: fetch}
}

type loadResult struct {
	mesh *domain.Mesh
	err  error
}

func TestLoad_SharedFetchKeepsPerCallerDeadlines(t *testing.T) {
	f := newBlockingFetch()
	l := testLoader(f.fetch)

	shortCtx, cancelShort := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancelShort()
	short := make(chan loadResult, 1)
	go func() {
		m, err := l.Load(shortCtx, "models/kiosk.json")
		short <- loadResult{m, err}
	}()
	<-f.entered

	long := make(chan loadResult, 1)
	go func() {
		m, err := l.Load(context.Background(), "models/kiosk.json")
		long <- loadResult{m, err}
	}()

	res := <-short
	assert.ErrorIs(t, res.err, context.DeadlineExceeded)

	select {
	case <-long:
		t.Fatal("second caller inherited the first caller's deadline")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.release)
	res = <-long
	require.NoError(t, res.err)
	assert.Equal(t, "models/kiosk.json", res.mesh.Name)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Nil(t, f.ctxErr.Load())
}

func TestLoad_CancelledStarterDoesNotFailJoiners(t *testing.T) {
	f := newBlockingFetch()
	l := testLoader(f.fetch)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := l.Load(ctx, "s3://shared/guide.json")
		first <- err
	}()
	<-f.entered

	second := make(chan loadResult, 1)
	go func() {
		m, err := l.Load(context.Background(), "s3://shared/guide.json")
		second <- loadResult{m, err}
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)
	close(f.release)

	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "guide.json", res.mesh.Name)
}

func TestLoad_FetchBoundedByLoaderTimeout(t *testing.T) {
	l := testLoader(func(ctx context.Context, _, _ string) (*domain.Mesh, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	l.fetchTimeout = 20 * time.Millisecond

	_, err := l.Load(context.Background(), "models/stuck.json")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestLoad_CallersGetIndependentCopies(t *testing.T) {
	l := testLoader(func(_ context.Context, _, key string) (*domain.Mesh, error) {
		return &domain.Mesh{Name: key, Vertices: []r3.Vec{{X: 1}}}, nil
	})

	a, err := l.Load(context.Background(), "models/a.json")
	require.NoError(t, err)
	a.Vertices[0].X = 99

	b, err := l.Load(context.Background(), "models/a.json")
	require.NoError(t, err)
	assert.Equal(t, 1.0, b.Vertices[0].X)
}
