package scene

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/pkg/metrics"
)

// Handle identifies one GPU-side resource.
type Handle string

var (
	ErrRendererDisposed = errors.New("renderer disposed")
	ErrUnknownHandle    = errors.New("unknown resource handle")
)

// Renderer owns GPU resources and the frame loop.
type Renderer interface {
	// Upload acquires GPU resources for mesh.
	Upload(ctx context.Context, mesh *domain.Mesh) (Handle, error)
	// Release frees h synchronously.
	Release(h Handle) error
	// StartLoop calls frame every interval until StopLoop.
	StartLoop(interval time.Duration, frame func())
	// StopLoop stops the loop and returns once any in-progress frame is done.
	StopLoop()
	// Dispose releases everything the renderer still holds.
	Dispose() error
}

// HeadlessRenderer is a Renderer that keeps resources in memory. It is used
// by the server, which has no display, and by tests to account for handles.
type HeadlessRenderer struct {
	mu       sync.Mutex
	handles  map[Handle]*domain.Mesh
	disposed bool

	loopMu   sync.Mutex
	stopLoop context.CancelFunc
	loopDone chan struct{}
	frames   atomic.Uint64
}

// NewHeadlessRenderer creates an empty HeadlessRenderer.
func NewHeadlessRenderer() *HeadlessRenderer {
	return &HeadlessRenderer{handles: make(map[Handle]*domain.Mesh)}
}

func (r *HeadlessRenderer) Upload(ctx context.Context, mesh *domain.Mesh) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if mesh == nil {
		return "", fmt.Errorf("upload: nil mesh")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return "", ErrRendererDisposed
	}
	h := Handle(uuid.NewString())
	r.handles[h] = mesh
	metrics.GPUHandles.Inc()
	return h, nil
}

func (r *HeadlessRenderer) Release(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[h]; !ok {
		return fmt.Errorf("release %s: %w", h, ErrUnknownHandle)
	}
	delete(r.handles, h)
	metrics.GPUHandles.Dec()
	return nil
}

// LiveHandles returns the number of resources currently held.
func (r *HeadlessRenderer) LiveHandles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Holds reports whether h is still allocated.
func (r *HeadlessRenderer) Holds(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[h]
	return ok
}

// Frames returns the number of frames rendered so far.
func (r *HeadlessRenderer) Frames() uint64 {
	return r.frames.Load()
}

func (r *HeadlessRenderer) StartLoop(interval time.Duration, frame func()) {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.stopLoop != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.stopLoop = cancel
	r.loopDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				frame()
				r.frames.Add(1)
			}
		}
	}()
}

func (r *HeadlessRenderer) StopLoop() {
	r.loopMu.Lock()
	cancel, done := r.stopLoop, r.loopDone
	r.stopLoop, r.loopDone = nil, nil
	r.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *HeadlessRenderer) Dispose() error {
	r.StopLoop()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return nil
	}
	r.disposed = true
	metrics.GPUHandles.Sub(float64(len(r.handles)))
	clear(r.handles)
	return nil
}
