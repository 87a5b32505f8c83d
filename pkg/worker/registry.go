package worker

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Registry routes all traffic to the active worker version.
type Registry struct {
	l        *zap.Logger
	mu       sync.Mutex
	active   atomic.Pointer[Worker]
	onActive []func(w *Worker)
}

func NewRegistry(l *zap.Logger) *Registry {
	return &Registry{
		l: l.Named("registry"),
	}
}

// OnActivate registers a callback invoked after a version took control.
func (r *Registry) OnActivate(fn func(w *Worker)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onActive = append(r.onActive, fn)
}

// Register installs and activates w. If install fails the previous version stays in control.
func (r *Registry) Register(ctx context.Context, w *Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.l.With(zap.String("version", w.Version()))
	if err := w.Install(ctx); err != nil {
		if prev := r.active.Load(); prev != nil {
			l.Warn("install failed, keeping previous version", zap.String("active", prev.Version()), zap.Error(err))
		}
		return err
	}
	if err := w.Activate(ctx); err != nil {
		return errors.Wrap(err, "failed to activate")
	}

	// claim all clients
	r.active.Store(w)
	l.Info("activated")
	for _, fn := range r.onActive {
		fn(w)
	}
	return nil
}

// Active returns the version in control or nil.
func (r *Registry) Active() *Worker {
	return r.active.Load()
}

func (r *Registry) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	w := r.Active()
	if w == nil {
		http.Error(rw, "no active worker", http.StatusServiceUnavailable)
		return
	}
	w.ServeHTTP(rw, req)
}
