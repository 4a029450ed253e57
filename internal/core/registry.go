package core

import (
	"log/slog"
	"sync"
)

// Controller is the minimal surface the Registry needs from a per-firmware
// controller: something identified by a port, closeable once.
type Controller interface {
	Port() string
	Close() error
}

// Registry is the process-wide map of open controllers keyed by serial
// port. Its contract is "supersede": re-opening a port without a prior
// clean close logs an anomaly and the new controller replaces the old
// one after closing it.
type Registry struct {
	mu          sync.Mutex
	controllers map[string]Controller
	logger      *slog.Logger
}

// NewRegistry returns an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		controllers: make(map[string]Controller),
		logger:      logger.With(slog.String("component", "registry")),
	}
}

// Open installs controller under port, closing and superseding any
// controller already registered there. build is invoked while holding no
// lock other than the caller's own serialization of Open calls for the
// same port; Open itself only takes the registry's lock to swap the map
// entry, keeping construction and registration separate.
func (r *Registry) Open(port string, build func() (Controller, error)) (Controller, error) {
	r.mu.Lock()
	prior, exists := r.controllers[port]
	r.mu.Unlock()

	if exists {
		r.logger.Warn("reopening port without a prior clean close; superseding",
			slog.String("port", port),
		)
		if err := prior.Close(); err != nil {
			r.logger.Warn("error closing superseded controller",
				slog.String("port", port),
				slog.String("error", err.Error()),
			)
		}
	}

	ctrl, err := build()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.controllers[port] = ctrl
	r.mu.Unlock()

	r.logger.Info("controller opened", slog.String("port", port))

	return ctrl, nil
}

// Close closes and unregisters the controller for port. A second Close for
// a port no longer registered is a logged no-op.
func (r *Registry) Close(port string) error {
	r.mu.Lock()
	ctrl, ok := r.controllers[port]
	if ok {
		delete(r.controllers, port)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Info("close of already-closed or unknown port", slog.String("port", port))
		return nil
	}

	r.logger.Info("controller closed", slog.String("port", port))
	return ctrl.Close()
}

// Get returns the controller registered for port, if any.
func (r *Registry) Get(port string) (Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctrl, ok := r.controllers[port]
	return ctrl, ok
}

// Ports returns the ports currently registered, in no particular order.
func (r *Registry) Ports() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ports := make([]string, 0, len(r.controllers))
	for p := range r.controllers {
		ports = append(ports, p)
	}
	return ports
}

// CloseAll closes every registered controller, best-effort, and empties
// the registry. Errors are logged, not returned, since shutdown must
// proceed regardless.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	controllers := make(map[string]Controller, len(r.controllers))
	for port, ctrl := range r.controllers {
		controllers[port] = ctrl
	}
	r.controllers = make(map[string]Controller)
	r.mu.Unlock()

	for port, ctrl := range controllers {
		if err := ctrl.Close(); err != nil {
			r.logger.Warn("error closing controller during shutdown",
				slog.String("port", port),
				slog.String("error", err.Error()),
			)
		}
	}
}
