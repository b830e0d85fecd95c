package gpu

import (
	"sync"

	"github.com/phosphor3d/phosphor/core"
)

// Factory creates a new backend instance.
type Factory func(log core.Logger) Backend

const (
	BackendWebGPU   = "webgpu"
	BackendGL       = "gl"
	BackendSoftware = "software"
)

var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)

	// Selection priority: first available wins. Software always probes
	// clean, so the chain can never come up empty once it is registered.
	backendPriority = []string{BackendWebGPU, BackendGL, BackendSoftware}
)

// Register registers a backend factory under a name. Typically called from
// init() in the backend files; re-registering replaces, which tests use to
// inject fakes.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend. Useful for tests.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}

// Get instantiates a specific backend by name, or nil if unregistered.
func Get(name string, log core.Logger) Backend {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil
	}
	return factory(log)
}

// Select walks the priority chain and returns the first backend whose
// probe succeeds. Fallback decisions are logged so a degraded environment
// is visible, never silent.
func Select(log core.Logger) (Backend, error) {
	log = core.EnsureLogger(log)

	for _, factory := range priorityFactories() {
		b := factory(log)
		if b == nil {
			continue
		}
		if err := b.Probe(); err != nil {
			log.Warnf("backend %s unavailable, falling back: %v", b.Name(), err)
			b.Destroy()
			continue
		}
		log.Infof("selected render backend: %s", b.Name())
		return b, nil
	}
	return nil, ErrBackendNotAvailable
}

// SurfaceProvider hands SelectAndInit a surface suited to one backend's
// window requirements. The returned cleanup releases whatever the
// provider created; it is invoked when that backend fails to initialize,
// and otherwise handed back to the caller with the live backend.
type SurfaceProvider func(api WindowAPI) (Surface, func(), error)

// SelectAndInit walks the priority chain probing AND initializing: a
// backend that probes clean but then fails Init (no usable context, a
// shader build failure) is destroyed and the chain continues, so an
// environment problem only surfaces when every backend is out. Probing
// alone cannot catch these failures; the GL probe in particular has no
// way to check context availability without a window.
func SelectAndInit(log core.Logger, provide SurfaceProvider) (Backend, func(), error) {
	log = core.EnsureLogger(log)

	for _, factory := range priorityFactories() {
		b := factory(log)
		if b == nil {
			continue
		}
		if err := b.Probe(); err != nil {
			log.Warnf("backend %s unavailable, falling back: %v", b.Name(), err)
			b.Destroy()
			continue
		}
		surface, cleanup, err := provide(b.WindowAPI())
		if err != nil {
			log.Warnf("no surface for backend %s, falling back: %v", b.Name(), err)
			b.Destroy()
			continue
		}
		if err := b.Init(surface); err != nil {
			log.Warnf("backend %s failed to initialize, falling back: %v", b.Name(), err)
			b.Destroy()
			if cleanup != nil {
				cleanup()
			}
			continue
		}
		log.Infof("selected render backend: %s", b.Name())
		return b, cleanup, nil
	}
	return nil, nil, ErrBackendNotAvailable
}

func priorityFactories() []Factory {
	registryMu.RLock()
	defer registryMu.RUnlock()
	order := make([]Factory, 0, len(backendPriority))
	for _, name := range backendPriority {
		if factory, ok := backends[name]; ok {
			order = append(order, factory)
		}
	}
	return order
}
