package core

import (
	"context"
	"fmt"
	"sync"
)

// Module is a unit with a start/stop lifecycle: a gateway listener, a
// periodic job, an HTTP server.
type Module interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

// Manager starts modules in registration order and stops them in reverse.
type Manager struct {
	mu      sync.Mutex
	modules []Module
	running []Module
}

// NewManager creates a manager holding mods; nil entries are ignored.
func NewManager(mods ...Module) *Manager {
	m := &Manager{}
	for _, mod := range mods {
		if mod != nil {
			m.modules = append(m.modules, mod)
		}
	}
	return m
}

// Add registers a module. It fails once the manager is running.
func (m *Manager) Add(mod Module) error {
	if mod == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running != nil {
		return fmt.Errorf("core: cannot add %s after start", mod.Name())
	}
	m.modules = append(m.modules, mod)
	return nil
}

// Names lists the registered modules.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.modules))
	for _, mod := range m.modules {
		out = append(out, mod.Name())
	}
	return out
}

// Start starts every module. On failure the modules already started are
// stopped again before the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running != nil {
		return fmt.Errorf("core: manager already started")
	}

	running := make([]Module, 0, len(m.modules))
	for _, mod := range m.modules {
		if err := mod.Start(ctx); err != nil {
			stopAll(ctx, running)
			return fmt.Errorf("core: start %s: %w", mod.Name(), err)
		}
		running = append(running, mod)
	}
	m.running = running
	return nil
}

// Stop stops the running modules in reverse order. It is a no-op before Start.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	running := m.running
	m.running = nil
	m.mu.Unlock()
	stopAll(ctx, running)
}

func stopAll(ctx context.Context, mods []Module) {
	for i := len(mods) - 1; i >= 0; i-- {
		mods[i].Stop(ctx)
	}
}
