package hooks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Masterminds/semver/v3"

	"github.com/onoal/nucleus/pkg/container"
	"github.com/onoal/nucleus/pkg/ledger"
)

// Module is a lifecycle participant of a ledger instance. Construction
// runs load, then service registration, then hook registration, then start,
// once per module in registration order.
type Module interface {
	Name() string
	// Version must be valid semver; registration rejects anything else.
	Version() string

	// Load validates configuration and prepares internal state. No
	// external connections yet.
	Load(ctx context.Context) error
	// RegisterServices publishes the module's services into the
	// per-ledger container.
	RegisterServices(c *container.ServiceContainer) error
	// RegisterHooks attaches the module's before/after hooks.
	RegisterHooks(p *Pipeline)
	// Start connects to external systems. The module must be usable
	// after Start returns nil.
	Start(ctx context.Context) error
	// Stop releases resources. Best-effort: an error never prevents
	// other modules from stopping.
	Stop(ctx context.Context) error
}

// ModuleState tracks where a module is in its lifecycle.
type ModuleState string

const (
	StateRegistered ModuleState = "registered"
	StateLoaded     ModuleState = "loaded"
	StateStarted    ModuleState = "started"
	StateStopped    ModuleState = "stopped"
	StateFailed     ModuleState = "failed"
)

// Registry owns the ordered module list and their lifecycle states for one
// ledger instance.
type Registry struct {
	modules []Module
	states  map[string]ModuleState
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{states: make(map[string]ModuleState), logger: logger}
}

// Add registers a module. Names must be unique, versions valid semver.
func (r *Registry) Add(m Module) error {
	name := m.Name()
	if name == "" {
		return &ledger.ConfigurationError{Msg: "module name cannot be empty"}
	}
	if _, ok := r.states[name]; ok {
		return &ledger.ConfigurationError{Msg: fmt.Sprintf("module %q already registered", name)}
	}
	if _, err := semver.NewVersion(m.Version()); err != nil {
		return &ledger.ConfigurationError{
			Msg: fmt.Sprintf("module %q has invalid version %q: %v", name, m.Version(), err),
		}
	}
	r.modules = append(r.modules, m)
	r.states[name] = StateRegistered
	return nil
}

// Modules returns the registration-ordered module list.
func (r *Registry) Modules() []Module {
	return r.modules
}

// State reports a module's lifecycle state.
func (r *Registry) State(name string) (ModuleState, bool) {
	s, ok := r.states[name]
	return s, ok
}

// StartAll runs the full lifecycle: load, service registration, hook
// registration, then start, per module in order. The first failure marks
// the module failed and aborts construction.
func (r *Registry) StartAll(ctx context.Context, c *container.ServiceContainer, p *Pipeline) error {
	for _, m := range r.modules {
		name := m.Name()
		if err := m.Load(ctx); err != nil {
			r.states[name] = StateFailed
			return fmt.Errorf("module %q load: %w", name, err)
		}
		r.states[name] = StateLoaded

		if err := m.RegisterServices(c); err != nil {
			r.states[name] = StateFailed
			return fmt.Errorf("module %q service registration: %w", name, err)
		}
		m.RegisterHooks(p)

		if err := m.Start(ctx); err != nil {
			r.states[name] = StateFailed
			return fmt.Errorf("module %q start: %w", name, err)
		}
		r.states[name] = StateStarted
		r.logger.Info("module started", "module", name, "version", m.Version())
	}
	return nil
}

// StopAll stops started modules in reverse order. Errors are logged, never
// propagated, so one stuck module cannot block the rest.
func (r *Registry) StopAll(ctx context.Context) {
	for i := len(r.modules) - 1; i >= 0; i-- {
		m := r.modules[i]
		name := m.Name()
		if r.states[name] != StateStarted {
			continue
		}
		if err := m.Stop(ctx); err != nil {
			r.logger.Warn("module stop failed", "module", name, "error", err)
			r.states[name] = StateFailed
			continue
		}
		r.states[name] = StateStopped
	}
}
