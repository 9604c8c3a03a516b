// Package container holds the per-ledger service registry. Registration is
// explicit and centralized; there is no auto-wiring and no process-wide
// singleton, so two ledger instances never share services.
package container

import (
	"fmt"
	"sort"
	"sync"

	"github.com/onoal/nucleus/pkg/ledger"
)

type registration struct {
	service any
	owner   string // module that registered it, "" when registered directly
}

// ServiceContainer maps service names to instances for one ledger.
type ServiceContainer struct {
	mu       sync.RWMutex
	services map[string]registration
}

func New() *ServiceContainer {
	return &ServiceContainer{services: make(map[string]registration)}
}

// Register adds a named service. Duplicate names and nil services fail
// construction-time wiring, so both return ConfigurationError.
func (c *ServiceContainer) Register(name string, service any) error {
	return c.RegisterOwned(name, service, "")
}

// RegisterOwned records which module owns the registration, which makes
// duplicate-name errors point at the responsible module.
func (c *ServiceContainer) RegisterOwned(name string, service any, owner string) error {
	if name == "" {
		return &ledger.ConfigurationError{Msg: "service name cannot be empty"}
	}
	if service == nil {
		return &ledger.ConfigurationError{Msg: fmt.Sprintf("service %q cannot be nil", name)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.services[name]; ok {
		msg := fmt.Sprintf("service %q already registered", name)
		if existing.owner != "" {
			msg += fmt.Sprintf(" by module %q", existing.owner)
		}
		return &ledger.ConfigurationError{Msg: msg}
	}
	c.services[name] = registration{service: service, owner: owner}
	return nil
}

// Resolve returns the named service. A miss lists every registered name so
// a broken wiring is debuggable from the error alone.
func (c *ServiceContainer) Resolve(name string) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reg, ok := c.services[name]
	if !ok {
		return nil, fmt.Errorf("service %q %w (registered: %v)", name, ledger.ErrNotFound, c.namesLocked())
	}
	return reg.service, nil
}

func (c *ServiceContainer) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.services[name]
	return ok
}

// Names returns all registered service names, sorted.
func (c *ServiceContainer) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.namesLocked()
}

func (c *ServiceContainer) namesLocked() []string {
	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Owner reports which module registered the service, if tracked.
func (c *ServiceContainer) Owner(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reg, ok := c.services[name]
	if !ok {
		return "", false
	}
	return reg.owner, true
}

// Clear drops all registrations. Test-only.
func (c *ServiceContainer) Clear() {
	c.mu.Lock()
	c.services = make(map[string]registration)
	c.mu.Unlock()
}
