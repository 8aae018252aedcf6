// Package modules resolves configured module names to implementations and
// manages the per-module lifecycle state.
package modules

import (
	"sort"
	"strings"
	"time"

	"cosmopipe/domain/datablock"
	"cosmopipe/internal/errors"
	"cosmopipe/ports"
)

// StatusPanic is the status recorded when a module panics during execute
const StatusPanic = -1

// Registry maps implementation names to factories. Lookups happen once, when
// a pipeline is built; there is no ambient global registry.
type Registry struct {
	factories map[string]ports.ModuleFactory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ports.ModuleFactory)}
}

// Register adds an implementation under name, replacing any earlier one
func (r *Registry) Register(name string, factory ports.ModuleFactory) {
	r.factories[strings.ToLower(strings.TrimSpace(name))] = factory
}

// Lookup returns a new implementation instance for name
func (r *Registry) Lookup(name string) (ports.Module, error) {
	factory, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, errors.ConfigInvalidf("no module implementation registered as %q (known: %s)",
			name, strings.Join(r.Names(), ", "))
	}
	return factory(), nil
}

// Names lists the registered implementation names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Instance is a configured module: the name it has in the pipeline, the
// implementation it resolved to and the state returned by setup
type Instance struct {
	Name     string
	File     string
	impl     ports.Module
	state    ports.ModuleState
	ready    bool
	Elapsed  time.Duration
	Calls    int
	Failures int
}

// NewInstance binds a module name to an implementation
func NewInstance(name, file string, impl ports.Module) *Instance {
	return &Instance{Name: name, File: file, impl: impl}
}

// Setup runs the implementation's setup and keeps the returned state
func (m *Instance) Setup(options *datablock.Block) error {
	start := time.Now()
	state, err := m.impl.Setup(options)
	m.Elapsed += time.Since(start)
	if err != nil {
		return errors.Wrapf(err, "setup of module %s failed", m.Name)
	}
	m.state = state
	m.ready = true
	return nil
}

// Execute runs the module against block and returns its status. A panic
// inside the module is reported as a failed status.
func (m *Instance) Execute(block *datablock.Block) (status int) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			status = StatusPanic
		}
		m.Elapsed += time.Since(start)
		m.Calls++
		if status != 0 {
			m.Failures++
		}
	}()
	return m.impl.Execute(block, m.state)
}

// Cleanup releases the module's state
func (m *Instance) Cleanup() error {
	if err := m.impl.Cleanup(m.state); err != nil {
		return errors.Wrapf(err, "cleanup of module %s failed", m.Name)
	}
	m.ready = false
	return nil
}

// Ready reports whether setup completed
func (m *Instance) Ready() bool {
	return m.ready
}

func (m *Instance) String() string {
	return m.Name
}
