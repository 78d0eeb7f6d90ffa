// Package registry manages module lifecycle: registration, dependency
// resolution, initialization, and shutdown of homewatch plugins.
package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/HerbHall/homewatch/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ plugin.PluginResolver = (*Registry)(nil)

// Registry manages the lifecycle of all registered plugins. Optional
// plugins that fail a lifecycle stage are disabled and the daemon carries
// on; a failing required plugin aborts the stage with an error.
type Registry struct {
	mu       sync.RWMutex
	plugins  map[string]plugin.Plugin
	infos    map[string]plugin.PluginInfo
	order    []string // topological order after Validate
	disabled map[string]bool
	unsubs   []func()
	logger   *zap.Logger
}

// New creates a new plugin registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		plugins:  make(map[string]plugin.Plugin),
		infos:    make(map[string]plugin.PluginInfo),
		disabled: make(map[string]bool),
		logger:   logger,
	}
}

// Register adds a plugin to the registry. Must be called before Validate.
func (r *Registry) Register(p plugin.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := p.Info()
	switch {
	case info.Name == "":
		return errors.New("registry: plugin has empty name")
	case r.plugins[info.Name] != nil:
		return fmt.Errorf("registry: plugin %q already registered", info.Name)
	}

	r.plugins[info.Name] = p
	r.infos[info.Name] = info
	r.logger.Info("plugin registered",
		zap.String("name", info.Name),
		zap.String("version", info.Version),
		zap.Strings("roles", info.Roles),
		zap.Int("api_version", info.APIVersion),
	)
	return nil
}

// Disable switches a registered plugin off before Validate, for modules
// turned off in configuration. Dependents are cascade-disabled.
func (r *Registry) Disable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[name]; ok {
		r.disabled[name] = true
	}
}

// fail disables an optional plugin, or returns err for a required one.
// Must be called with r.mu held.
func (r *Registry) fail(name, stage string, err error) error {
	if r.infos[name].Required {
		return fmt.Errorf("registry: required plugin %q: %s: %w", name, stage, err)
	}
	r.logger.Warn("disabling optional plugin",
		zap.String("name", name),
		zap.String("stage", stage),
		zap.Error(err),
	)
	r.disabled[name] = true
	return nil
}

// Validate checks API version compatibility, resolves dependencies via
// topological sort, and verifies there are no cycles or missing dependencies.
func (r *Registry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.sortedNames() {
		if err := checkAPIVersion(name, r.infos[name].APIVersion); err != nil {
			if err := r.fail(name, "api version", err); err != nil {
				return err
			}
		}
	}

	for _, name := range r.sortedNames() {
		if r.disabled[name] {
			continue
		}
		for _, dep := range r.infos[name].Dependencies {
			if _, ok := r.plugins[dep]; ok {
				continue
			}
			if err := r.fail(name, "dependencies", fmt.Errorf("%q is not registered", dep)); err != nil {
				return err
			}
			break
		}
	}

	// A disabled plugin takes its dependents down with it, transitively.
	for changed := true; changed; {
		changed = false
		for _, name := range r.sortedNames() {
			if r.disabled[name] {
				continue
			}
			i := slices.IndexFunc(r.infos[name].Dependencies, func(dep string) bool { return r.disabled[dep] })
			if i < 0 {
				continue
			}
			dep := r.infos[name].Dependencies[i]
			if err := r.fail(name, "dependencies", fmt.Errorf("dependency %q is disabled", dep)); err != nil {
				return err
			}
			changed = true
		}
	}

	order, err := r.topologicalSort()
	if err != nil {
		return err
	}
	r.order = order

	r.logger.Info("plugin dependency resolution complete",
		zap.Strings("start_order", r.order),
		zap.Int("disabled", len(r.disabled)),
	)
	return nil
}

// InitAll initializes all active plugins in dependency order, validates
// their config, and subscribes EventSubscriber handlers to the bus.
func (r *Registry) InitAll(ctx context.Context, depsFn func(name string) plugin.Dependencies) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.active() {
		p := r.plugins[name]
		deps := depsFn(name)

		r.logger.Info("initializing plugin", zap.String("name", name))
		err := safeRun(func() error { return p.Init(ctx, deps) })
		if err == nil {
			if v, ok := p.(plugin.Validator); ok {
				if verr := v.ValidateConfig(); verr != nil {
					err = fmt.Errorf("invalid config: %w", verr)
				}
			}
		}
		if err != nil {
			if ferr := r.fail(name, "init", err); ferr != nil {
				return ferr
			}
			continue
		}

		if es, ok := p.(plugin.EventSubscriber); ok && deps.Bus != nil {
			for _, sub := range es.Subscriptions() {
				r.unsubs = append(r.unsubs, deps.Bus.Subscribe(sub.Topic, sub.Handler))
				r.logger.Debug("subscribed plugin to topic",
					zap.String("name", name),
					zap.String("topic", sub.Topic),
				)
			}
		}
	}
	return nil
}

// StartAll starts all initialized plugins in dependency order.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.active() {
		p := r.plugins[name]
		r.logger.Info("starting plugin", zap.String("name", name))
		if err := safeRun(func() error { return p.Start(ctx) }); err != nil {
			if ferr := r.fail(name, "start", err); ferr != nil {
				return ferr
			}
		}
	}
	return nil
}

// StopAll stops all active plugins in reverse dependency order. A failing
// or panicking plugin does not prevent the others from stopping.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	names := r.active()
	plugins := maps.Clone(r.plugins)
	r.mu.RUnlock()

	for _, name := range slices.Backward(names) {
		r.logger.Info("stopping plugin", zap.String("name", name))
		if err := safeRun(func() error { return plugins[name].Stop(ctx) }); err != nil {
			r.logger.Error("failed to stop plugin", zap.String("name", name), zap.Error(err))
		}
	}
}

// Unsubscribe removes every bus subscription made during InitAll.
func (r *Registry) Unsubscribe() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// All returns all active plugins in dependency order.
func (r *Registry) All() []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.active()
	result := make([]plugin.Plugin, 0, len(names))
	for _, name := range names {
		result = append(result, r.plugins[name])
	}
	return result
}

// AllRoutes returns HTTP routes from all active plugins implementing HTTPProvider.
func (r *Registry) AllRoutes() map[string][]plugin.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string][]plugin.Route)
	for _, name := range r.active() {
		if hp, ok := r.plugins[name].(plugin.HTTPProvider); ok {
			if pr := hp.Routes(); len(pr) > 0 {
				routes[name] = pr
			}
		}
	}
	return routes
}

type namedChecker struct {
	name string
	hc   plugin.HealthChecker
}

// Health collects reports from every active HealthChecker plugin. Checks
// run without the registry lock held.
func (r *Registry) Health(ctx context.Context) map[string]plugin.HealthStatus {
	r.mu.RLock()
	var checkers []namedChecker
	for _, name := range r.active() {
		if hc, ok := r.plugins[name].(plugin.HealthChecker); ok {
			checkers = append(checkers, namedChecker{name, hc})
		}
	}
	r.mu.RUnlock()

	out := make(map[string]plugin.HealthStatus, len(checkers))
	for _, c := range checkers {
		out[c.name] = c.hc.Health(ctx)
	}
	return out
}

// Resolve returns an active plugin by name.
func (r *Registry) Resolve(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	if !ok || r.disabled[name] {
		return nil, false
	}
	return p, true
}

// ResolveByRole returns all active plugins that declare the given role,
// in dependency order.
func (r *Registry) ResolveByRole(role string) []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []plugin.Plugin
	for _, name := range r.active() {
		if slices.Contains(r.infos[name].Roles, role) {
			result = append(result, r.plugins[name])
		}
	}
	return result
}

// IsDisabled returns whether a plugin has been disabled.
func (r *Registry) IsDisabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disabled[name]
}

// active returns the non-disabled names in start order. Must be called
// with r.mu held.
func (r *Registry) active() []string {
	out := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if !r.disabled[name] {
			out = append(out, name)
		}
	}
	return out
}

func checkAPIVersion(name string, apiVersion int) error {
	switch {
	case apiVersion < plugin.APIVersionMin:
		return fmt.Errorf("plugin %q targets Plugin API v%d, below the supported minimum v%d",
			name, apiVersion, plugin.APIVersionMin)
	case apiVersion > plugin.APIVersionCurrent:
		return fmt.Errorf("plugin %q targets Plugin API v%d, newer than this daemon's v%d",
			name, apiVersion, plugin.APIVersionCurrent)
	}
	return nil
}

// sortedNames keeps validation logs independent of map iteration.
func (r *Registry) sortedNames() []string {
	return slices.Sorted(maps.Keys(r.plugins))
}

// topologicalSort orders the active plugins with Kahn's algorithm,
// breaking ties alphabetically.
func (r *Registry) topologicalSort() ([]string, error) {
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)
	for name := range r.plugins {
		if !r.disabled[name] {
			inDegree[name] = 0
		}
	}
	for name := range inDegree {
		for _, dep := range r.infos[name].Dependencies {
			if _, ok := inDegree[dep]; ok {
				inDegree[name]++
				dependents[dep] = append(dependents[dep], name)
			}
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	slices.Sort(queue)

	order := make([]string, 0, len(inDegree))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)

		next := dependents[name]
		slices.Sort(next)
		for _, d := range next {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	if len(order) != len(inDegree) {
		var cycled []string
		for name, degree := range inDegree {
			if degree > 0 {
				cycled = append(cycled, name)
			}
		}
		slices.Sort(cycled)
		return nil, fmt.Errorf("registry: dependency cycle among plugins %v", cycled)
	}
	return order, nil
}

// safeRun converts a panic in fn into an error.
func safeRun(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin panicked: %v", rec)
		}
	}()
	return fn()
}
