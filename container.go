package appfabric

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Initializable marks component instances the container initializes
// after construction.
type Initializable interface {
	Initialize(ctx context.Context) error
}

// Shutdownable marks component instances the container shuts down in
// reverse resolution order.
type Shutdownable interface {
	Shutdown(ctx context.Context) error
}

// ComponentFactory is a zero-argument producer.
type ComponentFactory func() (any, error)

// ComponentBuilder is a constructor-like producer receiving the resolved
// dependency map keyed by dependency name.
type ComponentBuilder func(deps map[string]any) (any, error)

// registrationKind distinguishes the three explicit registration shapes.
type registrationKind int

const (
	kindBuilder registrationKind = iota
	kindFactory
	kindInstance
)

// componentRegistration is one named entry in the container.
type componentRegistration struct {
	name      string
	kind      registrationKind
	builder   ComponentBuilder
	factory   ComponentFactory
	prebuilt  any
	deps      []string
	singleton bool
}

// RegisterOption customizes a component registration.
type RegisterOption func(*componentRegistration)

// NonSingleton makes every Resolve produce a fresh instance instead of
// caching the first one.
func NonSingleton() RegisterOption {
	return func(r *componentRegistration) { r.singleton = false }
}

// Container is a dependency-injected component registry with
// topological initialization and reverse-order shutdown. While the
// container is initialized, every registered singleton has exactly one
// instance.
type Container struct {
	mu sync.Mutex

	logger Logger
	bus    *EventBus

	components map[string]*componentRegistration
	order      []string // registration order, used to break topological ties
	instances  map[string]any
	resolved   []string // resolution order for reverse shutdown

	ring        *errorRing
	initialized bool
	status      Status
}

// ContainerOption customizes container construction.
type ContainerOption func(*Container)

// WithContainerBus attaches a bus for container lifecycle events
// (component:registered, component:resolved, initialized, shutdown,
// shutdown:error, discovery:*).
func WithContainerBus(bus *EventBus) ContainerOption {
	return func(c *Container) { c.bus = bus }
}

// NewContainer creates an empty container.
func NewContainer(logger Logger, opts ...ContainerOption) *Container {
	if logger == nil {
		logger = NoopLogger{}
	}
	c := &Container{
		logger:     logger,
		components: make(map[string]*componentRegistration),
		instances:  make(map[string]any),
		ring:       newErrorRing(maxErrorRecords),
		status:     StatusCreated,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetEventBus attaches the lifecycle-event bus after construction.
func (c *Container) SetEventBus(bus *EventBus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bus = bus
}

func (c *Container) setStatus(status Status) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

// Status returns the lifecycle state.
func (c *Container) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// RegisterComponent registers a constructor-like builder that receives
// its resolved dependencies as a map.
func (c *Container) RegisterComponent(name string, builder ComponentBuilder, deps []string, opts ...RegisterOption) error {
	if builder == nil {
		return NewConfigError("INVALID_COMPONENT",
			"builder for component "+name+" must be callable", nil, WithCause(ErrNilFactory))
	}
	return c.register(&componentRegistration{
		name: name, kind: kindBuilder, builder: builder, deps: deps, singleton: true,
	}, opts)
}

// RegisterFactory registers a zero-argument factory. Declared
// dependencies are resolved before the factory runs but are not
// injected.
func (c *Container) RegisterFactory(name string, factory ComponentFactory, deps []string, opts ...RegisterOption) error {
	if factory == nil {
		return NewConfigError("INVALID_COMPONENT",
			"factory for component "+name+" must be callable", nil, WithCause(ErrNilFactory))
	}
	return c.register(&componentRegistration{
		name: name, kind: kindFactory, factory: factory, deps: deps, singleton: true,
	}, opts)
}

// RegisterInstance registers a prebuilt instance. Declared dependencies
// are still resolved for their side effects when the instance is first
// requested.
func (c *Container) RegisterInstance(name string, instance any, deps []string, opts ...RegisterOption) error {
	if instance == nil {
		return NewConfigError("INVALID_COMPONENT",
			"instance for component "+name+" must not be nil", nil, WithCause(ErrNilInstance))
	}
	return c.register(&componentRegistration{
		name: name, kind: kindInstance, prebuilt: instance, deps: deps, singleton: true,
	}, opts)
}

func (c *Container) register(reg *componentRegistration, opts []RegisterOption) error {
	for _, opt := range opts {
		opt(reg)
	}

	c.mu.Lock()
	if _, exists := c.components[reg.name]; exists {
		c.mu.Unlock()
		return NewConfigError("COMPONENT_ALREADY_REGISTERED",
			"component "+reg.name+" is already registered", nil, WithCause(ErrDuplicateComponent))
	}
	c.components[reg.name] = reg
	c.order = append(c.order, reg.name)
	c.mu.Unlock()

	c.logger.Debug("Registered component", "name", reg.name, "dependencies", reg.deps)
	c.emit(EventComponentRegistered, map[string]any{"name": reg.name})
	return nil
}

// pendingEvent is a lifecycle event collected while c.mu is held and
// published only after the lock is released, so bus subscribers may call
// back into the container.
type pendingEvent struct {
	name    string
	payload map[string]any
}

// createdComponent is one instance constructed during a resolve pass,
// in creation order (dependencies before dependents).
type createdComponent struct {
	name     string
	instance any
}

// resolution collects the side effects of a resolve pass for replay
// after c.mu is released.
type resolution struct {
	events  []pendingEvent
	created []createdComponent
}

// flush publishes the collected lifecycle events. Must be called
// without holding c.mu.
func (c *Container) flush(res *resolution) {
	for _, ev := range res.events {
		c.emit(ev.name, ev.payload)
	}
}

// Resolve returns the named component, instantiating it and its
// dependency closure on first use. When the container is already
// initialized, freshly created instances exposing Initialize are
// initialized before being returned. Instance initialization and
// lifecycle events run outside the container lock.
func (c *Container) Resolve(ctx context.Context, name string) (any, error) {
	c.mu.Lock()
	res := &resolution{}
	instance, err := c.resolve(ctx, name, res)
	initialized := c.initialized
	c.mu.Unlock()

	if err == nil && initialized {
		for _, created := range res.created {
			init, ok := created.instance.(Initializable)
			if !ok {
				continue
			}
			if initErr := init.Initialize(ctx); initErr != nil {
				err = c.record(NewServiceError("COMPONENT_INITIALIZATION_FAILED",
					"component "+created.name+" failed to initialize", map[string]any{
						"component":     created.name,
						"originalError": initErr.Error(),
					}, WithCause(initErr)), map[string]any{"method": "resolve", "component": created.name})
				instance = nil
				break
			}
		}
	}

	c.flush(res)
	return instance, err
}

// resolve is the recursive worker. Callers hold c.mu; lifecycle events
// and freshly created instances are collected into res instead of being
// acted on under the lock.
func (c *Container) resolve(ctx context.Context, name string, res *resolution) (any, error) {
	reg, exists := c.components[name]
	if !exists {
		return nil, c.record(NewServiceError("NOT_FOUND",
			"component "+name+" is not registered", map[string]any{"component": name}),
			map[string]any{"method": "resolve"})
	}

	if reg.singleton {
		if instance, ok := c.instances[name]; ok {
			return instance, nil
		}
	}

	deps := make(map[string]any, len(reg.deps))
	for _, dep := range reg.deps {
		resolved, err := c.resolve(ctx, dep, res)
		if err != nil {
			return nil, err
		}
		deps[dep] = resolved
	}

	var instance any
	var err error
	switch reg.kind {
	case kindBuilder:
		instance, err = reg.builder(deps)
	case kindFactory:
		instance, err = reg.factory()
	case kindInstance:
		instance = reg.prebuilt
	}
	if err != nil {
		return nil, c.record(NewServiceError("RESOLUTION_FAILED",
			"component "+name+" failed to construct", map[string]any{
				"component":     name,
				"originalError": err.Error(),
			}, WithCause(err)), map[string]any{"method": "resolve"})
	}

	if reg.singleton {
		c.instances[name] = instance
		c.resolved = append(c.resolved, name)
	}
	res.created = append(res.created, createdComponent{name: name, instance: instance})

	c.logger.Debug("Resolved component", "name", name)
	res.events = append(res.events, pendingEvent{EventComponentResolved, map[string]any{"name": name}})
	return instance, nil
}

// ResolveDependencyOrder returns every registered name in topological
// order: each component appears after all of its declared dependencies.
// Ties are broken by registration order. A cycle fails with
// CONFIG_CIRCULAR_DEPENDENCY naming the first node revisited on the
// stack; a dependency on an unregistered name fails with
// CONFIG_MISSING_DEPENDENCY naming both ends.
func (c *Container) ResolveDependencyOrder() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dependencyOrder()
}

// dependencyOrder is the DFS worker. Callers hold c.mu.
func (c *Container) dependencyOrder() ([]string, error) {
	var result []string
	visited := make(map[string]bool)
	visiting := make(map[string]bool)

	var visit func(string) error
	visit = func(node string) error {
		if visiting[node] {
			return NewConfigError("CIRCULAR_DEPENDENCY",
				fmt.Sprintf("circular dependency detected at %s", node),
				map[string]any{"component": node})
		}
		if visited[node] {
			return nil
		}
		visiting[node] = true

		reg := c.components[node]
		if reg != nil {
			for _, dep := range reg.deps {
				if _, exists := c.components[dep]; !exists {
					return NewConfigError("MISSING_DEPENDENCY",
						fmt.Sprintf("%s depends on unregistered %s", node, dep),
						map[string]any{"component": node, "dependency": dep})
				}
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		visited[node] = true
		visiting[node] = false
		result = append(result, node)
		return nil
	}

	for _, node := range c.order {
		if !visited[node] {
			if err := visit(node); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// Initialize resolves every component in topological order and, for each
// instance exposing Initialize, awaits it before advancing.
func (c *Container) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return NewServiceError("ALREADY_INITIALIZED", "container already initialized", nil,
			WithCause(ErrAlreadyInitialized))
	}
	c.status = StatusInitializing

	order, err := c.dependencyOrder()
	if err != nil {
		c.status = StatusError
		c.mu.Unlock()
		c.emit(EventDiscoveryError, map[string]any{"error": err})
		return err
	}
	c.mu.Unlock()

	for _, name := range order {
		c.mu.Lock()
		res := &resolution{}
		instance, resolveErr := c.resolve(ctx, name, res)
		c.mu.Unlock()
		c.flush(res)
		if resolveErr != nil {
			c.setStatus(StatusError)
			return resolveErr
		}
		if init, ok := instance.(Initializable); ok {
			if initErr := init.Initialize(ctx); initErr != nil {
				c.setStatus(StatusError)
				return c.record(NewServiceError("COMPONENT_INITIALIZATION_FAILED",
					"component "+name+" failed to initialize", map[string]any{
						"component":     name,
						"originalError": initErr.Error(),
					}, WithCause(initErr)), map[string]any{"method": "initialize", "component": name})
			}
		}
		c.logger.Info("Initialized component", "name", name)
	}

	c.mu.Lock()
	c.initialized = true
	c.status = StatusRunning
	c.mu.Unlock()

	c.emit(EventDiscoveryCompleted, map[string]any{"components": order})
	c.emit(EventInitialized, map[string]any{"components": len(order)})
	c.emit(EventSystemInitialized, nil)
	return nil
}

// Shutdown iterates resolved instances in reverse resolution order,
// invoking Shutdown where exposed. Per-instance failures are collected
// and emitted as shutdown:error; the instance cache and the initialized
// flag are always cleared.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.status = StatusShuttingDown
	names := slices.Clone(c.resolved)
	instances := c.instances
	c.instances = make(map[string]any)
	c.resolved = nil
	c.initialized = false
	c.mu.Unlock()

	slices.Reverse(names)

	var lastErr error
	for _, name := range names {
		instance := instances[name]
		down, ok := instance.(Shutdownable)
		if !ok {
			continue
		}
		if err := down.Shutdown(ctx); err != nil {
			lastErr = err
			c.logger.Error("Error shutting down component", "name", name, "error", err)
			c.emit(EventShutdownError, map[string]any{"name": name, "error": err.Error()})
		}
	}

	c.mu.Lock()
	c.status = StatusShutdown
	c.mu.Unlock()

	c.emit(EventShutdown, nil)
	c.emit(EventSystemShutdown, nil)
	return lastErr
}

// Errors returns a copy of the container error ring.
func (c *Container) Errors() []ErrorRecord {
	return c.ring.snapshot()
}

// record funnels a container error into the ring and returns it.
func (c *Container) record(err *Error, errCtx map[string]any) *Error {
	c.ring.append(ErrorRecord{Err: err, Source: "container", Context: errCtx})
	return err
}

// emit publishes a lifecycle event on the attached bus, best-effort.
// Payloads always include an ISO-8601 timestamp.
func (c *Container) emit(name string, payload map[string]any) {
	if c.bus == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	if _, err := c.bus.Emit(context.Background(), name, payload); err != nil {
		c.logger.Debug("Failed to emit container event", "event", name, "error", err)
	}
}
