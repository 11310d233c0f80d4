package appfabric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// defaultHealthInterval is the cadence of module health polling.
const defaultHealthInterval = 30 * time.Second

// localDispatcher is the module-local event path: a module can be
// observed in isolation without a bus, and globally once wired. Local
// delivery always precedes bus delivery.
type localDispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

func newLocalDispatcher() *localDispatcher {
	return &localDispatcher{handlers: make(map[string][]EventHandler)}
}

func (d *localDispatcher) on(name string, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = append(d.handlers[name], handler)
}

func (d *localDispatcher) dispatch(ctx context.Context, event Event) {
	d.mu.RLock()
	handlers := append([]EventHandler(nil), d.handlers[event.Name]...)
	handlers = append(handlers, d.handlers["*"]...)
	d.mu.RUnlock()

	for _, handler := range handlers {
		// Local observation is best-effort; handler errors stay local.
		_ = handler(ctx, event)
	}
}

// BaseModule carries the per-module state, configuration, health checks
// and error discipline shared by every supervised module. Business
// modules embed *BaseModule and implement the optional hooks they need.
type BaseModule struct {
	mu sync.Mutex

	name     string
	required []string
	deps     map[string]any
	config   map[string]any
	logger   Logger

	errorSystem ErrorReporter
	busSystem   BusProvider
	bus         *EventBus

	owner Module
	local *localDispatcher

	status      Status
	startTime   time.Time
	initialized bool

	ring            *errorRing
	metrics         map[string]MetricValue
	checks          *healthCheckSet
	lastHealthCheck *HealthSnapshot

	healthInterval time.Duration
	poller         *cron.Cron
}

// BaseModuleOption customizes base-module construction.
type BaseModuleOption func(*BaseModule)

// WithHealthInterval overrides the 30-second health polling cadence.
func WithHealthInterval(interval time.Duration) BaseModuleOption {
	return func(b *BaseModule) { b.healthInterval = interval }
}

// NewBaseModule validates the supplied dependency map against the
// required dependency names and captures the bus handle eagerly from
// the bus system. A missing required dependency, a bus system that is
// not a BusProvider, or an error system that is not an ErrorReporter
// fail with module errors. A bus system whose EventBus call fails is
// tolerated by leaving the handle nil.
func NewBaseModule(name string, required []string, deps map[string]any, logger Logger, opts ...BaseModuleOption) (*BaseModule, error) {
	if logger == nil {
		logger = NoopLogger{}
	}
	if deps == nil {
		deps = make(map[string]any)
	}

	for _, dep := range required {
		if _, ok := deps[dep]; !ok {
			return nil, NewModuleError("MISSING_DEPENDENCY",
				fmt.Sprintf("module %s requires dependency %s", name, dep),
				map[string]any{"module": name, "dependency": dep})
		}
	}

	b := &BaseModule{
		name:           name,
		required:       append([]string(nil), required...),
		deps:           deps,
		config:         make(map[string]any),
		logger:         logger,
		local:          newLocalDispatcher(),
		status:         StatusCreated,
		ring:           newErrorRing(maxErrorRecords),
		metrics:        make(map[string]MetricValue),
		checks:         newHealthCheckSet(),
		healthInterval: defaultHealthInterval,
	}
	for _, opt := range opts {
		opt(b)
	}

	if raw, ok := deps[CoreEventBusSystem]; ok && raw != nil {
		busSystem, ok := raw.(BusProvider)
		if !ok {
			return nil, NewModuleError("INVALID_EVENT_BUS_SYSTEM",
				fmt.Sprintf("module %s received an event bus system without EventBus", name),
				map[string]any{"module": name})
		}
		b.busSystem = busSystem
		if bus, err := busSystem.EventBus(); err == nil {
			b.bus = bus
		}
	}

	if raw, ok := deps[CoreErrorSystem]; ok && raw != nil {
		errorSystem, ok := raw.(ErrorReporter)
		if !ok {
			return nil, NewModuleError("INVALID_ERROR_SYSTEM",
				fmt.Sprintf("module %s received an error system without HandleError", name),
				map[string]any{"module": name})
		}
		b.errorSystem = errorSystem
	}

	return b, nil
}

// Name implements Module.
func (b *BaseModule) Name() string { return b.name }

// Dependencies implements DependencyAware with the required names.
func (b *BaseModule) Dependencies() []string {
	return append([]string(nil), b.required...)
}

// Base implements SupervisedModule.
func (b *BaseModule) Base() *BaseModule { return b }

// bindOwner attaches the outer module so lifecycle hooks reach the
// embedding type. The supervisor binds at registration; standalone
// modules may call BindHooks themselves.
func (b *BaseModule) bindOwner(owner Module) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owner = owner
}

// BindHooks attaches the embedding module for hook dispatch when the
// module is used without a supervisor.
func (b *BaseModule) BindHooks(owner Module) { b.bindOwner(owner) }

// Status returns the lifecycle state.
func (b *BaseModule) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Config returns the merged module configuration.
func (b *BaseModule) Config() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config
}

// SetConfig installs the module configuration. Anything other than a
// map fails with a module error wrapping a validation error.
func (b *BaseModule) SetConfig(raw any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch cfg := raw.(type) {
	case nil:
		b.config = make(map[string]any)
	case map[string]any:
		b.config = cfg
	default:
		return NewModuleError("INVALID_CONFIG",
			fmt.Sprintf("module %s config must be a map", b.name),
			map[string]any{"module": b.name},
			WithCause(NewValidationError("CONFIG_TYPE", "config must be a map", nil, WithCause(ErrInvalidConfigType))))
	}
	return nil
}

// Dependency returns an injected dependency by name.
func (b *BaseModule) Dependency(name string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.deps[name]
	return v, ok
}

// injectDependency is used by the supervisor to wire inter-module
// references before initialization.
func (b *BaseModule) injectDependency(name string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deps[name] = value
}

// EventBus returns the captured bus handle, which may be nil when the
// module runs without a bus system.
func (b *BaseModule) EventBus() *EventBus { return b.bus }

// On installs a module-local event handler. Local handlers observe the
// module without any bus wiring.
func (b *BaseModule) On(name string, handler EventHandler) {
	b.local.on(name, handler)
}

// Emit dispatches an event locally first and then, best-effort, on the
// shared bus. Bus failures are captured through HandleError and never
// prevent the local dispatch.
func (b *BaseModule) Emit(ctx context.Context, name string, data any) {
	event := newEvent(name, data, map[string]any{"module": b.name})
	b.local.dispatch(ctx, event)

	if b.bus != nil {
		if _, err := b.bus.Emit(ctx, name, data); err != nil {
			b.HandleError(ctx, err, map[string]any{"method": "emit", "event": name})
		}
	}
}

// HandleError appends the error to the module's bounded ring, announces
// it as a module:error event and forwards it to the error system. A
// failure of the forwarding itself is logged with a structured record
// and captured as a HANDLER_FAILURE ring entry; it is never rethrown.
func (b *BaseModule) HandleError(ctx context.Context, err error, errCtx map[string]any) {
	if err == nil {
		return
	}
	coreErr := AsError(err, KindModule, "UNHANDLED")
	record := ErrorRecord{Err: coreErr, Source: b.name, Context: errCtx, Timestamp: time.Now().UTC()}
	b.ring.append(record)
	b.announceError(ctx, record)

	if b.errorSystem == nil {
		return
	}
	if forwardErr := b.errorSystem.HandleError(ctx, coreErr, errCtx); forwardErr != nil {
		b.logger.Error("Error system failed while handling module error",
			"source", b.name,
			"originalError", coreErr,
			"handlerError", forwardErr,
			"module", b.name,
			"timestamp", time.Now().UTC().Format(time.RFC3339),
		)
		b.ring.append(ErrorRecord{
			Err: NewModuleError("HANDLER_FAILURE",
				"error system failed while handling module error",
				map[string]any{"module": b.name, "originalError": coreErr.Error()},
				WithCause(forwardErr)),
			Source:  b.name,
			Context: errCtx,
		})
	}
}

// announceError publishes a module:error event carrying the error
// record, locally first and then best-effort on the shared bus. A bus
// failure here is only logged; routing it back through HandleError
// would announce again.
func (b *BaseModule) announceError(ctx context.Context, record ErrorRecord) {
	data := map[string]any{
		"error":     record.Err,
		"source":    record.Source,
		"context":   record.Context,
		"timestamp": record.Timestamp.Format(time.RFC3339),
	}
	b.local.dispatch(ctx, newEvent(EventModuleError, data, map[string]any{"module": b.name}))

	if b.bus != nil {
		if _, emitErr := b.bus.Emit(ctx, EventModuleError, data); emitErr != nil {
			b.logger.Error("Failed to announce module error",
				"module", b.name,
				"error", emitErr,
			)
		}
	}
}

// Errors returns a copy of the module error ring.
func (b *BaseModule) Errors() []ErrorRecord {
	return b.ring.snapshot()
}

// RecordMetric stores the last value of a named module metric.
func (b *BaseModule) RecordMetric(name string, value float64, tags map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics[name] = MetricValue{Value: value, Timestamp: time.Now().UTC(), Tags: tags}
}

// Metrics returns a copy of the module metric map.
func (b *BaseModule) Metrics() map[string]MetricValue {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]MetricValue, len(b.metrics))
	for k, v := range b.metrics {
		out[k] = v
	}
	return out
}

// RegisterHealthCheck installs a module health check under a unique
// name.
func (b *BaseModule) RegisterHealthCheck(name string, check HealthCheck) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checks.register(name, check); err != nil {
		return NewModuleError("HEALTH_CHECK_INVALID",
			fmt.Sprintf("module %s health check %s could not be registered", b.name, name),
			map[string]any{"module": b.name, "check": name}, WithCause(err))
	}
	return nil
}

// CheckHealth runs every registered check sequentially, aggregating to
// healthy only when all sub-checks are healthy. A check error
// contributes an {status: error} entry and degrades the aggregate.
func (b *BaseModule) CheckHealth(ctx context.Context) HealthSnapshot {
	b.mu.Lock()
	checks := b.checks
	b.mu.Unlock()

	snapshot := checks.run(ctx, b.name, "")

	b.mu.Lock()
	b.lastHealthCheck = &snapshot
	b.mu.Unlock()
	return snapshot
}

// LastHealthCheck returns the most recent aggregate, if any.
func (b *BaseModule) LastHealthCheck() *HealthSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastHealthCheck
}

// Initialize drives the module lifecycle hooks in order: config
// validation, configuration, event handler setup, health check setup
// (default state check first), the module's own initialization, then
// periodic health polling. Any failure transitions the module to error
// and returns a wrapping module error.
func (b *BaseModule) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.status == StatusError {
		b.mu.Unlock()
		return NewModuleError("LIFECYCLE_ERROR",
			fmt.Sprintf("module %s is in error state", b.name),
			map[string]any{"module": b.name}, WithCause(ErrLifecycleError))
	}
	if b.initialized {
		b.mu.Unlock()
		return NewModuleError("ALREADY_INITIALIZED",
			fmt.Sprintf("module %s already initialized", b.name),
			map[string]any{"module": b.name}, WithCause(ErrAlreadyInitialized))
	}
	b.status = StatusInitializing
	owner := b.owner
	config := b.config
	b.mu.Unlock()

	fail := func(step string, cause error) error {
		wrapped := NewModuleError("INITIALIZATION_FAILED",
			fmt.Sprintf("module %s failed to initialize during %s", b.name, step),
			map[string]any{
				"module":        b.name,
				"step":          step,
				"originalError": cause.Error(),
			}, WithCause(cause))
		b.mu.Lock()
		b.status = StatusError
		b.mu.Unlock()
		b.ring.append(ErrorRecord{Err: wrapped, Source: b.name, Context: map[string]any{"method": "initialize"}})
		return wrapped
	}

	if v, ok := owner.(ConfigValidator); ok {
		if err := v.OnValidateConfig(config); err != nil {
			return fail("validateConfig", err)
		}
	}
	if c, ok := owner.(Configurer); ok {
		if err := c.OnConfigure(ctx); err != nil {
			return fail("onConfigure", err)
		}
	}
	if h, ok := owner.(EventHandlerSetup); ok {
		if err := h.OnSetupEventHandlers(ctx); err != nil {
			return fail("setupEventHandlers", err)
		}
	}

	if err := b.registerStateCheck(); err != nil {
		return fail("setupHealthChecks", err)
	}
	if h, ok := owner.(HealthCheckSetup); ok {
		if err := h.OnSetupHealthChecks(ctx); err != nil {
			return fail("setupHealthChecks", err)
		}
	}

	if i, ok := owner.(Initializer); ok {
		if err := i.OnInitialize(ctx); err != nil {
			return fail("onInitialize", err)
		}
	}

	b.mu.Lock()
	b.status = StatusRunning
	b.startTime = time.Now()
	b.initialized = true
	b.mu.Unlock()

	b.startHealthPolling(ctx)
	b.logger.Info("Module initialized", "module", b.name)
	return nil
}

// registerStateCheck installs the default state health check.
func (b *BaseModule) registerStateCheck() error {
	return b.RegisterHealthCheck("state", func(ctx context.Context) (CheckResult, error) {
		b.mu.Lock()
		status := b.status
		started := b.startTime
		b.mu.Unlock()

		health := HealthStatusUnhealthy
		if status == StatusRunning || status == StatusInitializing {
			health = HealthStatusHealthy
		}
		details := map[string]any{
			"status":     status.String(),
			"errorCount": b.ring.len(),
		}
		if !started.IsZero() {
			details["uptime_ms"] = time.Since(started).Milliseconds()
		}
		return CheckResult{Status: health, Details: details}, nil
	})
}

// startHealthPolling schedules the periodic health tick. An unhealthy
// aggregate raises a HEALTH_CHECK_FAILED module error through
// HandleError.
func (b *BaseModule) startHealthPolling(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	poller := cron.New()
	spec := fmt.Sprintf("@every %s", b.healthInterval)
	_, err := poller.AddFunc(spec, func() {
		snapshot := b.CheckHealth(ctx)
		if !snapshot.Status.IsHealthy() {
			b.HandleError(ctx, NewModuleError("HEALTH_CHECK_FAILED",
				fmt.Sprintf("module %s is not healthy", b.name),
				map[string]any{"module": b.name, "health": snapshot}),
				map[string]any{"method": "healthPolling"})
		}
	})
	if err != nil {
		b.logger.Error("Failed to schedule health polling", "module", b.name, "error", err)
		return
	}
	poller.Start()
	b.poller = poller
}

// stopHealthPolling cancels the poll schedule.
func (b *BaseModule) stopHealthPolling() {
	b.mu.Lock()
	poller := b.poller
	b.poller = nil
	b.mu.Unlock()

	if poller != nil {
		<-poller.Stop().Done()
	}
}

// Shutdown is a no-op when the module was never initialized. Otherwise
// it stops health polling, runs the OnShutdown hook and resets the
// module state. Shutdown failures transition to error and return a
// wrapping module error.
func (b *BaseModule) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if !b.initialized {
		b.mu.Unlock()
		return nil
	}
	b.status = StatusShuttingDown
	owner := b.owner
	b.mu.Unlock()

	b.stopHealthPolling()

	if h, ok := owner.(ShutdownHook); ok {
		if err := h.OnShutdown(ctx); err != nil {
			wrapped := NewModuleError("SHUTDOWN_FAILED",
				fmt.Sprintf("module %s failed to shut down", b.name),
				map[string]any{
					"module":        b.name,
					"originalError": err.Error(),
				}, WithCause(err))
			b.mu.Lock()
			b.status = StatusError
			b.mu.Unlock()
			b.ring.append(ErrorRecord{Err: wrapped, Source: b.name, Context: map[string]any{"method": "shutdown"}})
			return wrapped
		}
	}

	b.mu.Lock()
	b.status = StatusShutdown
	b.initialized = false
	b.startTime = time.Time{}
	b.metrics = make(map[string]MetricValue)
	b.checks = newHealthCheckSet()
	b.lastHealthCheck = nil
	b.mu.Unlock()

	b.logger.Info("Module shut down", "module", b.name)
	return nil
}
