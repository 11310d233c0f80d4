package appfabric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// defaultMonitorInterval is the cadence of supervisor-side module
// health monitoring.
const defaultMonitorInterval = time.Minute

// SupervisorConfig configures a module supervisor. Sections maps module
// names to their configuration sections.
type SupervisorConfig struct {
	Name            string
	Sections        map[string]map[string]any
	MonitorInterval time.Duration
}

func (c *SupervisorConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "supervisor"
	}
	if c.Sections == nil {
		c.Sections = make(map[string]map[string]any)
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = defaultMonitorInterval
	}
}

// Supervisor owns the lifecycle of a set of business modules: it merges
// their configuration sections, wires inter-module dependencies,
// initializes them in dependency order, monitors their health and shuts
// them down in reverse order.
type Supervisor struct {
	mu sync.Mutex

	config      SupervisorConfig
	logger      Logger
	errorSystem ErrorReporter
	busSystem   BusProvider

	modules map[string]SupervisedModule
	order   []string
	started []string

	ring        *errorRing
	monitors    *cron.Cron
	initialized bool
}

// NewSupervisor builds a supervisor over the shared core systems.
func NewSupervisor(config SupervisorConfig, logger Logger, errorSystem ErrorReporter, busSystem BusProvider) *Supervisor {
	config.setDefaults()
	if logger == nil {
		logger = NoopLogger{}
	}
	return &Supervisor{
		config:      config,
		logger:      logger,
		errorSystem: errorSystem,
		busSystem:   busSystem,
		modules:     make(map[string]SupervisedModule),
		ring:        newErrorRing(maxErrorRecords),
	}
}

// RegisterModule adds a module under its name and installs its merged
// configuration. The overrides are shallow-merged over the supervisor's
// configuration section for the module. Registration after
// initialization, duplicate names or modules without a BaseModule fail.
func (s *Supervisor) RegisterModule(ctx context.Context, module Module, overrides map[string]any) error {
	supervised, ok := module.(SupervisedModule)
	if !ok || supervised.Base() == nil {
		return NewValidationError("INVALID_MODULE",
			"module must embed a module base",
			map[string]any{"module": fmt.Sprintf("%T", module)})
	}

	name := supervised.Name()

	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return NewModuleError("REGISTER_AFTER_INITIALIZE",
			fmt.Sprintf("cannot register module %s after initialization", name),
			map[string]any{"module": name})
	}
	if _, exists := s.modules[name]; exists {
		s.mu.Unlock()
		return NewModuleError("ALREADY_REGISTERED",
			fmt.Sprintf("module %s is already registered", name),
			map[string]any{"module": name})
	}
	section := s.config.Sections[name]
	s.mu.Unlock()

	merged := make(map[string]any, len(section)+len(overrides))
	for k, v := range section {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}

	base := supervised.Base()
	base.bindOwner(module)
	if err := base.SetConfig(merged); err != nil {
		return err
	}

	// Fan module-local error events into the supervisor ring, keeping the
	// reported error record intact.
	base.On(EventModuleError, func(ctx context.Context, event Event) error {
		record := ErrorRecord{Source: name}
		if data, ok := event.Data.(map[string]any); ok {
			if reported, ok := data["error"].(*Error); ok {
				record.Err = reported
			}
			if reportedCtx, ok := data["context"].(map[string]any); ok {
				record.Context = reportedCtx
			}
		}
		if record.Err == nil {
			record.Err = NewModuleError("MODULE_REPORTED",
				fmt.Sprintf("module %s reported an error", name),
				map[string]any{"module": name, "event": event.Name})
		}
		s.ring.append(record)
		return nil
	})

	// The module joins the registry only once its configuration is
	// installed, so a failed registration leaves no entry behind.
	s.mu.Lock()
	if _, exists := s.modules[name]; exists {
		s.mu.Unlock()
		return NewModuleError("ALREADY_REGISTERED",
			fmt.Sprintf("module %s is already registered", name),
			map[string]any{"module": name})
	}
	s.modules[name] = supervised
	s.order = append(s.order, name)
	s.mu.Unlock()

	s.emit(ctx, EventModuleRegistered, map[string]any{"module": name})
	s.logger.Info("Module registered", "module", name)
	return nil
}

// ModuleByName returns a registered module.
func (s *Supervisor) ModuleByName(name string) (SupervisedModule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[name]
	return m, ok
}

// ModuleNames returns the registration order of the modules.
func (s *Supervisor) ModuleNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// dependencyOrder resolves a topological initialization order over the
// registered modules, ignoring core system names. A dependency naming
// an unregistered module or a cycle fails with a config error.
func (s *Supervisor) dependencyOrder() ([]string, error) {
	order := make([]string, 0, len(s.modules))
	visited := make(map[string]bool)
	visiting := make(map[string]bool)

	var visit func(name string) error
	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		if visiting[name] {
			return NewConfigError("CIRCULAR_DEPENDENCY",
				fmt.Sprintf("circular dependency detected at %s", name),
				map[string]any{"node": name})
		}
		visiting[name] = true

		module := s.modules[name]
		if aware, ok := module.(DependencyAware); ok {
			for _, dep := range aware.Dependencies() {
				if isCoreDependency(dep) {
					continue
				}
				if _, exists := s.modules[dep]; !exists {
					return NewConfigError("MISSING_DEPENDENCY",
						fmt.Sprintf("%s depends on unregistered %s", name, dep),
						map[string]any{"node": name, "dependency": dep})
				}
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		delete(visiting, name)
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, name := range s.order {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Initialize wires inter-module dependencies, initializes every module
// in dependency order and starts health monitoring. The first module
// failure aborts initialization.
func (s *Supervisor) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return NewServiceError("ALREADY_INITIALIZED",
			"supervisor already initialized",
			map[string]any{"supervisor": s.config.Name}, WithCause(ErrAlreadyInitialized))
	}

	order, err := s.dependencyOrder()
	if err != nil {
		s.mu.Unlock()
		s.handleSupervisorError(ctx, err, map[string]any{"method": "initialize"})
		return err
	}

	// Inject inter-module references before any module runs.
	for _, name := range order {
		module := s.modules[name]
		aware, ok := module.(DependencyAware)
		if !ok {
			continue
		}
		for _, dep := range aware.Dependencies() {
			if isCoreDependency(dep) {
				continue
			}
			module.Base().injectDependency(dep, s.modules[dep])
		}
	}
	s.mu.Unlock()

	for _, name := range order {
		module, _ := s.ModuleByName(name)
		if err := module.Base().Initialize(ctx); err != nil {
			wrapped := NewModuleError("INITIALIZATION_FAILED",
				fmt.Sprintf("module %s failed to initialize", name),
				map[string]any{"module": name, "originalError": err.Error()},
				WithCause(err))
			s.handleSupervisorError(ctx, wrapped, map[string]any{"method": "initialize", "module": name})
			return wrapped
		}
		s.mu.Lock()
		s.started = append(s.started, name)
		s.mu.Unlock()
	}

	s.startMonitoring(ctx)

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	s.logger.Info("Supervisor initialized", "supervisor", s.config.Name, "modules", order)
	return nil
}

// startMonitoring schedules a periodic health sweep over every started
// module. An unhealthy module raises an UNHEALTHY_MODULE error.
func (s *Supervisor) startMonitoring(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	monitors := cron.New()
	spec := fmt.Sprintf("@every %s", s.config.MonitorInterval)
	_, err := monitors.AddFunc(spec, func() {
		for _, name := range s.startedNames() {
			module, ok := s.ModuleByName(name)
			if !ok {
				continue
			}
			snapshot := module.Base().CheckHealth(ctx)
			if !snapshot.Status.IsHealthy() {
				s.handleSupervisorError(ctx, NewModuleError("UNHEALTHY_MODULE",
					fmt.Sprintf("module %s is not healthy", name),
					map[string]any{"module": name, "health": snapshot}),
					map[string]any{"method": "monitoring", "module": name})
			}
		}
	})
	if err != nil {
		s.logger.Error("Failed to schedule module monitoring", "supervisor", s.config.Name, "error", err)
		return
	}
	monitors.Start()
	s.monitors = monitors
}

func (s *Supervisor) startedNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.started...)
}

func (s *Supervisor) stopMonitoring() {
	s.mu.Lock()
	monitors := s.monitors
	s.monitors = nil
	s.mu.Unlock()

	if monitors != nil {
		<-monitors.Stop().Done()
	}
}

// UnregisterModule shuts a module down if it is running and removes it.
func (s *Supervisor) UnregisterModule(ctx context.Context, name string) error {
	s.mu.Lock()
	module, exists := s.modules[name]
	s.mu.Unlock()
	if !exists {
		return NewModuleError("NOT_FOUND",
			fmt.Sprintf("module %s is not registered", name),
			map[string]any{"module": name})
	}

	if err := module.Base().Shutdown(ctx); err != nil {
		wrapped := NewModuleError("UNREGISTER_FAILED",
			fmt.Sprintf("module %s failed to shut down during unregister", name),
			map[string]any{"module": name, "originalError": err.Error()},
			WithCause(err))
		s.handleSupervisorError(ctx, wrapped, map[string]any{"method": "unregisterModule", "module": name})
		return wrapped
	}

	s.mu.Lock()
	delete(s.modules, name)
	s.order = removeName(s.order, name)
	s.started = removeName(s.started, name)
	s.mu.Unlock()

	s.emit(ctx, EventModuleUnregistered, map[string]any{"module": name})
	s.logger.Info("Module unregistered", "module", name)
	return nil
}

// Shutdown stops monitoring and shuts every started module down in
// reverse initialization order. All modules are attempted; the first
// failure is returned after the sweep. The supervisor always ends reset
// and ready for re-registration.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.stopMonitoring()

	started := s.startedNames()

	var lastErr error
	for i := len(started) - 1; i >= 0; i-- {
		name := started[i]
		module, ok := s.ModuleByName(name)
		if !ok {
			continue
		}
		if err := module.Base().Shutdown(ctx); err != nil {
			wrapped := NewModuleError("SHUTDOWN_FAILED",
				fmt.Sprintf("module %s failed to shut down", name),
				map[string]any{"module": name, "originalError": err.Error()},
				WithCause(err))
			s.handleSupervisorError(ctx, wrapped, map[string]any{"method": "shutdown", "module": name})
			if lastErr == nil {
				lastErr = wrapped
			}
		}
	}

	s.mu.Lock()
	s.modules = make(map[string]SupervisedModule)
	s.order = nil
	s.started = nil
	s.initialized = false
	s.mu.Unlock()

	s.logger.Info("Supervisor shut down", "supervisor", s.config.Name)
	return lastErr
}

// Errors returns a copy of the supervisor error ring.
func (s *Supervisor) Errors() []ErrorRecord {
	return s.ring.snapshot()
}

// handleSupervisorError records the error, forwards it to the error
// system and announces it on the bus. A failure of the error system
// itself is logged and captured as a HANDLER_FAILURE record; it never
// propagates.
func (s *Supervisor) handleSupervisorError(ctx context.Context, err error, errCtx map[string]any) {
	coreErr := AsError(err, KindModule, "UNHANDLED")
	s.ring.append(ErrorRecord{Err: coreErr, Source: s.config.Name, Context: errCtx})

	if s.errorSystem != nil {
		if forwardErr := s.errorSystem.HandleError(ctx, coreErr, errCtx); forwardErr != nil {
			s.logger.Error("Error system failed while handling supervisor error",
				"source", s.config.Name,
				"originalError", coreErr,
				"handlerError", forwardErr,
				"timestamp", time.Now().UTC().Format(time.RFC3339),
			)
			s.ring.append(ErrorRecord{
				Err: NewModuleError("HANDLER_FAILURE",
					"error system failed while handling supervisor error",
					map[string]any{"originalError": coreErr.Error()},
					WithCause(forwardErr)),
				Source:  s.config.Name,
				Context: errCtx,
			})
		}
	}

	s.emit(ctx, EventModuleError, map[string]any{
		"error":   coreErr.Message,
		"code":    coreErr.Code,
		"context": errCtx,
	})
}

// emit publishes a supervisor event on the shared bus, best-effort.
func (s *Supervisor) emit(ctx context.Context, name string, data map[string]any) {
	if s.busSystem == nil {
		return
	}
	bus, err := s.busSystem.EventBus()
	if err != nil || bus == nil {
		return
	}
	if _, err := bus.Emit(ctx, name, data); err != nil {
		s.logger.Debug("Supervisor event emission failed", "event", name, "error", err)
	}
}

func removeName(names []string, target string) []string {
	out := names[:0]
	for _, n := range names {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}
