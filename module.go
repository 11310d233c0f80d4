package appfabric

import "context"

// Module is the minimal contract for a supervised business module. Name
// must be unique within a supervisor. Modules embed *BaseModule, which
// implements this interface together with DependencyAware.
type Module interface {
	Name() string
}

// DependencyAware exposes the names of other modules (or core systems)
// a module depends on. The supervisor uses this to order initialization
// and to inject inter-module references.
type DependencyAware interface {
	Dependencies() []string
}

// SupervisedModule is what the supervisor accepts: a module carrying a
// BaseModule. Embedding *BaseModule satisfies it.
type SupervisedModule interface {
	Module
	Base() *BaseModule
}

// BusProvider hands out the shared event bus. The EventBusSystem
// implements it; the module base validates its presence at construction.
type BusProvider interface {
	EventBus() (*EventBus, error)
}

// Optional lifecycle hooks. BaseModule.Initialize drives them in order:
// OnValidateConfig, OnConfigure, OnSetupEventHandlers,
// OnSetupHealthChecks, OnInitialize; BaseModule.Shutdown drives
// OnShutdown. A module implements only the hooks it needs.

// ConfigValidator validates the merged module configuration before any
// other hook runs.
type ConfigValidator interface {
	OnValidateConfig(config map[string]any) error
}

// Configurer applies the validated configuration.
type Configurer interface {
	OnConfigure(ctx context.Context) error
}

// EventHandlerSetup installs the module's event subscriptions.
type EventHandlerSetup interface {
	OnSetupEventHandlers(ctx context.Context) error
}

// HealthCheckSetup registers module health checks beyond the default
// state check.
type HealthCheckSetup interface {
	OnSetupHealthChecks(ctx context.Context) error
}

// Initializer performs the module's own startup work, after
// configuration and handler setup.
type Initializer interface {
	OnInitialize(ctx context.Context) error
}

// ShutdownHook performs the module's own teardown work.
type ShutdownHook interface {
	OnShutdown(ctx context.Context) error
}

// Core dependency names the supervisor provides to every module. They
// are skipped during inter-module wiring and topological ordering.
const (
	CoreErrorSystem    = "errorSystem"
	CoreEventBusSystem = "eventBusSystem"
	CoreConfig         = "config"
)

func isCoreDependency(name string) bool {
	return name == CoreErrorSystem || name == CoreEventBusSystem || name == CoreConfig
}
