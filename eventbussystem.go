package appfabric

import (
	"context"
	"sync"
)

// EventBusSystem is a thin facade that owns a single bus instance and
// its lifecycle. Modules obtain their bus handle through it rather than
// holding the bus directly.
type EventBusSystem struct {
	mu sync.RWMutex

	config      *EventBusConfig
	logger      Logger
	errorSystem *ErrorSystem
	bus         *EventBus
	status      Status
}

// NewEventBusSystem creates the facade. The error system is optional;
// when present, bus failures funnel into it.
func NewEventBusSystem(config *EventBusConfig, logger Logger, errorSystem *ErrorSystem) *EventBusSystem {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &EventBusSystem{
		config:      config,
		logger:      logger,
		errorSystem: errorSystem,
		status:      StatusCreated,
	}
}

// Status returns the lifecycle state.
func (s *EventBusSystem) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Initialize constructs and initializes the owned bus. Initialization
// failures are reported to the error system and returned.
func (s *EventBusSystem) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusRunning {
		return NewServiceError("ALREADY_INITIALIZED", "event bus system already initialized", nil,
			WithCause(ErrAlreadyInitialized))
	}
	s.status = StatusInitializing

	var opts []EventBusOption
	if s.errorSystem != nil {
		opts = append(opts, WithErrorReporter(s.errorSystem))
	}
	bus := NewEventBus(s.config, s.logger, opts...)
	if err := bus.Initialize(ctx); err != nil {
		s.status = StatusError
		wrapped := NewServiceError("EVENTBUS_INITIALIZATION_FAILED",
			"event bus failed to initialize", map[string]any{
				"originalError": err.Error(),
			}, WithCause(err))
		if s.errorSystem != nil {
			if handleErr := s.errorSystem.HandleError(ctx, wrapped, map[string]any{"method": "initialize"}); handleErr != nil {
				s.logger.Error("Error system failed while reporting bus initialization failure",
					"originalError", wrapped, "handlerError", handleErr)
			}
		}
		return wrapped
	}

	s.bus = bus
	if s.errorSystem != nil {
		s.errorSystem.SetEventBus(bus)
	}
	s.status = StatusRunning
	s.logger.Debug("Event bus system initialized")
	return nil
}

// EventBus returns the owned bus, failing with a service error before
// initialization.
func (s *EventBusSystem) EventBus() (*EventBus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.bus == nil {
		return nil, NewServiceError("EVENTBUS_NOT_INITIALIZED",
			"event bus system has not been initialized", nil, WithCause(ErrNotInitialized))
	}
	return s.bus, nil
}

// Shutdown tears the bus down. It is idempotent.
func (s *EventBusSystem) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bus == nil {
		s.status = StatusShutdown
		return nil
	}
	s.status = StatusShuttingDown
	if err := s.bus.Shutdown(ctx); err != nil {
		s.status = StatusError
		return NewServiceError("EVENTBUS_SHUTDOWN_FAILED",
			"event bus failed to shut down", map[string]any{
				"originalError": err.Error(),
			}, WithCause(err))
	}
	s.bus = nil
	s.status = StatusShutdown
	s.logger.Debug("Event bus system shut down")
	return nil
}
