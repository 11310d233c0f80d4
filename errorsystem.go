package appfabric

import (
	"context"
	"sync"
	"time"
)

// ErrorHandler is a callable bound to an error kind (or "*") and invoked
// when an error of that kind is reported.
type ErrorHandler func(ctx context.Context, err *Error, errCtx map[string]any) error

// Integration is a framework adapter hosted by the error system, such as
// the chi HTTP integration. MapError converts framework failures into
// taxonomy errors; SerializeError produces the transport envelope.
type Integration interface {
	Name() string
	MapError(err error) *Error
	SerializeError(err *Error, reqCtx *RequestContext) map[string]any
}

// ErrorSystem maintains the registry of error handlers per kind plus a
// "*" wildcard, a built-in default handler that logs structured records,
// and a slot for framework integrations. It is the single component
// permitted to mutate the handler map; everything else reaches it
// through HandleError.
type ErrorSystem struct {
	mu sync.RWMutex

	logger         Logger
	bus            *EventBus
	handlers       map[string]ErrorHandler
	integrations   map[string]Integration
	defaultHandler ErrorHandler
	ring           *errorRing
	status         Status
}

// NewErrorSystem creates an error system with the default handler
// installed, so there is always at least one applicable handler.
func NewErrorSystem(logger Logger) *ErrorSystem {
	if logger == nil {
		logger = NoopLogger{}
	}
	s := &ErrorSystem{
		logger:       logger,
		handlers:     make(map[string]ErrorHandler),
		integrations: make(map[string]Integration),
		ring:         newErrorRing(maxErrorRecords),
		status:       StatusCreated,
	}
	s.defaultHandler = s.logHandler
	return s
}

// SetEventBus attaches the bus used for error:handled and
// error:handler:failed events. Optional; without a bus those events are
// skipped.
func (s *ErrorSystem) SetEventBus(bus *EventBus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bus = bus
}

// Status returns the lifecycle state.
func (s *ErrorSystem) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// logHandler is the built-in default: it logs a structured record.
func (s *ErrorSystem) logHandler(ctx context.Context, err *Error, errCtx map[string]any) error {
	s.logger.Error("Unhandled error",
		"name", err.Name(),
		"code", err.Code,
		"message", err.Message,
		"details", err.Details,
		"context", errCtx,
	)
	return nil
}

// RegisterHandler binds a handler to an error kind name or "*".
func (s *ErrorSystem) RegisterHandler(kind string, handler ErrorHandler) error {
	if handler == nil {
		return NewConfigError("INVALID_HANDLER",
			"handler for kind "+kind+" must be callable", nil, WithCause(ErrNilHandler))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = handler
	return nil
}

// RegisterIntegration attaches a framework adapter and indexes it by
// name.
func (s *ErrorSystem) RegisterIntegration(integration Integration) error {
	if integration == nil {
		return NewConfigError("INVALID_INTEGRATION",
			"integration must not be nil", nil, WithCause(ErrNilIntegration))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integrations[integration.Name()] = integration
	return nil
}

// Integration returns a registered framework adapter by name.
func (s *ErrorSystem) Integration(name string) (Integration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	integ, ok := s.integrations[name]
	return integ, ok
}

// CreateError constructs a taxonomy error by kind name. Unknown kinds
// degrade to the base kind.
func (s *ErrorSystem) CreateError(kind, code, message string, details map[string]any, opts ...ErrorOption) *Error {
	return NewErrorOfKind(Kind(kind), code, message, details, opts...)
}

// HandleError resolves the handler for the error's kind, falling back to
// "*" and then the built-in default. A handler failure is reported as an
// error:handler:failed event, logged once, and returned to the caller.
func (s *ErrorSystem) HandleError(ctx context.Context, err error, errCtx map[string]any) error {
	if err == nil {
		return nil
	}
	coreErr := AsError(err, KindCore, "UNHANDLED")

	s.mu.RLock()
	handler, ok := s.handlers[coreErr.Name()]
	if !ok {
		handler, ok = s.handlers["*"]
	}
	if !ok {
		handler = s.defaultHandler
	}
	bus := s.bus
	s.mu.RUnlock()

	s.ring.append(ErrorRecord{Err: coreErr, Source: "errorsystem", Context: errCtx})

	if handlerErr := handler(ctx, coreErr, errCtx); handlerErr != nil {
		s.logger.Error("Error handler failed",
			"source", "errorsystem",
			"originalError", coreErr,
			"handlerError", handlerErr,
			"timestamp", time.Now().UTC().Format(time.RFC3339),
		)
		if bus != nil {
			_, _ = bus.Emit(ctx, EventErrorHandlerFailed, map[string]any{
				"error":         handlerErr,
				"originalError": coreErr,
				"timestamp":     time.Now().UTC().Format(time.RFC3339),
			})
		}
		return handlerErr
	}

	if bus != nil {
		_, _ = bus.Emit(ctx, EventErrorHandled, map[string]any{
			"error":     coreErr,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
	return nil
}

// Initialize validates the registered handler kinds and re-installs the
// default handler. Double initialization fails.
func (s *ErrorSystem) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusRunning {
		return NewServiceError("ALREADY_INITIALIZED", "error system already initialized", nil,
			WithCause(ErrAlreadyInitialized))
	}
	s.status = StatusInitializing

	for kind := range s.handlers {
		if kind != "*" && !KnownKind(kind) {
			s.status = StatusError
			return NewConfigError("INVALID_ERROR_KIND",
				"registered kind "+kind+" is not part of the error taxonomy", map[string]any{
					"kind": kind,
				}, WithCause(ErrUnknownKind))
		}
	}

	s.defaultHandler = s.logHandler
	s.status = StatusRunning
	return nil
}

// Shutdown clears handlers and integrations.
func (s *ErrorSystem) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = StatusShuttingDown
	s.handlers = make(map[string]ErrorHandler)
	s.integrations = make(map[string]Integration)
	s.status = StatusShutdown
	return nil
}

// Errors returns a copy of the error ring.
func (s *ErrorSystem) Errors() []ErrorRecord {
	return s.ring.snapshot()
}
