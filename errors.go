package appfabric

import "errors"

// Internal guard errors. Failures that cross a component boundary are
// wrapped into the taxonomy (*Error); these sentinels cover conditions
// callers are expected to test with errors.Is.
var (
	// Registration errors
	ErrNilHandler         = errors.New("handler cannot be nil")
	ErrNilFactory         = errors.New("component factory cannot be nil")
	ErrNilInstance        = errors.New("component instance cannot be nil")
	ErrNilIntegration     = errors.New("integration cannot be nil")
	ErrDuplicateComponent = errors.New("component already registered")
	ErrDuplicateCheck     = errors.New("health check already registered")

	// Lifecycle errors
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrNotInitialized     = errors.New("not initialized")
	ErrLifecycleError     = errors.New("lifecycle is in error state")

	// Event bus errors
	ErrEmptyEventName    = errors.New("event name cannot be empty")
	ErrEmptyPattern      = errors.New("subscription pattern cannot be empty")
	ErrUnknownKind       = errors.New("unknown error kind")
	ErrInvalidConfigType = errors.New("module config must be a map")

	// Config feeder errors
	ErrConfigNotPointer   = errors.New("config target must be a non-nil pointer")
	ErrConfigNotStruct    = errors.New("config target must point to a struct")
	ErrUnsupportedFormat  = errors.New("unsupported config file format")
	ErrConfigFileNotFound = errors.New("config file not found")
)
