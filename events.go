package appfabric

// Reserved event names emitted on the process-local bus. The "system:"
// and "module:" prefixes are reserved for the kernel; Reset preserves
// "system:" subscriptions.
const (
	// System lifecycle events
	EventSystemInitialized = "system:initialized"
	EventSystemShutdown    = "system:shutdown"

	// Container events
	EventComponentRegistered = "component:registered"
	EventComponentResolved   = "component:resolved"
	EventInitialized         = "initialized"
	EventShutdown            = "shutdown"
	EventShutdownError       = "shutdown:error"
	EventDiscoveryCompleted  = "discovery:completed"
	EventDiscoveryError      = "discovery:error"

	// Supervisor events
	EventModuleRegistered   = "module:registered"
	EventModuleUnregistered = "module:unregistered"
	EventModuleError        = "module:error"

	// Error system events
	EventErrorHandled       = "error:handled"
	EventErrorHandlerFailed = "error:handler:failed"

	// Config events
	EventConfigChanged = "config:changed"
)

// systemEventPrefix marks subscriptions that survive a bus Reset.
const systemEventPrefix = "system:"
