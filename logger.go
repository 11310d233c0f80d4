package appfabric

import "log/slog"

// Logger defines the interface for kernel logging.
// All kernel operations (component resolution, module initialization,
// event dispatch failures, error handling) are logged through this
// interface using structured key-value pairs, so owning applications can
// control how kernel logs appear.
//
// The variadic arguments are alternating key-value pairs:
//
//	logger.Info("Module initialized", "module", "database")
//
// This shape is compatible with slog, logrus, zap and similar libraries.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, args ...any)
}

// SlogLogger adapts a log/slog handler to the kernel Logger interface.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a Logger backed by the given slog handler.
func NewSlogLogger(handler slog.Handler) *SlogLogger {
	return &SlogLogger{logger: slog.New(handler)}
}

func (l *SlogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// NoopLogger discards all log output. It is the fallback when a component
// is constructed without a logger.
type NoopLogger struct{}

func (NoopLogger) Info(msg string, args ...any)  {}
func (NoopLogger) Error(msg string, args ...any) {}
func (NoopLogger) Warn(msg string, args ...any)  {}
func (NoopLogger) Debug(msg string, args ...any) {}
