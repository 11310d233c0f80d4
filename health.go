package appfabric

import (
	"context"
	"time"
)

// HealthStatus represents the health state of a component or check.
type HealthStatus int

const (
	// HealthStatusUnknown indicates the status cannot be determined.
	HealthStatusUnknown HealthStatus = iota

	// HealthStatusHealthy indicates the component is operating normally.
	HealthStatusHealthy

	// HealthStatusUnhealthy indicates the component is not functioning
	// properly.
	HealthStatusUnhealthy

	// HealthStatusError indicates the health check itself failed.
	HealthStatusError
)

// String returns the string representation of the health status.
func (s HealthStatus) String() string {
	switch s {
	case HealthStatusHealthy:
		return "healthy"
	case HealthStatusUnhealthy:
		return "unhealthy"
	case HealthStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// IsHealthy returns true if the status represents a healthy state.
func (s HealthStatus) IsHealthy() bool {
	return s == HealthStatusHealthy
}

// MarshalText serializes the status as its string form.
func (s HealthStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckResult is the outcome of a single health check.
type CheckResult struct {
	// Status is the health state determined by the check.
	Status HealthStatus `json:"status"`

	// Message gives human-readable detail about the state.
	Message string `json:"message,omitempty"`

	// Error carries the failure message when the check itself failed.
	Error string `json:"error,omitempty"`

	// Details contains additional structured information.
	Details map[string]any `json:"details,omitempty"`
}

// HealthCheck is a callable registered under a unique name with a module
// or the event bus. A returned error marks the check as failed and
// degrades the aggregate to unhealthy.
type HealthCheck func(ctx context.Context) (CheckResult, error)

// HealthSnapshot is the aggregate result of running every registered
// check. Status is healthy only when all sub-results are healthy.
type HealthSnapshot struct {
	Name      string                 `json:"name"`
	Version   string                 `json:"version,omitempty"`
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// healthCheckSet keeps registered checks in registration order so
// aggregation is deterministic.
type healthCheckSet struct {
	names  []string
	checks map[string]HealthCheck
}

func newHealthCheckSet() *healthCheckSet {
	return &healthCheckSet{checks: make(map[string]HealthCheck)}
}

func (h *healthCheckSet) register(name string, check HealthCheck) error {
	if check == nil {
		return ErrNilHandler
	}
	if _, exists := h.checks[name]; exists {
		return ErrDuplicateCheck
	}
	h.names = append(h.names, name)
	h.checks[name] = check
	return nil
}

// run executes every check sequentially in registration order. A check
// error contributes an {status: error} entry instead of aborting.
func (h *healthCheckSet) run(ctx context.Context, owner, version string) HealthSnapshot {
	snapshot := HealthSnapshot{
		Name:      owner,
		Version:   version,
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult, len(h.names)),
	}

	for _, name := range h.names {
		result, err := h.checks[name](ctx)
		if err != nil {
			result = CheckResult{Status: HealthStatusError, Error: err.Error()}
		}
		snapshot.Checks[name] = result
		if !result.Status.IsHealthy() {
			snapshot.Status = HealthStatusUnhealthy
		}
	}

	return snapshot
}
