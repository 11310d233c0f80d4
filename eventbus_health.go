package appfabric

import (
	"context"
	"time"
)

// registerBuiltinHealthChecks installs the state, queues and
// subscriptions checks. Called once from Initialize.
func (b *EventBus) registerBuiltinHealthChecks() {
	_ = b.RegisterHealthCheck("state", func(ctx context.Context) (CheckResult, error) {
		b.mu.RLock()
		initialized := b.initialized
		started := b.startTime
		b.mu.RUnlock()

		status := HealthStatusUnhealthy
		if initialized {
			status = HealthStatusHealthy
		}
		return CheckResult{
			Status: status,
			Details: map[string]any{
				"initialized": initialized,
				"uptime_ms":   time.Since(started).Milliseconds(),
				"errorCount":  b.ring.len(),
			},
		}, nil
	})

	_ = b.RegisterHealthCheck("queues", func(ctx context.Context) (CheckResult, error) {
		b.mu.RLock()
		counts := make(map[string]any, len(b.queues))
		total := 0
		for name, pending := range b.queues {
			counts[name] = len(pending)
			total += len(pending)
		}
		b.mu.RUnlock()

		return CheckResult{
			Status: HealthStatusHealthy,
			Details: map[string]any{
				"queues": counts,
				"total":  total,
			},
		}, nil
	})

	_ = b.RegisterHealthCheck("subscriptions", func(ctx context.Context) (CheckResult, error) {
		return CheckResult{
			Status: HealthStatusHealthy,
			Details: map[string]any{
				"count":    b.SubscriptionCount(),
				"patterns": b.Patterns(),
			},
		}, nil
	})
}

// RegisterHealthCheck installs a custom health check under a unique
// name.
func (b *EventBus) RegisterHealthCheck(name string, check HealthCheck) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checks.register(name, check); err != nil {
		return NewConfigError("HEALTH_CHECK_INVALID",
			"health check "+name+" could not be registered", nil, WithCause(err))
	}
	return nil
}

// CheckHealth runs every registered check sequentially and aggregates.
// The snapshot status is healthy only when every sub-result is healthy.
func (b *EventBus) CheckHealth(ctx context.Context) HealthSnapshot {
	b.mu.RLock()
	checks := b.checks
	b.mu.RUnlock()
	return checks.run(ctx, b.config.Name, b.config.Version)
}
