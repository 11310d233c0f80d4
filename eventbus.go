package appfabric

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrorReporter receives errors funneled out of kernel components. The
// ErrorSystem implements it; components hold the interface so the bus
// and the error system can be constructed in either order.
type ErrorReporter interface {
	HandleError(ctx context.Context, err error, errCtx map[string]any) error
}

// EventBusConfig configures a bus instance.
type EventBusConfig struct {
	// Name identifies the bus in health snapshots.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Version is reported in health snapshots.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// MaxHistorySize caps the per-event-name history. Overflow drops the
	// oldest envelope. Default 1000.
	MaxHistorySize int `json:"maxHistorySize,omitempty" yaml:"maxHistorySize,omitempty" env:"MAX_HISTORY_SIZE"`

	// MaxErrorRecords caps the bus error ring. Default 100.
	MaxErrorRecords int `json:"maxErrorRecords,omitempty" yaml:"maxErrorRecords,omitempty" env:"MAX_ERROR_RECORDS"`
}

func (c *EventBusConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "eventbus"
	}
	if c.Version == "" {
		c.Version = "1.0.0"
	}
	if c.MaxHistorySize == 0 {
		c.MaxHistorySize = 1000
	}
	if c.MaxErrorRecords == 0 {
		c.MaxErrorRecords = maxErrorRecords
	}
}

// queuedEvent is one enqueued envelope awaiting a drain.
type queuedEvent struct {
	event      Event
	options    EmitOptions
	enqueuedAt time.Time
}

// EventBus is an in-process publish/subscribe fabric with pattern
// subscriptions, per-event history and per-queue deferred delivery.
//
// Literal subscriptions and pattern subscriptions ("*" and dot-segment
// wildcards) are kept in separate collections consulted on every
// dispatch, so no dispatch-path swapping is needed when the first
// wildcard listener appears. Dispatch is synchronous and in registration
// order; history is appended before dispatch, so handlers observe their
// own envelope in history.
type EventBus struct {
	mu sync.RWMutex

	config   *EventBusConfig
	logger   Logger
	reporter ErrorReporter
	metrics  *Metrics

	literal  map[string][]*subscription
	patterns []*subscription
	index    map[string]*subscription

	queues  map[string][]queuedEvent
	history map[string][]Event

	checks *healthCheckSet
	ring   *errorRing

	initialized bool
	startTime   time.Time
}

// EventBusOption customizes bus construction.
type EventBusOption func(*EventBus)

// WithErrorReporter wires the bus error funnel to an error system.
func WithErrorReporter(reporter ErrorReporter) EventBusOption {
	return func(b *EventBus) { b.reporter = reporter }
}

// NewEventBus creates a bus. A nil config uses defaults; a nil logger
// falls back to NoopLogger.
func NewEventBus(config *EventBusConfig, logger Logger, opts ...EventBusOption) *EventBus {
	if config == nil {
		config = &EventBusConfig{}
	}
	config.setDefaults()
	if logger == nil {
		logger = NoopLogger{}
	}

	b := &EventBus{
		config:  config,
		logger:  logger,
		metrics: NewMetrics("appfabric"),
		literal: make(map[string][]*subscription),
		index:   make(map[string]*subscription),
		queues:  make(map[string][]queuedEvent),
		history: make(map[string][]Event),
		checks:  newHealthCheckSet(),
		ring:    newErrorRing(config.MaxErrorRecords),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetErrorReporter wires the error funnel after construction.
func (b *EventBus) SetErrorReporter(reporter ErrorReporter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reporter = reporter
}

// Metrics exposes the bus metrics recorder.
func (b *EventBus) Metrics() *Metrics {
	return b.metrics
}

// Initialize registers the built-in health checks and marks the bus
// ready. A second Initialize fails.
func (b *EventBus) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.initialized {
		b.mu.Unlock()
		return b.fail(ctx, NewServiceError("ALREADY_INITIALIZED", "event bus already initialized", nil),
			map[string]any{"method": "initialize"})
	}
	b.initialized = true
	b.startTime = time.Now()
	b.mu.Unlock()

	b.registerBuiltinHealthChecks()
	b.logger.Debug("Event bus initialized", "name", b.config.Name)
	return nil
}

// Shutdown clears subscriptions, queues and history. It is idempotent.
func (b *EventBus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return nil
	}
	b.initialized = false
	b.literal = make(map[string][]*subscription)
	b.patterns = nil
	b.index = make(map[string]*subscription)
	b.queues = make(map[string][]queuedEvent)
	b.history = make(map[string][]Event)
	b.logger.Debug("Event bus shut down", "name", b.config.Name)
	return nil
}

// Emit publishes an envelope to all matching subscribers.
func (b *EventBus) Emit(ctx context.Context, name string, data any) (Event, error) {
	return b.EmitWithOptions(ctx, name, data, EmitOptions{})
}

// EmitWithOptions publishes an envelope. The envelope is pushed onto the
// per-name history before any delivery. With Queue set the envelope is
// appended to the name's queue instead of dispatched; adding Immediate
// drains that queue synchronously before returning.
func (b *EventBus) EmitWithOptions(ctx context.Context, name string, data any, options EmitOptions) (Event, error) {
	if name == "" {
		return Event{}, b.fail(ctx,
			NewValidationError("EVENT_NAME_REQUIRED", "event name cannot be empty", nil, WithCause(ErrEmptyEventName)),
			map[string]any{"method": "emit"})
	}

	event := newEvent(name, data, options.Metadata)

	b.mu.Lock()
	b.pushHistory(event)
	if options.Queue {
		b.queues[name] = append(b.queues[name], queuedEvent{
			event:      event,
			options:    options,
			enqueuedAt: time.Now(),
		})
	}
	b.mu.Unlock()

	b.metrics.EventEmitted(name, options.Queue)

	if options.Queue {
		if options.Immediate {
			if _, err := b.ProcessQueue(ctx, name); err != nil {
				return event, err
			}
		}
		return event, nil
	}

	b.dispatch(ctx, event)
	return event, nil
}

// pushHistory prepends the envelope to its name's history, dropping the
// oldest entry past the cap. Callers hold b.mu.
func (b *EventBus) pushHistory(event Event) {
	entries := b.history[event.Name]
	entries = append([]Event{event}, entries...)
	if len(entries) > b.config.MaxHistorySize {
		entries = entries[:b.config.MaxHistorySize]
	}
	b.history[event.Name] = entries
}

// matchingSubscriptions snapshots the subscribers for one event name:
// literal subscriptions first (registration order), then pattern and
// wildcard subscriptions in registration order.
func (b *EventBus) matchingSubscriptions(name string) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := make([]*subscription, 0, len(b.literal[name])+len(b.patterns))
	subs = append(subs, b.literal[name]...)
	for _, sub := range b.patterns {
		if sub.matches(name) {
			subs = append(subs, sub)
		}
	}
	return subs
}

// dispatch delivers an envelope synchronously to every matching
// subscriber. Handler failures route through the error funnel and do not
// interrupt delivery to the remaining subscribers.
func (b *EventBus) dispatch(ctx context.Context, event Event) {
	for _, sub := range b.matchingSubscriptions(event.Name) {
		if err := sub.handler(ctx, event); err != nil {
			b.handlerFailed(ctx, err, map[string]any{
				"method":       "emit",
				"event":        event.Name,
				"subscription": sub.id,
			})
		}
	}
}

// Subscribe installs a handler for a literal event name, the global
// wildcard "*", or a dot-segmented pattern such as "user.*" or
// "*.created". It returns the subscription id.
func (b *EventBus) Subscribe(pattern string, handler EventHandler, opts ...SubscribeOptions) (string, error) {
	ctx := context.Background()
	if pattern == "" {
		return "", b.fail(ctx,
			NewValidationError("PATTERN_REQUIRED", "subscription pattern cannot be empty", nil, WithCause(ErrEmptyPattern)),
			map[string]any{"method": "subscribe"})
	}
	if handler == nil {
		return "", b.fail(ctx,
			NewConfigError("HANDLER_REQUIRED", "subscription handler cannot be nil", nil, WithCause(ErrNilHandler)),
			map[string]any{"method": "subscribe", "pattern": pattern})
	}

	sub := &subscription{
		id:      newEventID(),
		pattern: pattern,
		handler: handler,
		created: time.Now().UTC(),
	}
	if len(opts) > 0 {
		sub.options = opts[0]
	}

	if isPattern(pattern) && pattern != "*" {
		regex, err := compilePattern(pattern)
		if err != nil {
			return "", b.fail(ctx,
				NewValidationError("PATTERN_INVALID", fmt.Sprintf("invalid subscription pattern %q", pattern), nil, WithCause(err)),
				map[string]any{"method": "subscribe", "pattern": pattern})
		}
		sub.regex = regex
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if isPattern(pattern) {
		b.patterns = append(b.patterns, sub)
	} else {
		b.literal[pattern] = append(b.literal[pattern], sub)
	}
	b.index[sub.id] = sub
	return sub.id, nil
}

// Unsubscribe removes the subscription installed under id, returning
// whether a removal occurred.
func (b *EventBus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.index[id]
	if !ok {
		return false
	}
	delete(b.index, id)

	if isPattern(sub.pattern) {
		b.patterns = removeSubscription(b.patterns, id)
	} else {
		b.literal[sub.pattern] = removeSubscription(b.literal[sub.pattern], id)
		if len(b.literal[sub.pattern]) == 0 {
			delete(b.literal, sub.pattern)
		}
	}
	return true
}

func removeSubscription(subs []*subscription, id string) []*subscription {
	for i, sub := range subs {
		if sub.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// SubscriptionCount returns the number of active subscriptions.
func (b *EventBus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.index)
}

// Patterns returns the distinct patterns with at least one subscription.
func (b *EventBus) Patterns() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]bool)
	patterns := make([]string, 0, len(b.literal)+len(b.patterns))
	for name := range b.literal {
		if !seen[name] {
			seen[name] = true
			patterns = append(patterns, name)
		}
	}
	for _, sub := range b.patterns {
		if !seen[sub.pattern] {
			seen[sub.pattern] = true
			patterns = append(patterns, sub.pattern)
		}
	}
	return patterns
}

// ProcessQueue drains the named queue, dispatching envelopes in enqueue
// order. Handler failures route through the error funnel with the queue
// context and the drain continues; the drained count and elapsed time
// are recorded as metrics.
func (b *EventBus) ProcessQueue(ctx context.Context, name string) (int, error) {
	b.mu.Lock()
	pending := b.queues[name]
	delete(b.queues, name)
	b.mu.Unlock()

	if len(pending) == 0 {
		return 0, nil
	}

	start := time.Now()
	for _, qe := range pending {
		for _, sub := range b.matchingSubscriptions(name) {
			if err := sub.handler(ctx, qe.event); err != nil {
				b.handlerFailed(ctx, err, map[string]any{
					"method":       "processQueue",
					"queueName":    name,
					"subscription": sub.id,
				})
			}
		}
	}
	b.metrics.QueueProcessed(name, len(pending), time.Since(start))
	return len(pending), nil
}

// ProcessAllQueues drains every queue and returns the per-queue
// processed counts.
func (b *EventBus) ProcessAllQueues(ctx context.Context) (map[string]int, error) {
	b.mu.RLock()
	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	b.mu.RUnlock()

	counts := make(map[string]int, len(names))
	for _, name := range names {
		processed, err := b.ProcessQueue(ctx, name)
		if err != nil {
			return counts, err
		}
		counts[name] = processed
	}
	return counts, nil
}

// QueueLength returns the number of envelopes pending on a queue.
func (b *EventBus) QueueLength(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.queues[name])
}

// GetHistory returns a newest-first slice of recent envelopes for the
// named event. A limit <= 0 returns the full retained history.
func (b *EventBus) GetHistory(name string, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := b.history[name]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	out := make([]Event, len(entries))
	copy(out, entries)
	return out
}

// GetAllHistory returns the newest-first history for every event name.
func (b *EventBus) GetAllHistory(limit int) map[string][]Event {
	b.mu.RLock()
	names := make([]string, 0, len(b.history))
	for name := range b.history {
		names = append(names, name)
	}
	b.mu.RUnlock()

	out := make(map[string][]Event, len(names))
	for _, name := range names {
		out[name] = b.GetHistory(name, limit)
	}
	return out
}

// Reset clears queues and history and removes every subscription except
// those on reserved "system:" events.
func (b *EventBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.queues = make(map[string][]queuedEvent)
	b.history = make(map[string][]Event)

	keptLiteral := make(map[string][]*subscription)
	keptIndex := make(map[string]*subscription)
	for name, subs := range b.literal {
		if strings.HasPrefix(name, systemEventPrefix) {
			keptLiteral[name] = subs
			for _, sub := range subs {
				keptIndex[sub.id] = sub
			}
		}
	}
	var keptPatterns []*subscription
	for _, sub := range b.patterns {
		if strings.HasPrefix(sub.pattern, systemEventPrefix) {
			keptPatterns = append(keptPatterns, sub)
			keptIndex[sub.id] = sub
		}
	}
	b.literal = keptLiteral
	b.patterns = keptPatterns
	b.index = keptIndex
}

// AttachObserver bridges bus events to a CloudEvents observer. With no
// eventNames every emission is observed; otherwise only the named events
// are forwarded. It returns the underlying subscription id.
func (b *EventBus) AttachObserver(observer Observer, eventNames ...string) (string, error) {
	wanted := make(map[string]bool, len(eventNames))
	for _, name := range eventNames {
		wanted[name] = true
	}

	return b.Subscribe("*", func(ctx context.Context, event Event) error {
		if len(wanted) > 0 && !wanted[event.Name] {
			return nil
		}
		if err := observer.OnEvent(ctx, ToCloudEvent(event)); err != nil {
			b.logger.Debug("Observer failed", "observer", observer.ObserverID(), "event", event.Name, "error", err)
		}
		return nil
	})
}

// Errors returns a copy of the bus error ring.
func (b *EventBus) Errors() []ErrorRecord {
	return b.ring.snapshot()
}

// fail is the bus error funnel: it appends the error to the bounded
// ring, records a metric tagged by kind and code, forwards to the error
// reporter when present, and returns the error to the caller.
func (b *EventBus) fail(ctx context.Context, err *Error, errCtx map[string]any) error {
	b.ring.append(ErrorRecord{Err: err, Source: "eventbus", Context: errCtx})
	b.metrics.ErrorRecorded("eventbus", err.Kind(), err.Code)
	if b.reporter != nil {
		if handleErr := b.reporter.HandleError(ctx, err, errCtx); handleErr != nil {
			b.logger.Error("Error reporter failed",
				"source", "eventbus", "originalError", err, "handlerError", handleErr)
		}
	}
	return err
}

// handlerFailed funnels a subscriber failure without interrupting
// dispatch.
func (b *EventBus) handlerFailed(ctx context.Context, err error, errCtx map[string]any) {
	coreErr := AsError(err, KindService, "EVENT_HANDLER_FAILED")
	b.logger.Error("Event handler failed", "event", errCtx["event"], "queue", errCtx["queueName"], "error", err)
	_ = b.fail(ctx, coreErr, errCtx)
}
