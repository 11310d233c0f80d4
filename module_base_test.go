package appfabric

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// journalModule exercises every lifecycle hook and records the call
// order.
type journalModule struct {
	*BaseModule
	journal []string

	validateErr error
	initErr     error
	downErr     error
}

func newJournalModule(t *testing.T, name string, required []string, deps map[string]any) *journalModule {
	t.Helper()
	base, err := NewBaseModule(name, required, deps, NoopLogger{})
	require.NoError(t, err)
	m := &journalModule{BaseModule: base}
	base.BindHooks(m)
	return m
}

func (m *journalModule) OnValidateConfig(config map[string]any) error {
	m.journal = append(m.journal, "validateConfig")
	return m.validateErr
}

func (m *journalModule) OnConfigure(ctx context.Context) error {
	m.journal = append(m.journal, "configure")
	return nil
}

func (m *journalModule) OnSetupEventHandlers(ctx context.Context) error {
	m.journal = append(m.journal, "setupEventHandlers")
	return nil
}

func (m *journalModule) OnSetupHealthChecks(ctx context.Context) error {
	m.journal = append(m.journal, "setupHealthChecks")
	return nil
}

func (m *journalModule) OnInitialize(ctx context.Context) error {
	m.journal = append(m.journal, "initialize")
	return m.initErr
}

func (m *journalModule) OnShutdown(ctx context.Context) error {
	m.journal = append(m.journal, "shutdown")
	return m.downErr
}

func TestBaseModuleMissingRequiredDependency(t *testing.T) {
	_, err := NewBaseModule("auth", []string{"database"}, nil, NoopLogger{})
	require.Error(t, err)

	var coreErr *Error
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, "MODULE_MISSING_DEPENDENCY", coreErr.Code)
	assert.Equal(t, "database", coreErr.Details["dependency"])
}

func TestBaseModuleRejectsWrongCoreSystems(t *testing.T) {
	_, err := NewBaseModule("auth", nil, map[string]any{CoreEventBusSystem: "not a bus system"}, NoopLogger{})
	require.Error(t, err)
	var coreErr *Error
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, "MODULE_INVALID_EVENT_BUS_SYSTEM", coreErr.Code)

	_, err = NewBaseModule("auth", nil, map[string]any{CoreErrorSystem: 42}, NoopLogger{})
	require.Error(t, err)
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, "MODULE_INVALID_ERROR_SYSTEM", coreErr.Code)
}

func TestBaseModuleCapturesBusEagerly(t *testing.T) {
	system := NewEventBusSystem(&EventBusConfig{}, NoopLogger{}, NewErrorSystem(NoopLogger{}))
	require.NoError(t, system.Initialize(context.Background()))

	base, err := NewBaseModule("auth", []string{CoreEventBusSystem},
		map[string]any{CoreEventBusSystem: system}, NoopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, base.EventBus())
}

func TestBaseModuleToleratesUninitializedBusSystem(t *testing.T) {
	system := NewEventBusSystem(&EventBusConfig{}, NoopLogger{}, NewErrorSystem(NoopLogger{}))

	base, err := NewBaseModule("auth", nil, map[string]any{CoreEventBusSystem: system}, NoopLogger{})
	require.NoError(t, err)
	assert.Nil(t, base.EventBus())
}

func TestBaseModuleInitializeRunsHooksInOrder(t *testing.T) {
	m := newJournalModule(t, "auth", nil, nil)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, []string{
		"validateConfig",
		"configure",
		"setupEventHandlers",
		"setupHealthChecks",
		"initialize",
	}, m.journal)
	assert.Equal(t, StatusRunning, m.Status())
}

func TestBaseModuleInitializeFailureTransitionsToError(t *testing.T) {
	m := newJournalModule(t, "auth", nil, nil)
	m.validateErr = errors.New("port missing")

	err := m.Initialize(context.Background())
	require.Error(t, err)

	var coreErr *Error
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, "MODULE_INITIALIZATION_FAILED", coreErr.Code)
	assert.Equal(t, "validateConfig", coreErr.Details["step"])
	assert.Equal(t, StatusError, m.Status())

	// A module in error state refuses another initialization.
	err = m.Initialize(context.Background())
	require.Error(t, err)
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, "MODULE_LIFECYCLE_ERROR", coreErr.Code)
}

func TestBaseModuleDoubleInitializeFails(t *testing.T) {
	m := newJournalModule(t, "auth", nil, nil)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	require.NoError(t, m.Initialize(context.Background()))
	err := m.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestBaseModuleLocalEmit(t *testing.T) {
	base, err := NewBaseModule("billing", nil, nil, NoopLogger{})
	require.NoError(t, err)

	var got []Event
	base.On("invoice:created", func(ctx context.Context, event Event) error {
		got = append(got, event)
		return nil
	})

	base.Emit(context.Background(), "invoice:created", map[string]any{"id": 1})
	require.Len(t, got, 1)
	assert.Equal(t, "billing", got[0].Metadata["module"])
}

func TestBaseModuleEmitReachesSharedBus(t *testing.T) {
	system := NewEventBusSystem(&EventBusConfig{}, NoopLogger{}, NewErrorSystem(NoopLogger{}))
	require.NoError(t, system.Initialize(context.Background()))
	bus, err := system.EventBus()
	require.NoError(t, err)

	base, err := NewBaseModule("billing", nil, map[string]any{CoreEventBusSystem: system}, NoopLogger{})
	require.NoError(t, err)

	var local, shared int
	base.On("invoice:created", func(ctx context.Context, event Event) error {
		local++
		return nil
	})
	_, err = bus.Subscribe("invoice:created", func(ctx context.Context, event Event) error {
		shared++
		return nil
	})
	require.NoError(t, err)

	base.Emit(context.Background(), "invoice:created", nil)
	assert.Equal(t, 1, local)
	assert.Equal(t, 1, shared)
}

func TestBaseModuleHandleErrorRecordsAndForwards(t *testing.T) {
	errorSystem := NewErrorSystem(NoopLogger{})
	base, err := NewBaseModule("billing", nil, map[string]any{CoreErrorSystem: errorSystem}, NoopLogger{})
	require.NoError(t, err)

	base.HandleError(context.Background(), errors.New("charge failed"), map[string]any{"op": "charge"})

	records := base.Errors()
	require.Len(t, records, 1)
	assert.Equal(t, "MODULE_UNHANDLED", records[0].Err.Code)
	assert.Len(t, errorSystem.Errors(), 1)
}

func TestBaseModuleHandlerFailureIsSwallowed(t *testing.T) {
	errorSystem := NewErrorSystem(NoopLogger{})
	require.NoError(t, errorSystem.RegisterHandler("*", func(ctx context.Context, err *Error, errCtx map[string]any) error {
		return errors.New("handler broke")
	}))

	base, err := NewBaseModule("billing", nil, map[string]any{CoreErrorSystem: errorSystem}, NoopLogger{})
	require.NoError(t, err)

	// Must not panic or propagate; the double failure lands in the ring.
	base.HandleError(context.Background(), errors.New("charge failed"), nil)

	records := base.Errors()
	require.Len(t, records, 2)
	assert.Equal(t, "MODULE_UNHANDLED", records[0].Err.Code)
	assert.Equal(t, "MODULE_HANDLER_FAILURE", records[1].Err.Code)
}

func TestBaseModuleHandleErrorAnnouncesModuleError(t *testing.T) {
	system := NewEventBusSystem(&EventBusConfig{}, NoopLogger{}, NewErrorSystem(NoopLogger{}))
	require.NoError(t, system.Initialize(context.Background()))
	bus, err := system.EventBus()
	require.NoError(t, err)

	base, err := NewBaseModule("billing", nil, map[string]any{CoreEventBusSystem: system}, NoopLogger{})
	require.NoError(t, err)

	var local, shared []Event
	base.On(EventModuleError, func(ctx context.Context, event Event) error {
		local = append(local, event)
		return nil
	})
	_, err = bus.Subscribe(EventModuleError, func(ctx context.Context, event Event) error {
		shared = append(shared, event)
		return nil
	})
	require.NoError(t, err)

	base.HandleError(context.Background(), errors.New("charge failed"), map[string]any{"op": "charge"})

	require.Len(t, local, 1)
	require.Len(t, shared, 1)
	data, ok := local[0].Data.(map[string]any)
	require.True(t, ok)
	reported, ok := data["error"].(*Error)
	require.True(t, ok)
	assert.Equal(t, "MODULE_UNHANDLED", reported.Code)
	assert.Equal(t, "billing", data["source"])
	assert.Equal(t, map[string]any{"op": "charge"}, data["context"])
}

func TestBaseModuleErrorRingCapped(t *testing.T) {
	base, err := NewBaseModule("billing", nil, nil, NoopLogger{})
	require.NoError(t, err)

	for i := 0; i < maxErrorRecords+50; i++ {
		base.HandleError(context.Background(), fmt.Errorf("failure %d", i), map[string]any{"seq": i})
	}

	records := base.Errors()
	require.Len(t, records, maxErrorRecords)
	// Oldest entries are dropped, newest retained.
	assert.Equal(t, 50, records[0].Context["seq"])
	assert.Equal(t, maxErrorRecords+49, records[len(records)-1].Context["seq"])
}

func TestBaseModuleHealthAggregation(t *testing.T) {
	m := newJournalModule(t, "billing", nil, nil)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	require.NoError(t, m.Initialize(context.Background()))

	snapshot := m.CheckHealth(context.Background())
	assert.Equal(t, HealthStatusHealthy, snapshot.Status)
	assert.Contains(t, snapshot.Checks, "state")

	require.NoError(t, m.RegisterHealthCheck("gateway", func(ctx context.Context) (CheckResult, error) {
		return CheckResult{}, errors.New("gateway unreachable")
	}))

	snapshot = m.CheckHealth(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, snapshot.Status)
	assert.Equal(t, HealthStatusError, snapshot.Checks["gateway"].Status)
	require.NotNil(t, m.LastHealthCheck())
	assert.Equal(t, snapshot.Status, m.LastHealthCheck().Status)
}

func TestBaseModuleMetrics(t *testing.T) {
	base, err := NewBaseModule("billing", nil, nil, NoopLogger{})
	require.NoError(t, err)

	base.RecordMetric("charges", 3, map[string]string{"currency": "eur"})
	metrics := base.Metrics()
	require.Contains(t, metrics, "charges")
	assert.Equal(t, float64(3), metrics["charges"].Value)
	assert.Equal(t, "eur", metrics["charges"].Tags["currency"])
}

func TestBaseModuleShutdown(t *testing.T) {
	m := newJournalModule(t, "billing", nil, nil)

	// Shutting down a module that never initialized is a no-op.
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Empty(t, m.journal)

	require.NoError(t, m.Initialize(context.Background()))
	m.journal = nil

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, []string{"shutdown"}, m.journal)
	assert.Equal(t, StatusShutdown, m.Status())
	assert.Nil(t, m.LastHealthCheck())
}

func TestBaseModuleShutdownFailure(t *testing.T) {
	m := newJournalModule(t, "billing", nil, nil)
	require.NoError(t, m.Initialize(context.Background()))
	m.downErr = errors.New("still draining")

	err := m.Shutdown(context.Background())
	require.Error(t, err)

	var coreErr *Error
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, "MODULE_SHUTDOWN_FAILED", coreErr.Code)
	assert.Equal(t, StatusError, m.Status())
}

func TestBaseModuleSetConfigRejectsNonMap(t *testing.T) {
	base, err := NewBaseModule("billing", nil, nil, NoopLogger{})
	require.NoError(t, err)

	err = base.SetConfig("not a map")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfigType)

	require.NoError(t, base.SetConfig(map[string]any{"rate": 2}))
	assert.Equal(t, 2, base.Config()["rate"])
}
