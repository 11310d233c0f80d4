package appfabric

import (
	"context"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToCloudEventPreservesEnvelope(t *testing.T) {
	event := newEvent("user.created", map[string]any{"id": 7}, map[string]any{"module": "auth"})

	ce := ToCloudEvent(event)
	assert.Equal(t, event.ID, ce.ID())
	assert.Equal(t, "user.created", ce.Type())
	assert.Equal(t, cloudEventSource, ce.Source())
	assert.Equal(t, cloudevents.VersionV1, ce.SpecVersion())
	assert.WithinDuration(t, event.Timestamp, ce.Time(), time.Millisecond)
	assert.JSONEq(t, `{"id":7}`, string(ce.Data()))
	assert.Equal(t, "auth", ce.Extensions()["module"])
}

func TestNewCloudEvent(t *testing.T) {
	ce := NewCloudEvent("deploy.finished", "pipeline", map[string]any{"ok": true}, nil)
	assert.NotEmpty(t, ce.ID())
	assert.Equal(t, "deploy.finished", ce.Type())
	assert.Equal(t, "pipeline", ce.Source())
	assert.NoError(t, ce.Validate())
}

func TestAttachObserverReceivesCloudEvents(t *testing.T) {
	bus := newTestBus(t)

	var seen []cloudevents.Event
	observer := NewFunctionalObserver("audit", func(ctx context.Context, event cloudevents.Event) error {
		seen = append(seen, event)
		return nil
	})

	id, err := bus.AttachObserver(observer, "user.created")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = bus.Emit(context.Background(), "user.created", nil)
	require.NoError(t, err)
	_, err = bus.Emit(context.Background(), "order.placed", nil)
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, "user.created", seen[0].Type())
}
