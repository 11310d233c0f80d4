package appfabric

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience.
type CloudEvent = cloudevents.Event

// cloudEventSource is the source attribute stamped on kernel events
// exported as CloudEvents.
const cloudEventSource = "appfabric"

// NewCloudEvent creates a CloudEvent with the given type, source, data
// and extension metadata.
func NewCloudEvent(eventType, source string, data any, metadata map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(newEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	for key, value := range metadata {
		event.SetExtension(key, value)
	}
	return event
}

// ToCloudEvent converts a bus envelope into a CloudEvent, preserving the
// envelope id, name (as the event type), timestamp and metadata (as
// extensions).
func ToCloudEvent(event Event) cloudevents.Event {
	ce := cloudevents.NewEvent()
	ce.SetID(event.ID)
	ce.SetSource(cloudEventSource)
	ce.SetType(event.Name)
	ce.SetTime(event.Timestamp)
	ce.SetSpecVersion(cloudevents.VersionV1)
	if event.Data != nil {
		_ = ce.SetData(cloudevents.ApplicationJSON, event.Data)
	}
	for key, value := range event.Metadata {
		ce.SetExtension(key, value)
	}
	return ce
}

// Observer receives kernel events in CloudEvents form. Observers attach
// to the bus through AttachObserver and are notified after regular
// subscribers.
type Observer interface {
	// OnEvent is called with each observed event. Observers should
	// return quickly; errors are logged and do not affect dispatch.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for the observer.
	ObserverID() string
}

// FunctionalObserver wraps a function as an Observer.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an Observer from a handler function.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{id: id, handler: handler}
}

// OnEvent implements Observer.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements Observer.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}
