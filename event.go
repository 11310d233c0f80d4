package appfabric

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope carrying a single emission on the bus. Envelopes
// are immutable after emission.
type Event struct {
	// ID is the unique envelope identifier.
	ID string `json:"id"`

	// Name is the dot-segmented event name, e.g. "user.created".
	Name string `json:"name"`

	// Data is the arbitrary emission payload.
	Data any `json:"data"`

	// Timestamp is when the envelope was constructed.
	Timestamp time.Time `json:"timestamp"`

	// Metadata carries contextual data outside the main payload.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EventHandler is invoked with each envelope delivered to a
// subscription. Handlers run synchronously in registration order; a
// returned error is routed to the error system without interrupting
// delivery to the remaining subscribers.
type EventHandler func(ctx context.Context, event Event) error

// EmitOptions adjust a single emission.
type EmitOptions struct {
	// Queue defers delivery: the envelope is appended to the per-name
	// queue instead of being dispatched.
	Queue bool

	// Immediate, combined with Queue, drains the queue synchronously
	// before Emit returns.
	Immediate bool

	// Metadata is attached to the envelope.
	Metadata map[string]any
}

// SubscribeOptions adjust a subscription.
type SubscribeOptions struct {
	// Metadata is retained on the subscription for diagnostics.
	Metadata map[string]any
}

// subscription binds a handler to a literal name, the global wildcard
// "*", or a compiled dot-segment pattern.
type subscription struct {
	id      string
	pattern string
	handler EventHandler
	regex   *regexp.Regexp // non-nil for segment patterns
	options SubscribeOptions
	created time.Time
}

// matches reports whether the subscription wants the named event.
func (s *subscription) matches(name string) bool {
	switch {
	case s.pattern == "*":
		return true
	case s.regex != nil:
		return s.regex.MatchString(name)
	default:
		return s.pattern == name
	}
}

// newEventID generates a UUIDv7 identifier, falling back to v4 when the
// clock source fails.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// newEvent constructs an envelope with a fresh id and timestamp.
func newEvent(name string, data any, metadata map[string]any) Event {
	return Event{
		ID:        newEventID(),
		Name:      name,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// isPattern reports whether the subscription pattern needs the wildcard
// path: either the global "*" or a dot-segmented pattern containing "*".
func isPattern(pattern string) bool {
	return strings.Contains(pattern, "*")
}

// compilePattern turns a dot-segmented pattern such as "user.*" or
// "*.created" into an anchored regexp where each "*" matches exactly one
// segment.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	segments := strings.Split(pattern, ".")
	parts := make([]string, len(segments))
	for i, seg := range segments {
		if seg == "*" {
			parts[i] = `[^.]+`
		} else {
			parts[i] = regexp.QuoteMeta(seg)
		}
	}
	return regexp.Compile(`^` + strings.Join(parts, `\.`) + `$`)
}
