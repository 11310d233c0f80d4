package appfabric

import (
	"sync"
	"time"
)

// Status represents the lifecycle state shared by modules and kernel
// systems (container, event bus system, supervisor).
//
// The machine is created -> initializing -> running -> shutting_down ->
// shutdown, with error reachable from every transitional state. Once a
// holder reaches error no further lifecycle method succeeds; a fresh
// instance must be created.
type Status int

const (
	// StatusCreated is the initial state before Initialize is called.
	StatusCreated Status = iota

	// StatusInitializing is the transient state while Initialize runs.
	StatusInitializing

	// StatusRunning indicates a successful Initialize.
	StatusRunning

	// StatusShuttingDown is the transient state while Shutdown runs.
	StatusShuttingDown

	// StatusShutdown indicates a completed Shutdown.
	StatusShutdown

	// StatusError indicates a failed lifecycle transition.
	StatusError
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusInitializing:
		return "initializing"
	case StatusRunning:
		return "running"
	case StatusShuttingDown:
		return "shutting_down"
	case StatusShutdown:
		return "shutdown"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// maxErrorRecords caps the per-owner error ring.
const maxErrorRecords = 100

// ErrorRecord is one entry in a component's bounded error ring.
type ErrorRecord struct {
	// Err is the normalized taxonomy error.
	Err *Error `json:"error"`

	// Source names the component that captured the record.
	Source string `json:"source,omitempty"`

	// Context carries operation-specific details supplied at capture time.
	Context map[string]any `json:"context,omitempty"`

	// Timestamp is when the record was captured.
	Timestamp time.Time `json:"timestamp"`
}

// errorRing is a bounded, mutex-guarded ring of recent error records.
// Appending beyond the cap drops the oldest entries.
type errorRing struct {
	mu      sync.Mutex
	records []ErrorRecord
	cap     int
}

func newErrorRing(cap int) *errorRing {
	if cap <= 0 {
		cap = maxErrorRecords
	}
	return &errorRing{cap: cap}
}

func (r *errorRing) append(rec ErrorRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	r.records = append(r.records, rec)
	if len(r.records) > r.cap {
		r.records = r.records[len(r.records)-r.cap:]
	}
}

func (r *errorRing) snapshot() []ErrorRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ErrorRecord, len(r.records))
	copy(out, r.records)
	return out
}

func (r *errorRing) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *errorRing) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}
