package appfabric

import (
	"encoding/json"
	"time"
)

// causeError is the rehydrated form of a serialized cause. It preserves
// the original name and message without the full taxonomy payload.
type causeError struct {
	name    string
	message string
}

func (c *causeError) Error() string { return c.message }

// causeName resolves the serializable name of a cause. Taxonomy errors
// report their kind; rehydrated causes keep their stored name; anything
// else, including a blank name, normalizes to "Error".
func causeName(err error) string {
	switch c := err.(type) {
	case *Error:
		return c.Name()
	case *causeError:
		if c.name == "" {
			return "Error"
		}
		return c.name
	default:
		return "Error"
	}
}

// ToJSON returns the transport form of the error: name, code, message,
// details and timestamp always; validationErrors for validation errors;
// cause as {message, name}; stack (and the cause stack) only in
// development or test environments.
func (e *Error) ToJSON() map[string]any {
	out := map[string]any{
		"name":      e.Name(),
		"code":      e.Code,
		"message":   e.Message,
		"details":   e.Details,
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
	}

	if e.kind == KindValidation {
		issues := e.ValidationErrors
		if issues == nil {
			issues = []ValidationIssue{}
		}
		out["validationErrors"] = issues
	}

	if e.Cause != nil {
		cause := map[string]any{
			"message": e.Cause.Error(),
			"name":    causeName(e.Cause),
		}
		if devEnvironment() {
			if coreCause, ok := e.Cause.(*Error); ok && coreCause.Stack != "" {
				cause["stack"] = coreCause.Stack
			}
		}
		out["cause"] = cause
	}

	if devEnvironment() && e.Stack != "" {
		out["stack"] = e.Stack
	}

	return out
}

// MarshalJSON serializes the transport form.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

// errorEnvelope is the wire shadow used when decoding.
type errorEnvelope struct {
	Name             string            `json:"name"`
	Code             string            `json:"code"`
	Message          string            `json:"message"`
	Details          map[string]any    `json:"details"`
	Timestamp        string            `json:"timestamp"`
	ValidationErrors []ValidationIssue `json:"validationErrors"`
	Cause            *struct {
		Message string `json:"message"`
		Name    string `json:"name"`
	} `json:"cause"`
	Stack string `json:"stack"`
}

// ErrorFromJSON reconstructs a taxonomy error from its transport form.
// The specialization is selected by name, falling back to the base kind
// when the name is unknown. The code is taken verbatim (it is already
// prefixed), and the serialized timestamp is preserved.
func ErrorFromJSON(data []byte) (*Error, error) {
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return errorFromEnvelope(&env), nil
}

// FromJSONMap reconstructs a taxonomy error from an already-decoded
// transport object, as produced by ToJSON.
func FromJSONMap(obj map[string]any) (*Error, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return ErrorFromJSON(raw)
}

func errorFromEnvelope(env *errorEnvelope) *Error {
	kind := Kind(env.Name)
	info, ok := kindTable[kind]
	if !ok {
		kind = KindCore
		info = kindTable[KindCore]
	}

	e := &Error{
		kind:       kind,
		Code:       env.Code,
		Message:    env.Message,
		Details:    env.Details,
		Timestamp:  time.Now().UTC(),
		StatusCode: info.status,
		Stack:      env.Stack,
	}

	if ts, err := time.Parse(time.RFC3339Nano, env.Timestamp); err == nil {
		e.Timestamp = ts
	}

	if kind == KindValidation {
		if env.ValidationErrors != nil {
			e.ValidationErrors = env.ValidationErrors
		} else {
			e.ValidationErrors = extractValidationIssues(env.Details)
		}
	}
	if kind == KindNetwork {
		if status, ok := detailStatusCode(env.Details); ok {
			e.StatusCode = status
		}
	}

	if env.Cause != nil {
		name := env.Cause.Name
		if name == "" {
			name = "Error"
		}
		e.Cause = &causeError{name: name, message: env.Cause.Message}
	}

	return e
}
