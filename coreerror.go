package appfabric

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"
	"time"
)

// Kind tags one of the eight error specializations in the taxonomy.
// Handler registration in the ErrorSystem keys on this tag.
type Kind string

const (
	KindCore       Kind = "CoreError"
	KindAccess     Kind = "AccessError"
	KindAuth       Kind = "AuthError"
	KindConfig     Kind = "ConfigError"
	KindModule     Kind = "ModuleError"
	KindNetwork    Kind = "NetworkError"
	KindService    Kind = "ServiceError"
	KindValidation Kind = "ValidationError"
)

// kindInfo holds the per-kind code prefix and default HTTP-like status.
type kindInfo struct {
	prefix string
	status int
}

var kindTable = map[Kind]kindInfo{
	KindCore:       {prefix: "CORE", status: 500},
	KindAccess:     {prefix: "ACCESS", status: 403},
	KindAuth:       {prefix: "AUTH", status: 401},
	KindConfig:     {prefix: "CONFIG", status: 500},
	KindModule:     {prefix: "MODULE", status: 500},
	KindNetwork:    {prefix: "NETWORK", status: 503},
	KindService:    {prefix: "SERVICE", status: 503},
	KindValidation: {prefix: "VALIDATION", status: 400},
}

// KnownKind reports whether name is one of the taxonomy kinds.
func KnownKind(name string) bool {
	_, ok := kindTable[Kind(name)]
	return ok
}

// ValidationIssue describes one field-level validation failure carried by
// a validation error.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the common failure currency at every kernel boundary.
// It carries a stable prefixed code, an HTTP-like status hint, structured
// JSON-safe details and an optional cause chain. Construction never
// fails: unserializable details degrade to a stub instead of panicking.
type Error struct {
	kind             Kind
	Code             string
	Message          string
	Details          map[string]any
	Timestamp        time.Time
	Cause            error
	StatusCode       int
	Stack            string
	ValidationErrors []ValidationIssue
}

// ErrorOption customizes error construction.
type ErrorOption func(*Error)

// WithCause attaches the underlying cause to the error.
func WithCause(cause error) ErrorOption {
	return func(e *Error) { e.Cause = cause }
}

// WithStatusCode overrides the kind-specific default status code.
func WithStatusCode(status int) ErrorOption {
	return func(e *Error) { e.StatusCode = status }
}

// NewErrorOfKind constructs a taxonomy error of the given kind. Unknown
// kinds degrade to KindCore. The supplied code is prefixed with the kind
// prefix, details are sanitized to be JSON-safe, the timestamp and stack
// are captured at construction.
func NewErrorOfKind(kind Kind, code, message string, details map[string]any, opts ...ErrorOption) *Error {
	info, ok := kindTable[kind]
	if !ok {
		kind = KindCore
		info = kindTable[KindCore]
	}

	e := &Error{
		kind:       kind,
		Code:       info.prefix + "_" + code,
		Message:    message,
		Details:    sanitizeDetails(details),
		Timestamp:  time.Now().UTC(),
		StatusCode: info.status,
		Stack:      string(debug.Stack()),
	}

	if kind == KindValidation {
		e.ValidationErrors = extractValidationIssues(e.Details)
	}
	if kind == KindNetwork {
		if status, ok := detailStatusCode(e.Details); ok {
			e.StatusCode = status
		}
	}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewError constructs a base (KindCore) error.
func NewError(code, message string, details map[string]any, opts ...ErrorOption) *Error {
	return NewErrorOfKind(KindCore, code, message, details, opts...)
}

// NewAccessError constructs an authorization failure (status 403).
func NewAccessError(code, message string, details map[string]any, opts ...ErrorOption) *Error {
	return NewErrorOfKind(KindAccess, code, message, details, opts...)
}

// NewAuthError constructs an authentication failure (status 401).
func NewAuthError(code, message string, details map[string]any, opts ...ErrorOption) *Error {
	return NewErrorOfKind(KindAuth, code, message, details, opts...)
}

// NewConfigError constructs a configuration failure (status 500).
func NewConfigError(code, message string, details map[string]any, opts ...ErrorOption) *Error {
	return NewErrorOfKind(KindConfig, code, message, details, opts...)
}

// NewModuleError constructs a module lifecycle failure (status 500).
func NewModuleError(code, message string, details map[string]any, opts ...ErrorOption) *Error {
	return NewErrorOfKind(KindModule, code, message, details, opts...)
}

// NewNetworkError constructs a transient network failure. The status
// defaults to 503 unless details carries a "statusCode" entry.
func NewNetworkError(code, message string, details map[string]any, opts ...ErrorOption) *Error {
	return NewErrorOfKind(KindNetwork, code, message, details, opts...)
}

// NewServiceError constructs a service availability failure (status 503).
func NewServiceError(code, message string, details map[string]any, opts ...ErrorOption) *Error {
	return NewErrorOfKind(KindService, code, message, details, opts...)
}

// NewValidationError constructs a caller-input failure (status 400). The
// validationErrors entry of details, when it is a list, is mirrored into
// ValidationErrors; any other shape degrades to an empty list.
func NewValidationError(code, message string, details map[string]any, opts ...ErrorOption) *Error {
	return NewErrorOfKind(KindValidation, code, message, details, opts...)
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause chain for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Kind returns the taxonomy tag.
func (e *Error) Kind() Kind {
	return e.kind
}

// Name returns the specialization tag as a string, e.g. "ValidationError".
func (e *Error) Name() string {
	return string(e.kind)
}

// AsError normalizes any error into a taxonomy error. Existing *Error
// values pass through untouched; plain errors are wrapped into the given
// kind with the supplied code, the raw error as cause and its message in
// details.originalError.
func AsError(err error, kind Kind, code string) *Error {
	if err == nil {
		return nil
	}
	if coreErr, ok := err.(*Error); ok {
		return coreErr
	}
	return NewErrorOfKind(kind, code, err.Error(), map[string]any{
		"originalError": err.Error(),
	}, WithCause(err))
}

// sanitizeDetails guarantees the details payload serializes to JSON.
// Unserializable trees are replaced by a stub rather than failing
// construction.
func sanitizeDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	if _, err := json.Marshal(details); err != nil {
		return map[string]any{
			"error":       "details could not be serialized",
			"safeDetails": fmt.Sprintf("%v", details),
		}
	}
	return details
}

// extractValidationIssues pulls validationErrors from details, accepting
// the typed slice or generic decoded forms. Non-list values yield an
// empty slice.
func extractValidationIssues(details map[string]any) []ValidationIssue {
	if details == nil {
		return []ValidationIssue{}
	}
	switch v := details["validationErrors"].(type) {
	case []ValidationIssue:
		return v
	case []any:
		issues := make([]ValidationIssue, 0, len(v))
		for _, item := range v {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			issue := ValidationIssue{}
			if f, ok := entry["field"].(string); ok {
				issue.Field = f
			}
			if m, ok := entry["message"].(string); ok {
				issue.Message = m
			}
			issues = append(issues, issue)
		}
		return issues
	case []map[string]any:
		issues := make([]ValidationIssue, 0, len(v))
		for _, entry := range v {
			issue := ValidationIssue{}
			if f, ok := entry["field"].(string); ok {
				issue.Field = f
			}
			if m, ok := entry["message"].(string); ok {
				issue.Message = m
			}
			issues = append(issues, issue)
		}
		return issues
	default:
		return []ValidationIssue{}
	}
}

// detailStatusCode reads a numeric statusCode entry out of details.
func detailStatusCode(details map[string]any) (int, bool) {
	if details == nil {
		return 0, false
	}
	switch v := details["statusCode"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// devEnvironment reports whether the process runs in a development or
// test environment, which controls stack and raw-cause exposure in
// serialized errors.
func devEnvironment() bool {
	env := os.Getenv("APP_ENV")
	return env == "development" || env == "test"
}
