package appfabric

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RequestContext carries the request facts an integration may fold into
// a serialized error envelope.
type RequestContext struct {
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	RemoteIP  string `json:"remoteIp,omitempty"`
}

// RequestContextFromHTTP extracts a RequestContext from an incoming
// request, picking up the chi middleware request id when present.
func RequestContextFromHTTP(r *http.Request) *RequestContext {
	return &RequestContext{
		Method:    r.Method,
		Path:      r.URL.Path,
		RequestID: middleware.GetReqID(r.Context()),
		RemoteIP:  r.RemoteAddr,
	}
}

// HTTPIntegration adapts the error system to chi-based HTTP services:
// it maps transport failures into taxonomy errors and writes uniform
// JSON error envelopes.
type HTTPIntegration struct {
	errorSystem *ErrorSystem
	logger      Logger
}

// NewHTTPIntegration builds the chi adapter over an error system.
func NewHTTPIntegration(errorSystem *ErrorSystem, logger Logger) *HTTPIntegration {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &HTTPIntegration{errorSystem: errorSystem, logger: logger}
}

// Name implements Integration.
func (h *HTTPIntegration) Name() string { return "http" }

// MapError normalizes any failure into a taxonomy error. Taxonomy
// errors pass through untouched.
func (h *HTTPIntegration) MapError(err error) *Error {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr
	}
	return NewNetworkError("REQUEST_FAILED", err.Error(),
		map[string]any{"originalError": err.Error()}, WithCause(err))
}

// SerializeError produces the transport envelope for an error. Request
// facts are attached when available; cause details and stack traces
// appear only in development environments.
func (h *HTTPIntegration) SerializeError(err *Error, reqCtx *RequestContext) map[string]any {
	payload := err.ToJSON()
	if reqCtx != nil {
		payload["request"] = reqCtx
	}
	return payload
}

// WriteError reports the error through the error system and writes the
// serialized envelope with the error's HTTP status.
func (h *HTTPIntegration) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	coreErr := h.MapError(err)
	if h.errorSystem != nil {
		if handleErr := h.errorSystem.HandleError(r.Context(), coreErr, map[string]any{
			"integration": h.Name(),
			"path":        r.URL.Path,
		}); handleErr != nil {
			h.logger.Error("Error system failed while handling request error",
				"path", r.URL.Path, "error", handleErr)
		}
	}

	envelope := h.SerializeError(coreErr, RequestContextFromHTTP(r))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(coreErr.StatusCode)
	if encodeErr := json.NewEncoder(w).Encode(map[string]any{"error": envelope}); encodeErr != nil {
		h.logger.Error("Failed to encode error envelope", "path", r.URL.Path, "error", encodeErr)
	}
}

// Attach installs the integration's middleware and handlers on a chi
// router: request ids, timing and a NotFound handler that answers with
// a NETWORK_ROUTE_NOT_FOUND envelope.
func (h *HTTPIntegration) Attach(router chi.Router) {
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.WriteError(w, r, NewNetworkError("ROUTE_NOT_FOUND",
			"route not found",
			map[string]any{
				"method":     r.Method,
				"path":       r.URL.Path,
				"statusCode": http.StatusNotFound,
				"timestamp":  time.Now().UTC().Format(time.RFC3339),
			}))
	})
}
