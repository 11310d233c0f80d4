package appfabric

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTPIntegration(t *testing.T) (*HTTPIntegration, *ErrorSystem) {
	t.Helper()
	errorSystem := NewErrorSystem(NoopLogger{})
	require.NoError(t, errorSystem.Initialize(context.Background()))
	return NewHTTPIntegration(errorSystem, NoopLogger{}), errorSystem
}

func decodeErrorEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	envelope, ok := body["error"].(map[string]any)
	require.True(t, ok)
	return envelope
}

func TestHTTPIntegrationMapError(t *testing.T) {
	integ, _ := newTestHTTPIntegration(t)

	original := NewAuthError("TOKEN_EXPIRED", "expired", nil)
	assert.Same(t, original, integ.MapError(original))

	mapped := integ.MapError(errors.New("connection reset"))
	assert.Equal(t, "NETWORK_REQUEST_FAILED", mapped.Code)
	assert.Equal(t, "connection reset", mapped.Details["originalError"])
}

func TestHTTPIntegrationWriteErrorStatus(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	integ, errorSystem := newTestHTTPIntegration(t)

	req := httptest.NewRequest(http.MethodGet, "/users/7", nil)
	rec := httptest.NewRecorder()
	integ.WriteError(rec, req, NewValidationError("BAD_INPUT", "id must be numeric", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	envelope := decodeErrorEnvelope(t, rec)
	assert.Equal(t, "ValidationError", envelope["name"])
	assert.Equal(t, "VALIDATION_BAD_INPUT", envelope["code"])
	assert.NotContains(t, envelope, "stack")

	request, ok := envelope["request"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/users/7", request["path"])

	// The error was also reported through the error system.
	assert.NotEmpty(t, errorSystem.Errors())
}

func TestHTTPIntegrationSerializeErrorDevIncludesStack(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	integ, _ := newTestHTTPIntegration(t)

	payload := integ.SerializeError(NewError("FAILURE", "boom", nil), nil)
	assert.Contains(t, payload, "stack")
	assert.NotContains(t, payload, "request")
}

func TestHTTPIntegrationNotFoundRoute(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	integ, _ := newTestHTTPIntegration(t)

	router := chi.NewRouter()
	integ.Attach(router)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/no/such/route")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	envelope, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "NetworkError", envelope["name"])
	assert.Equal(t, "NETWORK_ROUTE_NOT_FOUND", envelope["code"])

	request, ok := envelope["request"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, request["requestId"])

	// Known routes are untouched.
	ok200, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	ok200.Body.Close()
	assert.Equal(t, http.StatusOK, ok200.StatusCode)
}

func TestHTTPIntegrationRegisteredWithErrorSystem(t *testing.T) {
	integ, errorSystem := newTestHTTPIntegration(t)
	require.NoError(t, errorSystem.RegisterIntegration(integ))

	got, ok := errorSystem.Integration("http")
	require.True(t, ok)
	assert.Same(t, Integration(integ), got)
}
