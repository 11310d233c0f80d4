package appfabric

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindPrefixesAndStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    *Error
		kind   Kind
		code   string
		status int
	}{
		{"core", NewError("FAILURE", "boom", nil), KindCore, "CORE_FAILURE", 500},
		{"access", NewAccessError("DENIED", "no", nil), KindAccess, "ACCESS_DENIED", 403},
		{"auth", NewAuthError("TOKEN_EXPIRED", "expired", nil), KindAuth, "AUTH_TOKEN_EXPIRED", 401},
		{"config", NewConfigError("MISSING_KEY", "missing", nil), KindConfig, "CONFIG_MISSING_KEY", 500},
		{"module", NewModuleError("INIT", "failed", nil), KindModule, "MODULE_INIT", 500},
		{"network", NewNetworkError("TIMEOUT", "timeout", nil), KindNetwork, "NETWORK_TIMEOUT", 503},
		{"service", NewServiceError("UNAVAILABLE", "down", nil), KindService, "SERVICE_UNAVAILABLE", 503},
		{"validation", NewValidationError("BAD_INPUT", "bad", nil), KindValidation, "VALIDATION_BAD_INPUT", 400},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, tc.err.Kind())
			assert.Equal(t, tc.code, tc.err.Code)
			assert.Equal(t, tc.status, tc.err.StatusCode)
			assert.False(t, tc.err.Timestamp.IsZero())
			assert.NotEmpty(t, tc.err.Stack)
		})
	}
}

func TestErrorUnknownKindDegradesToCore(t *testing.T) {
	err := NewErrorOfKind(Kind("MysteryError"), "X", "weird", nil)
	assert.Equal(t, KindCore, err.Kind())
	assert.Equal(t, "CORE_X", err.Code)
	assert.Equal(t, 500, err.StatusCode)
}

func TestNetworkErrorStatusFromDetails(t *testing.T) {
	err := NewNetworkError("ROUTE_NOT_FOUND", "nope", map[string]any{"statusCode": 404})
	assert.Equal(t, 404, err.StatusCode)

	err = NewNetworkError("ROUTE_NOT_FOUND", "nope", map[string]any{"statusCode": float64(404)})
	assert.Equal(t, 404, err.StatusCode)
}

func TestErrorCauseChain(t *testing.T) {
	cause := errors.New("disk full")
	err := NewServiceError("WRITE_FAILED", "cannot write", nil, WithCause(cause))
	assert.ErrorIs(t, err, cause)

	var coreErr *Error
	wrapped := fmt.Errorf("outer: %w", err)
	require.True(t, errors.As(wrapped, &coreErr))
	assert.Equal(t, "SERVICE_WRITE_FAILED", coreErr.Code)
}

func TestSanitizeDetailsDegradesToStub(t *testing.T) {
	err := NewError("FAILURE", "boom", map[string]any{"fn": func() {}})
	require.NotNil(t, err.Details)
	assert.Equal(t, "details could not be serialized", err.Details["error"])
	assert.Contains(t, err.Details, "safeDetails")

	// The degraded error must still serialize.
	_, marshalErr := json.Marshal(err)
	assert.NoError(t, marshalErr)
}

func TestValidationErrorsExtraction(t *testing.T) {
	err := NewValidationError("BAD_INPUT", "bad", map[string]any{
		"validationErrors": []ValidationIssue{{Field: "email", Message: "required"}},
	})
	require.Len(t, err.ValidationErrors, 1)
	assert.Equal(t, "email", err.ValidationErrors[0].Field)

	err = NewValidationError("BAD_INPUT", "bad", map[string]any{
		"validationErrors": []any{map[string]any{"field": "name", "message": "too short"}},
	})
	require.Len(t, err.ValidationErrors, 1)
	assert.Equal(t, "name", err.ValidationErrors[0].Field)

	// A non-list value degrades to an empty list rather than failing.
	err = NewValidationError("BAD_INPUT", "bad", map[string]any{"validationErrors": "oops"})
	assert.NotNil(t, err.ValidationErrors)
	assert.Empty(t, err.ValidationErrors)
}

func TestAsErrorPassthroughAndWrap(t *testing.T) {
	original := NewAuthError("TOKEN_EXPIRED", "expired", nil)
	assert.Same(t, original, AsError(original, KindCore, "UNHANDLED"))

	plain := errors.New("socket closed")
	wrapped := AsError(plain, KindNetwork, "CONNECTION_LOST")
	assert.Equal(t, "NETWORK_CONNECTION_LOST", wrapped.Code)
	assert.Equal(t, "socket closed", wrapped.Details["originalError"])
	assert.ErrorIs(t, wrapped, plain)

	assert.Nil(t, AsError(nil, KindCore, "UNHANDLED"))
}

func TestToJSONProductionOmitsStacksButKeepsCause(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	err := NewServiceError("DOWN", "down", map[string]any{"region": "eu"},
		WithCause(errors.New("tcp reset")))
	payload := err.ToJSON()

	assert.Equal(t, "ServiceError", payload["name"])
	assert.Equal(t, "SERVICE_DOWN", payload["code"])
	assert.Equal(t, "down", payload["message"])
	assert.NotContains(t, payload, "stack")

	// Causes stay serialized outside development; only stacks are gated.
	cause, ok := payload["cause"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tcp reset", cause["message"])
	assert.Equal(t, "Error", cause["name"])
	assert.NotContains(t, cause, "stack")
}

func TestToJSONDevelopmentIncludesStackAndCause(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	err := NewServiceError("DOWN", "down", nil, WithCause(NewError("INNER", "inner", nil)))
	payload := err.ToJSON()

	assert.Contains(t, payload, "stack")
	cause, ok := payload["cause"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "CoreError", cause["name"])
	assert.Equal(t, "CORE_INNER: inner", cause["message"])
}

func TestErrorJSONRoundTrip(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	original := NewValidationError("BAD_INPUT", "field missing", map[string]any{
		"validationErrors": []any{map[string]any{"field": "email", "message": "required"}},
	})

	raw, err := json.Marshal(original)
	require.NoError(t, err)

	restored, err := ErrorFromJSON(raw)
	require.NoError(t, err)

	assert.Equal(t, original.Kind(), restored.Kind())
	assert.Equal(t, original.Code, restored.Code)
	assert.Equal(t, original.Message, restored.Message)
	assert.Equal(t, original.StatusCode, restored.StatusCode)
	assert.WithinDuration(t, original.Timestamp, restored.Timestamp, time.Millisecond)
	require.Len(t, restored.ValidationErrors, 1)
	assert.Equal(t, "email", restored.ValidationErrors[0].Field)
}

func TestErrorFromJSONUnknownNameFallsBackToCore(t *testing.T) {
	restored, err := ErrorFromJSON([]byte(`{"name":"ExoticError","code":"EXOTIC_THING","message":"odd"}`))
	require.NoError(t, err)
	assert.Equal(t, KindCore, restored.Kind())
	assert.Equal(t, "EXOTIC_THING", restored.Code)
	assert.Equal(t, 500, restored.StatusCode)
}
