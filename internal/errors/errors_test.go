package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exchangelink/exchangelink/internal/resilience"
)

func TestFromResilienceStatusMapping(t *testing.T) {
	cases := []struct {
		kind   resilience.Kind
		code   string
		status int
	}{
		{resilience.KindRateLimited, CodeRateLimited, http.StatusTooManyRequests},
		{resilience.KindTransientNetwork, CodeExternalService, http.StatusBadGateway},
		{resilience.KindAuthenticationFailed, CodeUnauthorized, http.StatusUnauthorized},
		{resilience.KindInvalidRequest, CodeInvalidInput, http.StatusBadRequest},
		{resilience.KindOrderRejected, CodeOrderRejected, http.StatusUnprocessableEntity},
		{resilience.KindUnknown, CodeExternalService, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			env := FromResilience(context.Background(), &resilience.Error{Kind: tc.kind, Vendor: "binance", Code: "-1"})
			require.Equal(t, tc.code, env.Code)
			require.Equal(t, tc.status, HTTPStatusFromCode(env.Code))
			require.NotEmpty(t, env.CorrelationID)
		})
	}

	env := FromResilience(context.Background(), &resilience.Error{Kind: resilience.KindTransientNetwork, Code: "canceled"})
	require.Equal(t, CodeTimeout, env.Code)
}

func TestRespondWithResilienceError(t *testing.T) {
	err := fmt.Errorf("limits: %w", &resilience.Error{
		Kind:       resilience.KindRateLimited,
		Vendor:     "binance",
		Code:       "acquire_wait_exceeded",
		RetryAfter: 1500 * time.Millisecond,
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/exchanges/binance/limits", nil)
	RespondWithError(rec, req, err)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeRateLimited, body.Error.Code)
	assert.Equal(t, "acquire_wait_exceeded", body.Error.Details["vendor_code"])
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestEnsureEnvelope(t *testing.T) {
	env := EnsureEnvelope(context.Background(), fmt.Errorf("boom"))
	require.Equal(t, CodeInternal, env.Code)
	require.Equal(t, http.StatusInternalServerError, HTTPStatusFromCode(env.Code))

	original := NewNotFoundError("exchange not found")
	require.Same(t, original, EnsureEnvelope(context.Background(), original))

	require.Equal(t, CodeInternal, EnsureEnvelope(context.Background(), nil).Code)
}
