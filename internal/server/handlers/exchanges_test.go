package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exchangelink/exchangelink/internal/exchange"
	"github.com/exchangelink/exchangelink/internal/resilience"
	"github.com/exchangelink/exchangelink/internal/transport"
)

const adminProfile = `
name: acme
base_url: https://api.acme.test
resources:
  weight:
    capacity: 10
    window: 1m
  orders:
    capacity: 2
    window: 1s
policies:
  read:
    max_attempts: 1
`

func newAdminRouter(t *testing.T) (http.Handler, *exchange.Client, *atomic.Int32) {
	t.Helper()

	settings, err := exchange.LoadSettings([]byte(adminProfile))
	require.NoError(t, err)

	probes := &atomic.Int32{}
	client, err := exchange.NewClient(settings, exchange.Options{
		Sender: transport.SenderFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			return &transport.Response{StatusCode: http.StatusOK, Body: []byte(`{}`)}, nil
		}),
		ServerTime: func(ctx context.Context, c *exchange.Client) (time.Time, error) {
			probes.Add(1)
			return time.Now().Add(3 * time.Second), nil
		},
	})
	require.NoError(t, err)

	registry := exchange.NewRegistry()
	require.NoError(t, registry.Register(client))

	h := &ExchangeHandler{Registry: registry}
	r := chi.NewRouter()
	r.Get("/v1/exchanges", h.List)
	r.Get("/v1/exchanges/{name}/limits", h.Limits)
	r.Post("/v1/exchanges/{name}/limits/reset", h.ResetLimits)
	r.Get("/v1/exchanges/{name}/clock", h.Clock)
	r.Post("/v1/exchanges/{name}/clock/invalidate", h.InvalidateClock)
	return r, client, probes
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestExchangeListAndLimits(t *testing.T) {
	router, client, _ := newAdminRouter(t)

	rec := serve(router, http.MethodGet, "/v1/exchanges")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []ExchangeSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "acme", list[0].Name)
	assert.Equal(t, []string{"orders", "weight"}, list[0].Resources)

	_, err := client.Execute(context.Background(),
		resilience.Call{Name: "ping", Resource: "weight", Weight: 4, Policy: "read"},
		func(ctx context.Context) (*transport.Request, error) {
			return &transport.Request{Method: http.MethodGet, Path: "/ping"}, nil
		})
	require.NoError(t, err)

	rec = serve(router, http.MethodGet, "/v1/exchanges/acme/limits")
	require.Equal(t, http.StatusOK, rec.Code)
	var limits LimitsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &limits))
	available := map[string]int{}
	for _, b := range limits.Budgets {
		available[b.Resource] = b.Available
	}
	assert.Equal(t, 6, available["weight"])
	assert.Equal(t, 2, available["orders"])
}

func TestExchangeResetLimits(t *testing.T) {
	router, client, _ := newAdminRouter(t)

	_, err := client.Execute(context.Background(),
		resilience.Call{Name: "ping", Resource: "weight", Weight: 10, Policy: "read"},
		func(ctx context.Context) (*transport.Request, error) {
			return &transport.Request{Method: http.MethodGet, Path: "/ping"}, nil
		})
	require.NoError(t, err)

	rec := serve(router, http.MethodPost, "/v1/exchanges/acme/limits/reset?resource=weight")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ResetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Reset)
	for _, b := range resp.Budgets {
		assert.Equal(t, b.Capacity, b.Available, b.Resource)
	}

	rec = serve(router, http.MethodPost, "/v1/exchanges/acme/limits/reset?resource=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, http.MethodGet, "/v1/exchanges/kraken/limits")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExchangeClockProbeAndInvalidate(t *testing.T) {
	router, _, probes := newAdminRouter(t)

	rec := serve(router, http.MethodGet, "/v1/exchanges/acme/clock")
	require.Equal(t, http.StatusOK, rec.Code)
	var state exchange.ClockState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.False(t, state.Sampled)
	assert.Zero(t, probes.Load())

	rec = serve(router, http.MethodGet, "/v1/exchanges/acme/clock?probe=true")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.Sampled)
	assert.InDelta(t, 3000, state.OffsetMS, 500)
	assert.EqualValues(t, 1, probes.Load())

	rec = serve(router, http.MethodPost, "/v1/exchanges/acme/clock/invalidate")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.Invalidated)

	serve(router, http.MethodGet, "/v1/exchanges/acme/clock?probe=1")
	assert.EqualValues(t, 2, probes.Load())
}
