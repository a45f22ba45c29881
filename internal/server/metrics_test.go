package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry/exporters"
	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/exchangelink/exchangelink/internal/errors"
	"github.com/exchangelink/exchangelink/internal/observability"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestMetricsHandlerProxiesExporter(t *testing.T) {
	proxied := stubExporter(t)

	rec := httptest.NewRecorder()
	MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasSuffix(*proxied, "/metrics"), *proxied)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Empty(t, rec.Header().Get("Connection"))
	assert.Contains(t, rec.Body.String(), "exchange_calls_total")
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestMetricsHandlerFamilyFilter(t *testing.T) {
	stubExporter(t)

	rec := httptest.NewRecorder()
	MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics?family=exchange_", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "# TYPE exchangelink_test_exchange_calls_total counter")
	assert.Contains(t, body, `exchange_calls_total{exchange="binance",outcome="success"} 3`)
	assert.NotContains(t, body, "http_requests_total")
}

const exporterPage = `# TYPE exchangelink_test_exchange_calls_total counter
exchangelink_test_exchange_calls_total{exchange="binance",outcome="success"} 3
# TYPE exchangelink_test_http_requests_total counter
exchangelink_test_http_requests_total{endpoint="/version"} 1
`

// stubExporter routes the proxy to a canned exporter page and returns the
// URL it was asked for.
func stubExporter(t *testing.T) *string {
	t.Helper()
	original := metricsProxy
	t.Cleanup(func() { metricsProxy = original })

	var proxied string
	metricsProxy = resty.NewWithClient(&http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			proxied = req.URL.String()
			resp := &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(exporterPage)),
				Header:     http.Header{},
				Request:    req,
			}
			resp.Header.Set("Content-Type", "text/plain; version=0.0.4")
			resp.Header.Set("Connection", "keep-alive")
			return resp, nil
		}),
	})
	observability.PrometheusExporter = exporters.NewPrometheusExporter("exchangelink_test", ":9090")
	t.Cleanup(func() { observability.PrometheusExporter = nil })
	return &proxied
}

func TestMetricsHandlerWithoutExporter(t *testing.T) {
	observability.PrometheusExporter = nil

	rec := httptest.NewRecorder()
	MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "SERVICE_UNAVAILABLE", body.Error.Code)
}
