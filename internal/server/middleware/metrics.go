package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/exchangelink/exchangelink/internal/observability"
)

// statusRecorder remembers the status and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.size += int64(n)
	return n, err
}

// getEndpointPattern prefers the chi route pattern so exchange names do not
// inflate label cardinality.
func getEndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	switch path := r.URL.Path; {
	case strings.HasPrefix(path, "/health"):
		return "/health/*"
	case strings.HasPrefix(path, "/v1/exchanges"):
		return "/v1/exchanges/*"
	case path == "/version", path == "/metrics", path == "/":
		return path
	default:
		return "/unknown"
	}
}

// exchangeLabel is the {name} route parameter, or "-" outside exchange routes.
// Unregistered names answer 404 and are folded into "unknown".
func exchangeLabel(r *http.Request, status int) string {
	name := chi.URLParam(r, "name")
	switch {
	case name == "":
		return "-"
	case status == http.StatusNotFound:
		return "unknown"
	default:
		return strings.ToLower(name)
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	default:
		return "ok"
	}
}

// RequestMetrics records http_requests_total, http_request_duration_ms and
// http_errors_total per route and exchange, then logs the request.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(started)

		endpoint := getEndpointPattern(r)
		labels := map[string]string{
			"method":   r.Method,
			"endpoint": endpoint,
			"exchange": exchangeLabel(r, rec.status),
			"status":   strconv.Itoa(rec.status),
		}

		if sys := observability.TelemetrySystem; sys != nil {
			_ = sys.Counter("http_requests_total", 1, labels)
			_ = sys.Histogram("http_request_duration_ms", elapsed, labels)
			if class := statusClass(rec.status); class != "ok" {
				errLabels := map[string]string{"error_type": class}
				for k, v := range labels {
					errLabels[k] = v
				}
				_ = sys.Counter("http_errors_total", 1, errLabels)
			}
		}

		if logger := observability.ServerLogger; logger != nil {
			logger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("endpoint", endpoint),
				zap.String("exchange", labels["exchange"]),
				zap.Int("status", rec.status),
				zap.Duration("duration", elapsed),
				zap.Int64("response_size", rec.size),
				zap.String("request_id", GetRequestID(r.Context())))
		}
	})
}
