package metrics

import (
	"strconv"

	"github.com/exchangelink/exchangelink/internal/observability"
)

// Admin surface metric names
const (
	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
)

// RecordError records an admin API error with its envelope code and status.
func RecordError(errorCode string, httpStatus int) {
	counter(ErrorsTotalName, map[string]string{
		"error_code":  errorCode,
		"http_status": strconv.Itoa(httpStatus),
	})
}

// RecordPanic records a panic recovery
func RecordPanic() {
	counter(PanicsTotalName, nil)
}

// RecordErrorByEndpoint records an error by route pattern.
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	counter(ErrorsByEndpointName, map[string]string{
		"endpoint":   endpoint,
		"error_code": errorCode,
	})
}

func counter(name string, tags map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(name, 1, tags)
	}
}
