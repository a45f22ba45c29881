package exchange

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/exchangelink/exchangelink/internal/resilience"
)

const maxLoggedPayload = 2048

// UnmappedRecorder persists unmapped vendor errors for later mapping.
type UnmappedRecorder interface {
	RecordUnmapped(ctx context.Context, rec UnmappedError) error
}

// UnmappedError is one occurrence of a vendor error with no code mapping.
type UnmappedError struct {
	Vendor     string
	Code       string
	StatusCode int
	Message    string
	Payload    []byte
	SeenAt     time.Time
}

// UnmappedReporter logs unmapped vendor errors with their payload and
// forwards them to an optional recorder.
type UnmappedReporter struct {
	Logger   *logging.Logger
	Recorder UnmappedRecorder
	Timeout  time.Duration
}

// ReportUnmapped implements resilience.UnmappedSink.
func (r *UnmappedReporter) ReportUnmapped(e *resilience.Error) {
	if r == nil || e == nil {
		return
	}
	payload := e.Payload
	if len(payload) > maxLoggedPayload {
		payload = payload[:maxLoggedPayload]
	}
	if r.Logger != nil {
		r.Logger.Warn("Unmapped vendor error",
			zap.String("vendor", e.Vendor),
			zap.String("code", e.Code),
			zap.Int("status", e.StatusCode),
			zap.String("message", e.Message),
			zap.ByteString("payload", payload))
	}
	if r.Recorder == nil {
		return
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := r.Recorder.RecordUnmapped(ctx, UnmappedError{
		Vendor:     e.Vendor,
		Code:       e.Code,
		StatusCode: e.StatusCode,
		Message:    e.Message,
		Payload:    e.Payload,
		SeenAt:     time.Now().UTC(),
	})
	if err != nil && r.Logger != nil {
		r.Logger.Warn("Failed to record unmapped vendor error",
			zap.String("vendor", e.Vendor),
			zap.String("code", e.Code),
			zap.Error(err))
	}
}
