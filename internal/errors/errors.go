// Package errors turns application and resilience errors into gofulmen error
// envelopes and writes them as JSON HTTP responses.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"math"
	"net/http"
	"strconv"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/exchangelink/exchangelink/internal/metrics"
	"github.com/exchangelink/exchangelink/internal/observability"
	"github.com/exchangelink/exchangelink/internal/resilience"
	"github.com/exchangelink/exchangelink/internal/server/middleware"
)

// Envelope codes
const (
	CodeInvalidInput    = "INVALID_INPUT"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeOrderRejected   = "ORDER_REJECTED"
	CodeExternalService = "EXTERNAL_SERVICE_ERROR"
	CodeTimeout         = "TIMEOUT"
	CodeDatabase        = "DATABASE_ERROR"
	CodeInternal        = "INTERNAL_ERROR"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
)

func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInvalidInput, message)
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeNotFound, message)
}

func NewUnavailableError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeUnavailable, message)
}

// Wrap builds an envelope with code and message carrying err and the request
// correlation ID.
func Wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(code, message)
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	return withContext(envelope, map[string]interface{}{"wrapped_error": errText(err)})
}

// FromResilience maps a canonical exchange error onto an envelope. The vendor
// code and retry hint travel in the envelope context.
func FromResilience(ctx context.Context, e *resilience.Error) *errors.ErrorEnvelope {
	code := CodeInternal
	severity := errors.SeverityMedium
	switch e.Kind {
	case resilience.KindRateLimited:
		code = CodeRateLimited
	case resilience.KindTransientNetwork:
		code = CodeExternalService
		if e.Code == "canceled" {
			code = CodeTimeout
		}
	case resilience.KindAuthenticationFailed:
		code = CodeUnauthorized
	case resilience.KindInvalidRequest:
		code = CodeInvalidInput
		severity = ""
	case resilience.KindOrderRejected:
		code = CodeOrderRejected
		severity = ""
	default:
		code = CodeExternalService
		severity = errors.SeverityHigh
	}

	envelope := errors.NewErrorEnvelope(code, e.Error())
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	details := map[string]interface{}{
		"kind":   e.Kind.String(),
		"vendor": e.Vendor,
	}
	if e.Code != "" {
		details["vendor_code"] = e.Code
	}
	if e.StatusCode != 0 {
		details["vendor_status"] = e.StatusCode
	}
	if e.RetryAfter > 0 {
		details["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	if e.Attempts > 0 {
		details["attempts"] = e.Attempts
	}
	envelope = withContext(envelope, details)
	if severity != "" {
		if updated, err := envelope.WithSeverity(severity); err == nil {
			envelope = updated
		}
	}
	return envelope
}

// EnsureEnvelope normalizes any error into a gofulmen ErrorEnvelope.
func EnsureEnvelope(ctx context.Context, err error) *errors.ErrorEnvelope {
	if err == nil {
		env := errors.NewErrorEnvelope(CodeInternal, "unexpected nil error")
		env, _ = env.WithSeverity(errors.SeverityCritical)
		return env
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope
	}
	if re, ok := resilience.AsError(err); ok {
		return FromResilience(ctx, re)
	}

	env := errors.NewErrorEnvelope(CodeInternal, "unexpected error")
	env = withContext(env, map[string]interface{}{"wrapped_error": err.Error()})
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

// EnsureCorrelationID attaches a correlation ID to the envelope using the context when available.
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil || envelope.CorrelationID != "" {
		return envelope
	}
	var correlationID string
	if ctx != nil {
		correlationID = middleware.GetRequestID(ctx)
	}
	if correlationID == "" {
		correlationID = "fallback-" + errors.GenerateCorrelationID()
	}
	return envelope.WithCorrelationID(correlationID)
}

// HTTPStatusFromCode resolves the HTTP status code corresponding to an error code.
func HTTPStatusFromCode(code string) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeOrderRejected:
		return http.StatusUnprocessableEntity
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeExternalService:
		return http.StatusBadGateway
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorDetail captures the error body returned to callers.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPErrorDetail in the standard envelope structure.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError normalizes the supplied error and writes a JSON response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var ctx context.Context
	if r != nil {
		ctx = r.Context()
	}
	if re, ok := resilience.AsError(err); ok && re.RetryAfter > 0 && w != nil {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(math.Ceil(re.RetryAfter.Seconds())), 10))
	}
	RespondWithEnvelope(w, r, EnsureEnvelope(ctx, err))
}

// RespondWithEnvelope writes the envelope, logging it and emitting metrics.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}
	var ctx context.Context
	if r != nil {
		ctx = r.Context()
	}
	envelope = EnsureCorrelationID(envelope, ctx)
	statusCode := HTTPStatusFromCode(envelope.Code)

	logHTTPError(envelope, statusCode)
	metrics.RecordError(envelope.Code, statusCode)
	if r != nil {
		metrics.RecordErrorByEndpoint(r.URL.Path, envelope.Code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   responseDetails(envelope),
			RequestID: envelope.CorrelationID,
		},
	})
}

func responseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	details := make(map[string]interface{})
	for key, value := range envelope.Details {
		details[key] = value
	}
	for key, value := range envelope.Context {
		if _, exists := details[key]; !exists {
			details[key] = value
		}
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

func logHTTPError(envelope *errors.ErrorEnvelope, statusCode int) {
	logger := observability.Logger()
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", statusCode),
		zap.String("request_id", envelope.CorrelationID),
	}
	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}
	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}

	switch envelope.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		logger.Error(envelope.Message, fields...)
	case errors.SeverityMedium:
		logger.Warn(envelope.Message, fields...)
	default:
		logger.Info(envelope.Message, fields...)
	}
}

func extractCorrelationID(ctx context.Context) string {
	if ctx != nil {
		if requestID := middleware.GetRequestID(ctx); requestID != "" {
			return requestID
		}
	}
	return uuid.New().String()
}

func withContext(envelope *errors.ErrorEnvelope, values map[string]interface{}) *errors.ErrorEnvelope {
	updated, err := envelope.WithContext(values)
	if err != nil {
		return envelope
	}
	return updated
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
