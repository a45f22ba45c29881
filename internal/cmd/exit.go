package cmd

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/exchangelink/exchangelink/internal/resilience"
)

// ExitWithCode logs err with the foundry exit code metadata and exits.
// logger may be nil for failures before logger initialization.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}

	if logger == nil {
		writeFatal(msg, err)
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}
	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("correlation_id", envelope.CorrelationID))
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
	}
	var rerr *resilience.Error
	if stderrors.As(err, &rerr) {
		fields = append(fields,
			zap.String("kind", rerr.Kind.String()),
			zap.String("vendor", rerr.Vendor),
			zap.String("vendor_code", rerr.Code))
	}
	fields = append(fields, zap.Error(err))
	logger.Error(msg, fields...)

	os.Exit(info.Code)
}

// ExitWithCodeStderr is ExitWithCode without a logger.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	ExitWithCode(nil, exitCode, msg, err)
}

// ExitCodeFor picks the semantic exit code for a command error.
func ExitCodeFor(err error) foundry.ExitCode {
	var rerr *resilience.Error
	if !stderrors.As(err, &rerr) {
		return foundry.ExitFailure
	}
	switch rerr.Kind {
	case resilience.KindAuthenticationFailed:
		return foundry.ExitConfigInvalid
	case resilience.KindInvalidRequest, resilience.KindOrderRejected:
		return foundry.ExitFailure
	default:
		return foundry.ExitExternalServiceUnavailable
	}
}

func writeFatal(msg string, err error) {
	if err == nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
		return
	}
	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		fmt.Fprintf(os.Stderr, "FATAL: %s [%s]: %v (correlation: %s)\n",
			msg, envelope.Code, envelope.Message, envelope.CorrelationID)
		return
	}
	fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
}
