// Package observability provides structured logging, metrics, and tracing
// for the transaction engine.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
)

// EnrichLogger adds client context to a logger.
// Returns a new logger with client_id and device fields.
func EnrichLogger(logger *slog.Logger, clientID, device string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("client_id", clientID),
		slog.String("device", device),
	)
}

// LogSubmit logs a transaction submission.
func LogSubmit(logger *slog.Logger, txnID, triggerEventID, triggerCounter int64) {
	if logger == nil {
		return
	}
	logger.Debug("transaction submitted",
		slog.Int64("transaction_id", txnID),
		slog.Int64("trigger_event_id", triggerEventID),
		slog.Int64("trigger_counter", triggerCounter),
	)
}

// LogSubmitRejected logs a submission that failed validation.
func LogSubmitRejected(logger *slog.Logger, triggerEventID int64, err error) {
	if logger == nil {
		return
	}
	logger.Warn("transaction rejected",
		slog.Int64("trigger_event_id", triggerEventID),
		slog.String("error", err.Error()),
	)
}

// LogExecuted logs a completed transaction execution.
func LogExecuted(logger *slog.Logger, txnID int64, errorCode int32, durationMs float64) {
	if logger == nil {
		return
	}
	if errorCode != 0 {
		logger.Error("transaction failed",
			slog.Int64("transaction_id", txnID),
			slog.Int("error_code", int(errorCode)),
			slog.Float64("duration_ms", durationMs),
		)
		return
	}
	logger.Debug("transaction completed",
		slog.Int64("transaction_id", txnID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDispatch logs the outcome of one event-trigger pass.
func LogDispatch(logger *slog.Logger, eventID, counter int64, moved, inline int) {
	if logger == nil {
		return
	}
	logger.Debug("event dispatched",
		slog.Int64("event_id", eventID),
		slog.Int64("counter", counter),
		slog.Int("moved", moved),
		slog.Int("inline", inline),
	)
}

// LogCancelled logs an explicit cancellation.
func LogCancelled(logger *slog.Logger, txnID int64) {
	if logger == nil {
		return
	}
	logger.Info("transaction cancelled",
		slog.Int64("transaction_id", txnID),
	)
}

// LogFlush logs a client flush.
func LogFlush(logger *slog.Logger, cancelled int) {
	if logger == nil {
		return
	}
	logger.Info("client flushed",
		slog.Int("cancelled", cancelled),
	)
}

// LogFlushResidue logs transactions found in the process queue after the
// worker drained during a flush. This should not happen; the engine cancels
// them defensively.
func LogFlushResidue(logger *slog.Logger, count int) {
	if logger == nil {
		return
	}
	logger.Warn("process queue not empty after flush drain",
		slog.Int("count", count),
	)
}

// LogCleanupError logs a failure while running the cleanup sequence.
func LogCleanupError(logger *slog.Logger, txnID int64, errorCode int32) {
	if logger == nil {
		return
	}
	logger.Error("cleanup sequence failed",
		slog.Int64("transaction_id", txnID),
		slog.Int("error_code", int(errorCode)),
	)
}

// LogHistoryError logs a history append failure (non-fatal).
func LogHistoryError(logger *slog.Logger, txnID int64, err error) {
	if logger == nil {
		return
	}
	logger.Warn("history append failed",
		slog.Int64("transaction_id", txnID),
		slog.String("error", err.Error()),
	)
}

// LogPeriodicStopped logs a periodic I/O instance deactivated by an error.
func LogPeriodicStopped(logger *slog.Logger, periodicID int64, errorCode int32) {
	if logger == nil {
		return
	}
	logger.Error("periodic io stopped",
		slog.Int64("periodic_id", periodicID),
		slog.Int("error_code", int(errorCode)),
	)
}
