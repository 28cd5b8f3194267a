// Package observability provides structured logging, metrics and tracing for
// value roll-up and distribution runs.
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
	"time"
)

// EnrichLogger adds distribution context to a logger.
func EnrichLogger(logger *slog.Logger, runID, contextAgentID, valueEquationID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("context_agent", contextAgentID),
		slog.String("value_equation", valueEquationID),
	)
}

// LogRunStart logs the start of a distribution run.
func LogRunStart(logger *slog.Logger, runID, amount string) {
	if logger == nil {
		return
	}
	logger.Info("distribution run starting",
		slog.String("run_id", runID),
		slog.String("amount", amount),
	)
}

// LogRunComplete logs a successful distribution run.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, lines int, distributed string) {
	if logger == nil {
		return
	}
	logger.Info("distribution run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("distribution_events", lines),
		slog.String("distributed", distributed),
	)
}

// LogRunError logs a failed distribution run.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("distribution run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogBucket logs the outcome of one bucket.
func LogBucket(logger *slog.Logger, bucketID, amount, paid string, claims int) {
	if logger == nil {
		return
	}
	logger.Debug("bucket evaluated",
		slog.String("bucket_id", bucketID),
		slog.String("bucket_amount", amount),
		slog.String("paid", paid),
		slog.Int("claims", claims),
	)
}

// LogRollUp logs a completed value roll-up.
func LogRollUp(logger *slog.Logger, resourceID, valuePerUnit string, processes int) {
	if logger == nil {
		return
	}
	logger.Debug("value rolled up",
		slog.String("resource_id", resourceID),
		slog.String("value_per_unit", valuePerUnit),
		slog.Int("processes_visited", processes),
	)
}

// LogBranchSkipped logs a graph branch skipped because of incomplete data.
func LogBranchSkipped(logger *slog.Logger, kind, id string, err error) {
	if logger == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	logger.Warn("branch skipped",
		slog.String("kind", kind),
		slog.String("id", id),
		slog.String("error", msg),
	)
}

// LogReconciliation logs a rounding adjustment.
func LogReconciliation(logger *slog.Logger, delta, agentID string) {
	if logger == nil {
		return
	}
	logger.Debug("rounding drift reconciled",
		slog.String("delta", delta),
		slog.String("agent_id", agentID),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
