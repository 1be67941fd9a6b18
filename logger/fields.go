package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging across the engine.
const (
	// Identity
	FieldTrainID   = "train_id"
	FieldModelID   = "model_id"
	FieldWorkerID  = "worker_id"
	FieldRequestID = "request_id"

	// NLU
	FieldLanguage = "language"
	FieldContext  = "context"
	FieldIntent   = "intent"
	FieldStep     = "step"
	FieldSource   = "source"

	// Components
	FieldComponent = "component"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount     = "count"
	FieldSize      = "size"
	FieldBatchSize = "batch_size"
	FieldProgress  = "progress"

	// Processes
	FieldPID      = "pid"
	FieldExitCode = "exit_code"
	FieldSignal   = "signal"

	// Files
	FieldFile = "file"
)

type contextKey string

const (
	trainIDKey   contextKey = "logger_train_id"
	requestIDKey contextKey = "logger_request_id"
	componentKey contextKey = "logger_component"
)

// WithTrainID adds a train ID to the context for logging
func WithTrainID(ctx context.Context, trainID string) context.Context {
	return context.WithValue(ctx, trainIDKey, trainID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context as key-value pairs
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if trainID, ok := ctx.Value(trainIDKey).(string); ok && trainID != "" {
		fields = append(fields, FieldTrainID, trainID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns base enriched with the fields found in ctx.
// A nil base falls back to the global logger.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
