package logsink

import "go.uber.org/zap"

// Sink is the logging contract the job runner depends on.
//
// A sink must support leveled textual logging, a single structured
// results event carrying the outcome record, and a guaranteed
// close/flush. The runner issues calls synchronously and is the only
// writer; implementations do not need to retry.
type Sink interface {
	// Debug logs a debug-level progress message.
	Debug(msg string, fields ...zap.Field)

	// Info logs an info-level progress message.
	Info(msg string, fields ...zap.Field)

	// Warn logs a warning.
	Warn(msg string, fields ...zap.Field)

	// Error logs an error-level message.
	Error(msg string, fields ...zap.Field)

	// Results emits the outcome record, tagged so downstream
	// consumers can distinguish it from progress logs.
	Results(record map[string]any) error

	// Close flushes buffered output and releases resources. The sink
	// must not be used after Close.
	Close() error
}
