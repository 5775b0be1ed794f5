// Package logsink provides the logging sink used by the job runner.
//
// A sink carries ordinary leveled progress logs and exactly one
// structured results event per run. Two implementations exist: a
// local stream sink for standalone runs, and a remote record
// transport that streams typed record envelopes to the scheduler
// over mutually authenticated TLS.
package logsink

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for the remote
// record stream. These follow the pattern: lava.<type>.v<version>
const (
	// TypeLog identifies leveled progress log records.
	TypeLog = "lava.log.v1"

	// TypeResults identifies the per-run outcome record. Downstream
	// consumers use this tag to separate the result from progress logs.
	TypeResults = "lava.results.v1"
)

// Record is the envelope for every line on the remote stream.
//
// Each line is a self-contained JSON object: a type tag, a timestamp,
// the job correlation ID and a type-specific payload.
type Record struct {
	// Type identifies the record type (e.g., "lava.log.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for this run.
	JobID string `json:"job_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// LogRecord is the data payload for leveled progress logs.
type LogRecord struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Sink errors.
var (
	// ErrSinkClosed is returned when emitting through a closed sink.
	ErrSinkClosed = errors.New("sink is closed")
)

// EmitError wraps errors that occur while emitting a record.
type EmitError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *EmitError) Error() string {
	return "logsink: " + e.Op + ": " + e.Err.Error()
}

func (e *EmitError) Unwrap() error {
	return e.Err
}
