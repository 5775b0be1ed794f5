package runner

import (
	"go.uber.org/zap"

	"github.com/lavakit/lavarun/pkg/joberrors"
	"github.com/lavakit/lavarun/pkg/logsink"
)

// Fixed outcome record keys and identifiers.
//
// NOTE: The namespace and case identifiers are part of the reporting
// contract consumed by the scheduler; do not change.
const (
	resultDefinition = "lava"
	resultCase       = "job"

	resultPass = "pass"
	resultFail = "fail"
)

// buildOutcome constructs the single per-run outcome record. cls is
// nil when the run succeeded. The record is never mutated after
// construction.
func buildOutcome(cls *joberrors.Classification) map[string]any {
	record := map[string]any{
		"definition": resultDefinition,
		"case":       resultCase,
		"result":     resultPass,
	}
	if cls != nil {
		record["result"] = resultFail
		record["error_msg"] = cls.Message
		record["error_type"] = string(cls.Kind)
	}
	return record
}

// reportOutcome logs the failure detail, then emits the outcome record
// through the sink. Emitting is attempted exactly once; the returned
// error is informational only and must not stop finalization.
func reportOutcome(sink logsink.Sink, cls *joberrors.Classification) error {
	if cls != nil {
		sink.Error(cls.Message, zap.String("error_type", string(cls.Kind)))
		sink.Error(cls.Hint)
	}
	return sink.Results(buildOutcome(cls))
}
