package logsink

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// StreamSink is the local fallback sink used when no remote endpoint
// is configured. Progress logs go to stderr; when a log file path is
// given the same stream is duplicated into a rotating job log.
type StreamSink struct {
	logger  *zap.Logger
	rotator *lumberjack.Logger
	jobID   string
	closed  bool
}

// NewStream creates a local stream sink.
//
// logFile may be empty, in which case only stderr receives output.
// The rotating file is created lazily on first write, so the parent
// directory does not need to exist yet when the sink is built.
func NewStream(jobID, logFile string) *StreamSink {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zapcore.DebugLevel
	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			level,
		),
	}

	var rotator *lumberjack.Logger
	if logFile != "" {
		rotator = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.AddSync(rotator),
			level,
		))
	}

	logger := zap.New(zapcore.NewTee(cores...)).With(zap.String("job_id", jobID))
	return &StreamSink{logger: logger, rotator: rotator, jobID: jobID}
}

func (s *StreamSink) Debug(msg string, fields ...zap.Field) { s.logger.Debug(msg, fields...) }
func (s *StreamSink) Info(msg string, fields ...zap.Field)  { s.logger.Info(msg, fields...) }
func (s *StreamSink) Warn(msg string, fields ...zap.Field)  { s.logger.Warn(msg, fields...) }
func (s *StreamSink) Error(msg string, fields ...zap.Field) { s.logger.Error(msg, fields...) }

// Results emits the outcome record as a tagged structured event.
func (s *StreamSink) Results(record map[string]any) error {
	if s.closed {
		return ErrSinkClosed
	}
	s.logger.Info("results",
		zap.String("record_type", TypeResults),
		zap.Any("results", record))
	return nil
}

// Close flushes the logger and the rotating file.
func (s *StreamSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	// Sync on stderr reports ENOTTY on some platforms; the flush of
	// the file core is what matters here.
	_ = s.logger.Sync()
	if s.rotator != nil {
		return s.rotator.Close()
	}
	return nil
}

// Compile-time check that StreamSink implements Sink.
var _ Sink = (*StreamSink)(nil)
