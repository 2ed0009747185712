// Package log provides structured logging bound to stream identity.
//
// Two logger variants are available:
//   - Logger: Non-sugared zap.Logger for the stream read path (structured fields)
//   - SugaredLogger: Printf-style logging for CLI surfaces
//
// A nil *Logger is valid and discards everything, so components can take
// an optional logger without guarding each call.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level aliases zapcore.Level so callers need not import zapcore.
type Level = zapcore.Level

// Log levels.
const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

// ParseLevel parses a level name such as "debug" or "WARN".
func ParseLevel(s string) (Level, error) {
	return zapcore.ParseLevel(s)
}

// StreamMeta identifies one streaming request in log output.
type StreamMeta struct {
	StreamID  string
	ProjectID string
}

// Logger provides structured logging.
type Logger struct {
	zap *zap.Logger
	// fields are the context fields bound so far, re-applied by WithOutput.
	fields []zap.Field
}

// SugaredLogger provides printf-style logging for CLI surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a logger writing JSON lines to os.Stderr.
func NewLogger(level Level) *Logger {
	return NewLoggerWithWriter(os.Stderr, level)
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(w io.Writer, level Level) *Logger {
	return &Logger{zap: zap.New(newCore(w, level))}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

func newCore(w io.Writer, level Level) zapcore.Core {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		level,
	)
}

func (l *Logger) logger() *zap.Logger {
	if l == nil || l.zap == nil {
		return zap.NewNop()
	}
	return l.zap
}

// WithOutput returns a new logger with a different output writer.
// Context fields already bound to l are kept.
func (l *Logger) WithOutput(w io.Writer, level Level) *Logger {
	var fields []zap.Field
	if l != nil {
		fields = l.fields
	}
	return &Logger{zap: zap.New(newCore(w, level)).With(fields...), fields: fields}
}

// ForStream returns a logger whose entries carry the stream identity.
func (l *Logger) ForStream(meta StreamMeta) *Logger {
	fields := []zap.Field{zap.String("stream_id", meta.StreamID)}
	if meta.ProjectID != "" {
		fields = append(fields, zap.String("project_id", meta.ProjectID))
	}
	var bound []zap.Field
	if l != nil {
		bound = append(bound, l.fields...)
	}
	bound = append(bound, fields...)
	return &Logger{zap: l.logger().With(fields...), fields: bound}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.logger().Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.logger().Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.logger().Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.logger().Error(message, zap.Any("fields", fields))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.logger().Sync()
}

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.logger().Sugar()}
}

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
