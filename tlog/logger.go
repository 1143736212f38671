// Package tlog provides structured logging with component context for the
// shuffle map-output tracking subsystem.
//
// Two logger variants are available:
//   - Logger: non-sugared zap.Logger for hot paths (message loop, epoch bump)
//   - SugaredLogger: printf-style logging for CLI/debug surfaces
//
// Use Logger.Sugar() to obtain a SugaredLogger when needed.
package tlog

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging with component context.
//
// Use this for core runtime paths where performance matters: the
// authority's dispatcher loop, the client's fetch path.
type Logger struct {
	zap   *zap.Logger
	level zapcore.Level
}

// SugaredLogger provides printf-style logging for CLI and debug surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// Context identifies which subsystem component is emitting a log line.
type Context struct {
	// Component is the subsystem component name, e.g. "authority",
	// "trackerclient", "streamserver".
	Component string
	// ShuffleID is the shuffle this entry pertains to, if any. Zero value
	// means "not applicable" and the field is omitted.
	ShuffleID *int32
	// StreamID is the stream this entry pertains to, if any.
	StreamID *int64
	// Level is the minimum zapcore.Level name to emit ("debug", "info",
	// "warn", "error"). Empty defaults to "info".
	Level string
}

// New creates a new logger with component context. Output defaults to
// os.Stderr.
func New(ctx Context) *Logger {
	return newWithWriter(ctx, os.Stderr)
}

// WithOutput returns a new logger with a different output writer.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	core := newCore(w, l.level)
	return &Logger{zap: l.zap.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core })), level: l.level}
}

func levelFromContext(level string) zapcore.Level {
	if level == "" {
		return zapcore.InfoLevel
	}
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return parsed
}

func newCore(w io.Writer, level zapcore.Level) zapcore.Core {
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

func newWithWriter(ctx Context, w io.Writer) *Logger {
	level := levelFromContext(ctx.Level)
	core := newCore(w, level)

	fields := []zap.Field{zap.String("component", ctx.Component)}
	if ctx.ShuffleID != nil {
		fields = append(fields, zap.Int32("shuffle_id", *ctx.ShuffleID))
	}
	if ctx.StreamID != nil {
		fields = append(fields, zap.Int64("stream_id", *ctx.StreamID))
	}

	zapLogger := zap.New(core).With(fields...)
	return &Logger{zap: zapLogger, level: level}
}

// WithShuffle returns a derived logger scoped to a shuffle id.
func (l *Logger) WithShuffle(shuffleID int32) *Logger {
	return &Logger{zap: l.zap.With(zap.Int32("shuffle_id", shuffleID)), level: l.level}
}

// WithStream returns a derived logger scoped to a stream id.
func (l *Logger) WithStream(streamID int64) *Logger {
	return &Logger{zap: l.zap.With(zap.Int64("stream_id", streamID)), level: l.level}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
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

// Noop returns a Logger that discards all output, for tests and contexts
// where logging is not wired up.
func Noop() *Logger {
	return &Logger{zap: zap.NewNop()}
}
