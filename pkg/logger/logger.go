// Package logger provides a zap-based application logger.
package logger

import (
	"context"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a logging priority.
type Level = zapcore.Level

const (
	LevelDebug = zapcore.DebugLevel
	LevelInfo  = zapcore.InfoLevel
	LevelWarn  = zapcore.WarnLevel
	LevelError = zapcore.ErrorLevel
)

// TraceIDFn extracts a trace id from a context. It returns "" when the
// context carries no span.
type TraceIDFn func(ctx context.Context) string

// Logger writes structured JSON log lines tagged with the service name and,
// when available, the trace id of the request.
type Logger struct {
	s       *zap.SugaredLogger
	traceID TraceIDFn
}

// New builds a logger writing to w at the given minimum level.
func New(w io.Writer, level Level, service string, traceIDFn TraceIDFn) *Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(w), level)
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).With(zap.String("service", service))
	return &Logger{s: z.Sugar(), traceID: traceIDFn}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{s: zap.NewNop().Sugar()}
}

// ParseLevel maps "debug", "info", "warn" or "error" to a Level, falling back
// to info.
func ParseLevel(s string) Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return LevelInfo
	}
	return l
}

func (l *Logger) Debug(ctx context.Context, msg string, kv ...any) {
	l.log(ctx, LevelDebug, msg, kv)
}

func (l *Logger) Info(ctx context.Context, msg string, kv ...any) {
	l.log(ctx, LevelInfo, msg, kv)
}

func (l *Logger) Warn(ctx context.Context, msg string, kv ...any) {
	l.log(ctx, LevelWarn, msg, kv)
}

func (l *Logger) Error(ctx context.Context, msg string, kv ...any) {
	l.log(ctx, LevelError, msg, kv)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.s.Sync()
}

func (l *Logger) log(ctx context.Context, lvl Level, msg string, kv []any) {
	if l.traceID != nil && ctx != nil {
		if id := l.traceID(ctx); id != "" {
			kv = append(kv, "trace_id", id)
		}
	}
	switch lvl {
	case LevelDebug:
		l.s.Debugw(msg, kv...)
	case LevelWarn:
		l.s.Warnw(msg, kv...)
	case LevelError:
		l.s.Errorw(msg, kv...)
	default:
		l.s.Infow(msg, kv...)
	}
}
