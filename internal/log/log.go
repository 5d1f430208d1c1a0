package log

import (
	"context"
	"io"
	stdlog "log"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
	// StdLogger adapts the logger for APIs that want a *log.Logger,
	// such as http.Server.ErrorLog. Lines are emitted at warn level.
	StdLogger() *stdlog.Logger
	Sync() error
}

// Field represents a log field
type Field = zapcore.Field

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// RequestIDKey is the context key for request IDs
const RequestIDKey ContextKey = "request_id"

// String creates a string field
func String(key, val string) Field {
	return zap.String(key, val)
}

// Strings creates a string slice field
func Strings(key string, val []string) Field {
	return zap.Strings(key, val)
}

// Int creates an int field
func Int(key string, val int) Field {
	return zap.Int(key, val)
}

// Int64 creates an int64 field
func Int64(key string, val int64) Field {
	return zap.Int64(key, val)
}

// Duration creates a duration field
func Duration(key string, val time.Duration) Field {
	return zap.Duration(key, val)
}

// Error creates an error field
func Error(err error) Field {
	return zap.Error(err)
}

// Bool creates a bool field
func Bool(key string, val bool) Field {
	return zap.Bool(key, val)
}

// Any creates a field with any value
func Any(key string, val interface{}) Field {
	return zap.Any(key, val)
}

type zapLogger struct {
	logger *zap.Logger
	ctx    context.Context
}

// Config holds logger configuration
type Config struct {
	Level      string
	Format     string // "json" or "console"
	OutputPath string // "stderr" (default), "stdout" or a file path
}

// NewLogger creates a new logger instance. Output goes to stderr unless
// configured otherwise; stdout belongs to the subject test program.
func NewLogger(cfg Config) (Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var writer io.Writer
	switch cfg.OutputPath {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		file, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		writer = file
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(writer)), level)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).Named("llpeer")

	return &zapLogger{logger: logger}, nil
}

func (l *zapLogger) Debug(msg string, fields ...Field) {
	l.logger.Debug(msg, l.addContextFields(fields)...)
}

func (l *zapLogger) Info(msg string, fields ...Field) {
	l.logger.Info(msg, l.addContextFields(fields)...)
}

func (l *zapLogger) Warn(msg string, fields ...Field) {
	l.logger.Warn(msg, l.addContextFields(fields)...)
}

func (l *zapLogger) Error(msg string, fields ...Field) {
	l.logger.Error(msg, l.addContextFields(fields)...)
}

// Fatal logs a fatal message and exits
func (l *zapLogger) Fatal(msg string, fields ...Field) {
	l.logger.Fatal(msg, l.addContextFields(fields)...)
}

// With creates a child logger with additional fields
func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{
		logger: l.logger.With(fields...),
		ctx:    l.ctx,
	}
}

// WithContext creates a logger that tags every entry with the request ID
// carried by ctx
func (l *zapLogger) WithContext(ctx context.Context) Logger {
	return &zapLogger{
		logger: l.logger,
		ctx:    ctx,
	}
}

func (l *zapLogger) StdLogger() *stdlog.Logger {
	std, err := zap.NewStdLogAt(l.logger, zapcore.WarnLevel)
	if err != nil {
		return zap.NewStdLog(l.logger)
	}
	return std
}

func (l *zapLogger) Sync() error {
	return l.logger.Sync()
}

func (l *zapLogger) addContextFields(fields []Field) []Field {
	if l.ctx == nil {
		return fields
	}

	if requestID, ok := l.ctx.Value(RequestIDKey).(string); ok {
		fields = append(fields, String("request_id", requestID))
	}

	return fields
}

// NewNopLogger creates a no-op logger for testing
func NewNopLogger() Logger {
	return &zapLogger{
		logger: zap.NewNop(),
	}
}

// NewFromZap wraps an existing zap logger, e.g. one built with zaptest/observer.
func NewFromZap(logger *zap.Logger) Logger {
	return &zapLogger{logger: logger}
}
