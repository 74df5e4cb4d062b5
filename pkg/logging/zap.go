package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapLogger implements the Logger interface using uber-go/zap
type ZapLogger struct {
	logger *zap.Logger
	fields []Field
}

// ZapOption configures the zap-backed logger.
type ZapOption func(*zapOptions)

type zapOptions struct {
	level      zapcore.Level
	logFile    string
	maxSizeMB  int
	maxBackups int
}

// WithLogLevel sets the minimum level written by the logger.
func WithLogLevel(level Level) ZapOption {
	return func(opts *zapOptions) {
		switch level {
		case DEBUG:
			opts.level = zapcore.DebugLevel
		case WARN:
			opts.level = zapcore.WarnLevel
		case ERROR:
			opts.level = zapcore.ErrorLevel
		default:
			opts.level = zapcore.InfoLevel
		}
	}
}

// WithRotatingFile mirrors log output to a size-rotated file in addition
// to stdout.
func WithRotatingFile(path string, maxSizeMB, maxBackups int) ZapOption {
	return func(opts *zapOptions) {
		opts.logFile = path
		opts.maxSizeMB = maxSizeMB
		opts.maxBackups = maxBackups
	}
}

// NewZapLogger creates a Logger backed by zap. Output is JSON to stdout,
// optionally duplicated to a rotating file.
func NewZapLogger(options ...ZapOption) Logger {
	opts := &zapOptions{level: zapcore.InfoLevel, maxSizeMB: 10, maxBackups: 3}
	for _, opt := range options {
		opt(opts)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	encoder := zapcore.NewJSONEncoder(encoderConfig)

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if opts.logFile != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.logFile,
			MaxSize:    opts.maxSizeMB,
			MaxBackups: opts.maxBackups,
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(
		encoder,
		zap.CombineWriteSyncers(sinks...),
		zap.NewAtomicLevelAt(opts.level),
	)

	return &ZapLogger{
		logger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)),
	}
}

// Debug implements Logger interface
func (l *ZapLogger) Debug(msg string, fields ...Field) {
	if ce := l.logger.Check(zapcore.DebugLevel, msg); ce != nil {
		ce.Write(l.convertFields(fields...)...)
	}
}

// Info implements Logger interface
func (l *ZapLogger) Info(msg string, fields ...Field) {
	if ce := l.logger.Check(zapcore.InfoLevel, msg); ce != nil {
		ce.Write(l.convertFields(fields...)...)
	}
}

// Warn implements Logger interface
func (l *ZapLogger) Warn(msg string, fields ...Field) {
	if ce := l.logger.Check(zapcore.WarnLevel, msg); ce != nil {
		ce.Write(l.convertFields(fields...)...)
	}
}

// Error implements Logger interface
func (l *ZapLogger) Error(msg string, fields ...Field) {
	if ce := l.logger.Check(zapcore.ErrorLevel, msg); ce != nil {
		ce.Write(l.convertFields(fields...)...)
	}
}

// WithFields implements Logger interface
func (l *ZapLogger) WithFields(fields ...Field) Logger {
	child := *l
	child.fields = make([]Field, len(l.fields)+len(fields))
	copy(child.fields, l.fields)
	copy(child.fields[len(l.fields):], fields)
	return &child
}

// Close flushes any buffered log entries
func (l *ZapLogger) Close() error {
	return l.logger.Sync()
}

func (l *ZapLogger) convertFields(fields ...Field) []zap.Field {
	zapFields := make([]zap.Field, 0, len(l.fields)+len(fields))
	for _, f := range l.fields {
		zapFields = append(zapFields, zap.Any(f.Key, f.Value))
	}
	for _, f := range fields {
		zapFields = append(zapFields, zap.Any(f.Key, f.Value))
	}
	return zapFields
}
