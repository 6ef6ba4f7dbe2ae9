package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LogLevel is a severity. The values match log/slog so they can be handed to
// a handler directly.
type LogLevel int

const (
	LevelDebug = LogLevel(slog.LevelDebug)
	LevelInfo  = LogLevel(slog.LevelInfo)
	LevelWarn  = LogLevel(slog.LevelWarn)
	LevelError = LogLevel(slog.LevelError)
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	return slog.Level(l).String()
}

// ParseLevel converts a configuration string into a LogLevel. Unknown values
// fall back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger interface for structured logging
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...interface{})
	Info(ctx context.Context, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
	Error(ctx context.Context, err error, msg string, fields ...interface{})

	With(fields ...interface{}) Logger
	WithComponent(component string) Logger
}

// Redacted replaces the value of every attribute named in
// LoggerConfig.Redact.
const Redacted = "[REDACTED]"

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level     LogLevel
	Format    string // "json" or "text"
	Output    io.Writer
	AddSource bool
	Component string
	// Redact lists attribute keys, matched case-insensitively, whose values
	// are never written.
	Redact []string
	// Retention is how long NewFileLogger keeps older daily files. Zero
	// keeps them all.
	Retention time.Duration
}

// DefaultConfig returns default logger configuration
func DefaultConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// ScaffoldLogger implements Logger on top of log/slog. Fields added with
// With are bound to the slog handler; the component is kept apart so that
// WithComponent replaces it instead of stacking a second key.
type ScaffoldLogger struct {
	logger    *slog.Logger
	component string
}

// NewLogger creates a new structured logger
func NewLogger(config *LoggerConfig) *ScaffoldLogger {
	if config == nil {
		config = DefaultConfig()
	}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     slog.Level(config.Level),
		AddSource: config.AddSource,
	}
	if len(config.Redact) > 0 {
		opts.ReplaceAttr = redactor(config.Redact)
	}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &ScaffoldLogger{
		logger:    slog.New(handler),
		component: config.Component,
	}
}

func redactor(keys []string) func([]string, slog.Attr) slog.Attr {
	redact := make(map[string]bool, len(keys))
	for _, k := range keys {
		redact[strings.ToLower(k)] = true
	}
	return func(_ []string, a slog.Attr) slog.Attr {
		if redact[strings.ToLower(a.Key)] {
			return slog.String(a.Key, Redacted)
		}
		return a
	}
}

// Discard returns a logger that drops every record. Components fall back to it
// when no logger is injected.
func Discard() Logger {
	return &ScaffoldLogger{logger: slog.New(slog.DiscardHandler)}
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard()
	}
	return l
}

func (l *ScaffoldLogger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, slog.LevelDebug, nil, msg, fields)
}

func (l *ScaffoldLogger) Info(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, slog.LevelInfo, nil, msg, fields)
}

func (l *ScaffoldLogger) Warn(ctx context.Context, err error, msg string, fields ...interface{}) {
	l.log(ctx, slog.LevelWarn, err, msg, fields)
}

func (l *ScaffoldLogger) Error(ctx context.Context, err error, msg string, fields ...interface{}) {
	l.log(ctx, slog.LevelError, err, msg, fields)
}

// With returns a logger that adds fields to every record. Keys that are not
// strings are dropped.
func (l *ScaffoldLogger) With(fields ...interface{}) Logger {
	attrs := toAttrs(fields)
	if len(attrs) == 0 {
		return l
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return &ScaffoldLogger{logger: l.logger.With(args...), component: l.component}
}

// WithComponent returns a logger that tags records with component.
func (l *ScaffoldLogger) WithComponent(component string) Logger {
	return &ScaffoldLogger{logger: l.logger, component: component}
}

func (l *ScaffoldLogger) log(ctx context.Context, level slog.Level, err error, msg string, fields []interface{}) {
	if ctx == nil {
		ctx = context.Background()
	}
	handler := l.logger.Handler()
	if !handler.Enabled(ctx, level) {
		return
	}

	record := slog.NewRecord(time.Now(), level, msg, 0)
	if l.component != "" {
		record.AddAttrs(slog.String("component", l.component))
	}
	if err != nil {
		record.AddAttrs(slog.String("error", err.Error()))
	}
	record.AddAttrs(fieldsFromContext(ctx)...)
	record.AddAttrs(toAttrs(fields)...)

	_ = handler.Handle(ctx, record)
}

// toAttrs pairs up key/value arguments.
func toAttrs(fields []interface{}) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			attrs = append(attrs, slog.Any(key, fields[i+1]))
		}
	}
	return attrs
}

type contextKey struct{}

// ContextWithFields returns a context whose records, from any logger, carry
// the given key/value fields in addition to those already on ctx.
func ContextWithFields(ctx context.Context, fields ...interface{}) context.Context {
	attrs := toAttrs(fields)
	if len(attrs) == 0 {
		return ctx
	}
	existing := fieldsFromContext(ctx)
	merged := make([]slog.Attr, 0, len(existing)+len(attrs))
	merged = append(merged, existing...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, contextKey{}, merged)
}

func fieldsFromContext(ctx context.Context) []slog.Attr {
	attrs, _ := ctx.Value(contextKey{}).([]slog.Attr)
	return attrs
}

// FileLogPrefix and FileLogSuffix frame the daily log file names.
const (
	FileLogPrefix = "scaffolder-"
	FileLogSuffix = ".log"
)

// FileLogger writes JSON records to a dated file under a directory.
type FileLogger struct {
	*ScaffoldLogger
	file     *os.File
	filePath string
}

// NewFileLogger opens today's file under logDir and removes files older than
// config.Retention.
func NewFileLogger(config *LoggerConfig, logDir string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	now := time.Now()
	filePath := filepath.Join(logDir, FileLogPrefix+now.Format(time.DateOnly)+FileLogSuffix)

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	fileConfig := *config
	fileConfig.Output = file
	fileConfig.Format = "json"
	logger := NewLogger(&fileConfig)

	if config.Retention > 0 {
		for _, path := range expiredLogFiles(logDir, now.Add(-config.Retention)) {
			if err := os.Remove(path); err != nil {
				logger.Warn(context.Background(), err, "Failed to remove old log file", "path", path)
			}
		}
	}

	return &FileLogger{
		ScaffoldLogger: logger,
		file:           file,
		filePath:       filePath,
	}, nil
}

// expiredLogFiles lists the daily files in dir dated before cutoff.
func expiredLogFiles(dir string, cutoff time.Time) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	cutoffDay := cutoff.Format(time.DateOnly)

	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, FileLogPrefix) || !strings.HasSuffix(name, FileLogSuffix) {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, FileLogPrefix), FileLogSuffix)
		if _, err := time.Parse(time.DateOnly, day); err != nil {
			continue
		}
		// DateOnly strings order the same way as the dates.
		if day < cutoffDay {
			out = append(out, filepath.Join(dir, name))
		}
	}
	return out
}

// Path returns the file the logger writes to.
func (f *FileLogger) Path() string {
	return f.filePath
}

// Close closes the file logger
func (f *FileLogger) Close() error {
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}

// MultiLogger writes to multiple loggers
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that writes to multiple destinations
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

func (m *MultiLogger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	for _, logger := range m.loggers {
		logger.Debug(ctx, msg, fields...)
	}
}

func (m *MultiLogger) Info(ctx context.Context, msg string, fields ...interface{}) {
	for _, logger := range m.loggers {
		logger.Info(ctx, msg, fields...)
	}
}

func (m *MultiLogger) Warn(ctx context.Context, err error, msg string, fields ...interface{}) {
	for _, logger := range m.loggers {
		logger.Warn(ctx, err, msg, fields...)
	}
}

func (m *MultiLogger) Error(ctx context.Context, err error, msg string, fields ...interface{}) {
	for _, logger := range m.loggers {
		logger.Error(ctx, err, msg, fields...)
	}
}

func (m *MultiLogger) With(fields ...interface{}) Logger {
	return m.derive(func(l Logger) Logger { return l.With(fields...) })
}

func (m *MultiLogger) WithComponent(component string) Logger {
	return m.derive(func(l Logger) Logger { return l.WithComponent(component) })
}

func (m *MultiLogger) derive(fn func(Logger) Logger) Logger {
	derived := make([]Logger, len(m.loggers))
	for i, logger := range m.loggers {
		derived[i] = fn(logger)
	}
	return &MultiLogger{loggers: derived}
}

// PerfLogger tracks the duration of one operation.
type PerfLogger struct {
	Logger
	startTime time.Time
}

// StartOperation begins timing operation. Records from the returned logger
// carry the operation name.
func StartOperation(logger Logger, operation string) *PerfLogger {
	return &PerfLogger{
		Logger:    OrDiscard(logger).With("operation", operation),
		startTime: time.Now(),
	}
}

// Elapsed returns the time since the operation started.
func (p *PerfLogger) Elapsed() time.Duration {
	return time.Since(p.startTime)
}

// End logs the duration at debug level and returns it.
func (p *PerfLogger) End(ctx context.Context) time.Duration {
	duration := p.Elapsed()
	p.Debug(ctx, "Operation completed", "duration_ms", duration.Milliseconds())
	return duration
}

// EndWithError logs err with the duration and returns it.
func (p *PerfLogger) EndWithError(ctx context.Context, err error) time.Duration {
	duration := p.Elapsed()
	p.Error(ctx, err, "Operation failed", "duration_ms", duration.Milliseconds())
	return duration
}
