package common

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// LogLevel represents logging verbosity levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelInfo:
		return "info"
	case LogLevelDebug:
		return "debug"
	default:
		return "info"
	}
}

// ToSlogLevel converts LogLevel to slog.Level
func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Logger provides a centralized logging interface for deploypipe
type Logger struct {
	*slog.Logger
	level  LogLevel
	masker *Masker
}

// NewLogger creates a new structured logger with the specified level
func NewLogger(level LogLevel) *Logger {
	return newLoggerWithHandler(level, func(m *Masker) slog.Handler {
		return newMaskingHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level.ToSlogLevel()}), m)
	})
}

// NewJSONLogger creates a structured logger with JSON output
func NewJSONLogger(level LogLevel) *Logger {
	return newLoggerWithHandler(level, func(m *Masker) slog.Handler {
		return newMaskingHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level.ToSlogLevel()}), m)
	})
}

// NewColorLogger creates a structured logger with colorized text output
func NewColorLogger(level LogLevel) *Logger {
	return newLoggerWithHandler(level, func(m *Masker) slog.Handler {
		h := NewColorHandler(os.Stdout, &slog.HandlerOptions{Level: level.ToSlogLevel()})
		h.SetMasker(m)
		return h
	})
}

// NewWriterLogger creates a text logger writing to w. Mostly useful in tests.
func NewWriterLogger(level LogLevel, w io.Writer) *Logger {
	return newLoggerWithHandler(level, func(m *Masker) slog.Handler {
		return newMaskingHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.ToSlogLevel()}), m)
	})
}

func newLoggerWithHandler(level LogLevel, mk func(*Masker) slog.Handler) *Logger {
	masker := NewMasker()
	return &Logger{
		Logger: slog.New(mk(masker)),
		level:  level,
		masker: masker,
	}
}

// Level returns the current log level
func (l *Logger) Level() LogLevel {
	return l.level
}

// EnableMasking toggles masking of sensitive attribute values for this logger.
func (l *Logger) EnableMasking(enabled bool) {
	if l.masker != nil {
		l.masker.SetEnabled(enabled)
	}
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		level:  l.level,
		masker: l.masker,
	}
}

// WithComponent returns a logger with component context
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithTopology returns a logger with topology context
func (l *Logger) WithTopology(id, environment string) *Logger {
	return l.with("topology", id, "environment", environment)
}

// WithStage returns a logger with stage context
func (l *Logger) WithStage(stage string) *Logger {
	return l.with("stage", stage)
}

// WithArtifact returns a logger with artifact context
func (l *Logger) WithArtifact(id string) *Logger {
	return l.with("artifact", id)
}

// WithRun returns a logger with pipeline run context
func (l *Logger) WithRun(runID string) *Logger {
	return l.with("run", runID)
}

// WithStore returns a logger with store context
func (l *Logger) WithStore(storeType string) *Logger {
	return l.with("store", storeType)
}

// WithRequest returns a logger with HTTP request context
func (l *Logger) WithRequest(method, url string) *Logger {
	return l.with("method", method, "url", MaskSensitiveData(url))
}

// maskingHandler masks attribute values before delegating to the wrapped handler.
type maskingHandler struct {
	next   slog.Handler
	masker *Masker
}

func newMaskingHandler(next slog.Handler, m *Masker) slog.Handler {
	return &maskingHandler{next: next, masker: m}
}

func (h *maskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *maskingHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.masker == nil || !h.masker.IsEnabled() {
		return h.next.Handle(ctx, r)
	}
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.maskAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *maskingHandler) maskAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		if h.masker.IsSensitiveKey(a.Key) {
			return slog.String(a.Key, MaskedValue)
		}
		return a
	}
	if masked, ok := h.masker.MaskValue(a.Key, a.Value.String()).(string); ok {
		return slog.String(a.Key, masked)
	}
	return a
}

func (h *maskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		if h.masker != nil && h.masker.IsEnabled() {
			masked[i] = h.maskAttr(a)
		} else {
			masked[i] = a
		}
	}
	return &maskingHandler{next: h.next.WithAttrs(masked), masker: h.masker}
}

func (h *maskingHandler) WithGroup(name string) slog.Handler {
	return &maskingHandler{next: h.next.WithGroup(name), masker: h.masker}
}

// Global default logger instance
var defaultLogger = NewLogger(LogLevelInfo)

// SetDefaultLogger sets the global default logger
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

// GetLogger returns the default logger
func GetLogger() *Logger {
	return defaultLogger
}

// LogError logs an error with context
func LogError(msg string, err error, attrs ...any) {
	args := append([]any{"error", err}, attrs...)
	defaultLogger.Error(msg, args...)
}

// LogInfo logs informational message
func LogInfo(msg string, attrs ...any) {
	defaultLogger.Info(msg, attrs...)
}

// LogDebug logs debug message
func LogDebug(msg string, attrs ...any) {
	defaultLogger.Debug(msg, attrs...)
}

// LogWarn logs warning message
func LogWarn(msg string, attrs ...any) {
	defaultLogger.Warn(msg, attrs...)
}
