package kustoingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"runtime"
	"strings"
)

type contextKey string

const (
	// RunIDKey is the context key of the id of one ingestion run
	RunIDKey contextKey = "run_id"
	// TableKey is the context key of the target table
	TableKey contextKey = "table"

	loggerKey contextKey = "logger"
)

// logKeys are the context keys copied into log records by Logger.WithContext
var logKeys = [...]contextKey{RunIDKey, TableKey}

// Logger is the slog backed logger used by the command line and handed to
// library code through the context.
type Logger interface {
	SetLogLevel(level string) error
	Slog() *slog.Logger
	WithContext(ctx context.Context) *slog.Logger
}

// CallerPrettyfier to provide base file name and function name from calling frame
func CallerPrettyfier(frame *runtime.Frame) (string, string) {
	return path.Base(frame.Function), fmt.Sprintf("%s:%d", path.Base(frame.File), frame.Line)
}

type defaultLogger struct {
	levelVar *slog.LevelVar
	inner    *slog.Logger
}

// CreateDefaultLogger return a new logger writing text records to output,
// stderr when output is nil.
func CreateDefaultLogger(output io.Writer) Logger {
	levelVar := &slog.LevelVar{}
	levelVar.Set(slog.LevelInfo)

	replaceAttr := func(groups []string, attr slog.Attr) slog.Attr {
		if attr.Key == slog.SourceKey {
			if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
				frame := &runtime.Frame{
					Function: src.Function,
					File:     src.File,
					Line:     src.Line,
				}
				function, location := CallerPrettyfier(frame)
				attr.Value = slog.StringValue(strings.TrimSpace(function + " " + location))
			}
		}
		return attr
	}

	if output == nil {
		output = os.Stderr
	}
	handler := slog.NewTextHandler(output, &slog.HandlerOptions{
		AddSource:   true,
		Level:       levelVar,
		ReplaceAttr: replaceAttr,
	})
	return &defaultLogger{
		levelVar: levelVar,
		inner:    slog.New(handler),
	}
}

func (log *defaultLogger) Slog() *slog.Logger {
	return log.inner
}

// SetLogLevel set logging level for calling defaultLogger
func (log *defaultLogger) SetLogLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	log.levelVar.Set(lvl)
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "trace":
		fallthrough
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "dpanic", "panic", "fatal":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}

// WithContext returns a logger including the logKeys fields found in ctx.
func (log *defaultLogger) WithContext(ctx context.Context) *slog.Logger {
	return withContextAttrs(log.Slog(), ctx)
}

func withContextAttrs(logger *slog.Logger, ctx context.Context) *slog.Logger {
	attrs := context2Attrs(ctx)
	if len(attrs) == 0 {
		return logger
	}
	args := make([]interface{}, len(attrs))
	for i := range attrs {
		args[i] = attrs[i]
	}
	return logger.With(args...)
}

func context2Attrs(ctx context.Context) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(logKeys))
	if ctx == nil {
		return attrs
	}

	for i := 0; i < len(logKeys); i++ {
		if ctx.Value(logKeys[i]) != nil {
			attrs = append(attrs, slog.Any(string(logKeys[i]), ctx.Value(logKeys[i])))
		}
	}
	return attrs
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// LoggerFromContext returns the logger stored by WithLogger, or a logger
// that drops every record.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return discardLogger
}
