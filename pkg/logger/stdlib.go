package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

var (
	stdlibCtxKey = stdlibKey{}
)

type stdlibKey struct{}

type handler int

const (
	JSONHandler handler = iota
	TextHandler
	DevHandler
)

// NOTE: reference
// https://go.dev/src/log/slog/example_custom_levels_test.go
const (
	DefaultStdlibLevel = slog.LevelInfo

	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelNotice  = slog.Level(2)
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
)

// Logger is slog with the additional TRACE and NOTICE levels.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Log(ctx context.Context, level slog.Level, msg string, args ...any)
	Level() slog.Level
	With(args ...any) Logger

	Trace(msg string, args ...any)
	Notice(msg string, args ...any)
}

type LoggerOpt func(o *loggerOpts)

type loggerOpts struct {
	writer  io.Writer
	level   slog.Level
	handler handler
	tee     []slog.Handler
}

func WithLoggerLevel(lvl slog.Level) LoggerOpt {
	return func(o *loggerOpts) {
		o.level = lvl
	}
}

func WithLoggerWriter(w io.Writer) LoggerOpt {
	return func(o *loggerOpts) {
		o.writer = w
	}
}

func WithHandler(h handler) LoggerOpt {
	return func(o *loggerOpts) {
		o.handler = h
	}
}

// WithTee sends every record to the given handlers in addition to the
// primary one, eg. a JSON handler writing to a log file.
func WithTee(h ...slog.Handler) LoggerOpt {
	return func(o *loggerOpts) {
		o.tee = append(o.tee, h...)
	}
}

// New creates a logger, reading LOG_HANDLER and LOG_LEVEL for defaults.
func New(opts ...LoggerOpt) Logger {
	return newLogger(opts...)
}

func newLogger(opts ...LoggerOpt) Logger {
	handler := DevHandler
	switch strings.ToLower(os.Getenv("LOG_HANDLER")) {
	case "json":
		handler = JSONHandler
	case "dev":
		handler = DevHandler
	case "txt", "text":
		handler = TextHandler
	}

	o := &loggerOpts{
		level:   StdlibLevel(level("LOG_LEVEL")),
		writer:  os.Stderr,
		handler: handler,
	}

	for _, apply := range opts {
		apply(o)
	}

	var h slog.Handler
	switch o.handler {
	case DevHandler:
		h = tint.NewHandler(o.writer, &tint.Options{
			Level:      o.level,
			TimeFormat: "[15:04:05.000]", // millisecond
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.LevelKey && len(groups) == 0 {
					lvl, ok := a.Value.Any().(slog.Level)
					if ok {
						// ref:
						// https://en.wikipedia.org/wiki/ANSI_escape_code#8-bit
						//
						// keep default color for warn and error
						switch lvl {
						case LevelTrace:
							return tint.Attr(13, slog.String(a.Key, "TRC"))
						case LevelDebug:
							return tint.Attr(3, slog.String(a.Key, "DBG"))
						case LevelInfo:
							return tint.Attr(14, slog.String(a.Key, "INF"))
						case LevelNotice:
							return tint.Attr(10, slog.String(a.Key, "NTC"))
						}
					}
				}
				return a
			},
		})
	case TextHandler:
		h = slog.NewTextHandler(o.writer, HandlerOptions(o.level))
	default:
		h = slog.NewJSONHandler(o.writer, HandlerOptions(o.level))
	}

	if len(o.tee) > 0 {
		h = NewSplitHandler(append([]slog.Handler{h}, o.tee...)...)
	}

	return &logger{
		Logger: slog.New(h),
		level:  o.level,
	}
}

// HandlerOptions returns slog options which annotate the additional levels
// by name.
func HandlerOptions(lvl slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.LevelKey && len(groups) == 0 {
				if lvl, ok := attr.Value.Any().(slog.Level); ok {
					// annotate additional levels properly
					switch lvl {
					case LevelTrace:
						return slog.String(attr.Key, "TRACE")
					case LevelNotice:
						return slog.String(attr.Key, "NOTICE")
					}
				}
			}
			return attr
		},
	}
}

// StdlibLogger returns the stdlib logger in context, or a new logger
// if none stored.
func StdlibLogger(ctx context.Context, opts ...LoggerOpt) Logger {
	l := ctx.Value(stdlibCtxKey)
	if l == nil {
		return newLogger(opts...)
	}
	return l.(Logger)
}

func VoidLogger() Logger {
	return newLogger(WithLoggerWriter(io.Discard))
}

func WithStdlib(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, stdlibCtxKey, l)
}

func StdlibLevel(levelVarName string) slog.Level {
	switch strings.ToLower(levelVarName) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarning
	case "error":
		return LevelError
	default:
		return DefaultStdlibLevel
	}
}

func level(levelVarName string) string {
	return os.Getenv(levelVarName)
}

// logger is a wrapper over slog with additional levels
type logger struct {
	*slog.Logger
	level slog.Level
}

func (l *logger) Level() slog.Level {
	return l.level
}

func (l *logger) With(args ...any) Logger {
	if len(args) == 0 {
		return l
	}

	return &logger{
		Logger: l.Logger.With(args...),
		level:  l.level,
	}
}

func (l *logger) Trace(msg string, args ...any) {
	l.Logger.Log(context.Background(), LevelTrace, msg, args...)
}

func (l *logger) Notice(msg string, args ...any) {
	l.Logger.Log(context.Background(), LevelNotice, msg, args...)
}
