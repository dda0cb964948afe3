package logger

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/rs/zerolog"
)

// ZeroLogger is a Logger backed by zerolog. It writes one JSON object per
// line and is the production format for kindle serve.
type ZeroLogger struct {
	z     zerolog.Logger
	group string
}

// JSON creates a zerolog backed Logger writing JSON lines to w.
func JSON(w io.Writer, level slog.Level) Logger {
	z := zerolog.New(w).Level(zerologLevel(level)).With().Timestamp().Logger()
	return &ZeroLogger{z: z}
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level <= slog.LevelDebug:
		return zerolog.DebugLevel
	case level <= slog.LevelInfo:
		return zerolog.InfoLevel
	case level <= slog.LevelWarn:
		return zerolog.WarnLevel
	case level <= slog.LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.Disabled
	}
}

func (l *ZeroLogger) Debug(msg string, args ...any) {
	l.emit(l.z.Debug(), msg, args)
}

func (l *ZeroLogger) Info(msg string, args ...any) {
	l.emit(l.z.Info(), msg, args)
}

func (l *ZeroLogger) Warn(msg string, args ...any) {
	l.emit(l.z.Warn(), msg, args)
}

func (l *ZeroLogger) Error(msg string, args ...any) {
	l.emit(l.z.Error(), msg, args)
}

func (l *ZeroLogger) emit(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}
	forEachField(l.group, args, func(key string, v any) {
		if err, ok := v.(error); ok {
			e.AnErr(key, err)
			return
		}
		e.Interface(key, v)
	})
	e.Msg(msg)
}

func (l *ZeroLogger) With(args ...any) Logger {
	ctx := l.z.With()
	forEachField(l.group, args, func(key string, v any) {
		if err, ok := v.(error); ok {
			ctx = ctx.AnErr(key, err)
			return
		}
		ctx = ctx.Interface(key, v)
	})
	return &ZeroLogger{z: ctx.Logger(), group: l.group}
}

// WithGroup prefixes later keys with name and a dot.
func (l *ZeroLogger) WithGroup(name string) Logger {
	if name == "" {
		return l
	}
	g := name
	if l.group != "" {
		g = l.group + "." + name
	}
	return &ZeroLogger{z: l.z, group: g}
}

// forEachField walks key/value pairs. A trailing key without a value is
// dropped; slog.Attr values are accepted in place of a pair.
func forEachField(group string, args []any, fn func(key string, v any)) {
	prefix := ""
	if group != "" {
		prefix = group + "."
	}
	for i := 0; i < len(args); i++ {
		if a, ok := args[i].(slog.Attr); ok {
			fn(prefix+a.Key, a.Value.Any())
			continue
		}
		if i+1 >= len(args) {
			return
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		fn(prefix+key, args[i+1])
		i++
	}
}
