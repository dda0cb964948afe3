package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// PrettyOptions configures a PrettyHandler.
type PrettyOptions struct {
	Level   slog.Leveler
	NoColor bool
}

// PrettyHandler is a slog.Handler that writes one aligned, optionally
// colored line per record:
//
//	[15:04:05.000] INFO  message key=value key="quoted value"
type PrettyHandler struct {
	opts  PrettyOptions
	w     io.Writer
	mu    *sync.Mutex
	group string
	attrs []slog.Attr
}

// NewPrettyHandler creates a new PrettyHandler.
func NewPrettyHandler(w io.Writer, opts *PrettyOptions) *PrettyHandler {
	if opts == nil {
		opts = &PrettyOptions{}
	}
	return &PrettyHandler{
		opts: *opts,
		w:    w,
		mu:   &sync.Mutex{},
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

// Handle formats and writes a log record.
func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)

	buf = h.paint(buf, colorGray)
	buf = append(buf, '[')
	buf = r.Time.AppendFormat(buf, "15:04:05.000")
	buf = append(buf, ']')
	buf = h.paint(buf, colorReset)
	buf = append(buf, ' ')

	buf = h.paint(buf, levelColor(r.Level))
	buf = h.paint(buf, colorBold)
	buf = append(buf, fmt.Sprintf("%-5s", r.Level.String())...)
	buf = h.paint(buf, colorReset)
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)

	n := len(h.attrs) + r.NumAttrs()
	if n > 0 {
		buf = append(buf, ' ')
		buf = h.paint(buf, colorCyan)
		first := true
		emit := func(a slog.Attr, group string) {
			if a.Equal(slog.Attr{}) {
				return
			}
			if !first {
				buf = append(buf, ' ')
			}
			first = false
			buf = appendAttr(buf, a, group)
		}
		for _, a := range h.attrs {
			emit(a, "")
		}
		r.Attrs(func(a slog.Attr) bool {
			emit(a, h.group)
			return true
		})
		buf = h.paint(buf, colorReset)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

// WithAttrs returns a new handler with additional attributes. The attributes
// are qualified with the current group at this point.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

// WithGroup returns a new handler with a group name.
func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.group != "" {
		next.group = h.group + "." + name
	} else {
		next.group = name
	}
	return &next
}

func (h *PrettyHandler) paint(buf []byte, code string) []byte {
	if h.opts.NoColor {
		return buf
	}
	return append(buf, code...)
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorBlue
	default:
		return colorGray
	}
}

func appendAttr(buf []byte, attr slog.Attr, group string) []byte {
	key := attr.Key
	if group != "" {
		key = group + "." + key
	}
	v := attr.Value.Resolve()

	if v.Kind() == slog.KindGroup {
		for i, a := range v.Group() {
			if i > 0 {
				buf = append(buf, ' ')
			}
			buf = appendAttr(buf, a, key)
		}
		return buf
	}

	buf = append(buf, key...)
	buf = append(buf, '=')
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if needsQuoting(s) {
			buf = strconv.AppendQuote(buf, s)
		} else {
			buf = append(buf, s...)
		}
	case slog.KindTime:
		buf = v.Time().AppendFormat(buf, time.RFC3339)
	case slog.KindDuration:
		buf = append(buf, v.Duration().String()...)
	case slog.KindFloat64:
		buf = strconv.AppendFloat(buf, v.Float64(), 'g', 6, 64)
	default:
		s := fmt.Sprint(v.Any())
		if needsQuoting(s) {
			buf = strconv.AppendQuote(buf, s)
		} else {
			buf = append(buf, s...)
		}
	}
	return buf
}

func needsQuoting(s string) bool {
	for _, c := range s {
		if c == ' ' || c == '\t' || c == '\n' || c == '"' || c == '=' {
			return true
		}
	}
	return false
}
