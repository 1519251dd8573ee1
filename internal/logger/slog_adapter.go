package logger

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
)

// NewSlogHandler returns a slog.Handler that forwards records to l.
// If l is nil, it returns nil.
func NewSlogHandler(l *Logger) slog.Handler {
	if l == nil {
		return nil
	}
	return &slogAdapter{log: l}
}

// Slog wraps l in a *slog.Logger. A nil l yields a logger backed by the
// global instance.
func Slog(l *Logger) *slog.Logger {
	if l == nil {
		l = Global()
	}
	return slog.New(NewSlogHandler(l))
}

type slogAdapter struct {
	log    *Logger
	groups []string
	attrs  []slog.Attr
}

func (h *slogAdapter) Enabled(_ context.Context, level slog.Level) bool {
	return fromSlogLevel(level) >= h.log.GetLevel()
}

func (h *slogAdapter) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	b.WriteString(record.Message)

	for _, attr := range h.attrs {
		writeAttr(&b, h.groups, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(&b, h.groups, attr)
		return true
	})

	msg := strings.TrimSpace(b.String())
	switch fromSlogLevel(record.Level) {
	case LevelError:
		h.log.Error("%s", msg)
	case LevelWarn:
		h.log.Warn("%s", msg)
	case LevelInfo:
		h.log.Info("%s", msg)
	default:
		h.log.Debug("%s", msg)
	}
	return nil
}

func (h *slogAdapter) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	next.attrs = append(next.attrs, attrs...)
	return next
}

func (h *slogAdapter) WithGroup(name string) slog.Handler {
	next := h.clone()
	if name != "" {
		next.groups = append(next.groups, name)
	}
	return next
}

func (h *slogAdapter) clone() *slogAdapter {
	return &slogAdapter{
		log:    h.log,
		groups: append([]string(nil), h.groups...),
		attrs:  append([]slog.Attr(nil), h.attrs...),
	}
}

func fromSlogLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// writeAttr appends " key=value", flattening groups into dotted keys.
// Values containing spaces are quoted.
func writeAttr(b *strings.Builder, groups []string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if attr.Value.Kind() == slog.KindGroup {
		nested := groups
		if attr.Key != "" {
			nested = append(append([]string(nil), groups...), attr.Key)
		}
		for _, child := range attr.Value.Group() {
			writeAttr(b, nested, child)
		}
		return
	}

	key := attr.Key
	if key == "" {
		key = "attr"
	}
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	value := attr.Value.String()
	if strings.ContainsAny(value, " \t\n\"") {
		value = strconv.Quote(value)
	}

	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
}
