// Package logx provides the colored terminal handler used for interactive runs.
package logx

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"sync"

	"github.com/fatih/color"
)

// PrettyHandlerOptions configures a PrettyHandler.
type PrettyHandlerOptions struct {
	SlogOpts slog.HandlerOptions
}

// PrettyHandler renders one line per record: "[15:04:05.000] LEVEL: message {attrs}".
type PrettyHandler struct {
	slog.Handler
	l     *log.Logger
	mu    *sync.Mutex
	attrs []slog.Attr
	group []string
}

// NewPrettyHandler returns a handler writing to out.
func NewPrettyHandler(out io.Writer, opts PrettyHandlerOptions) *PrettyHandler {
	return &PrettyHandler{
		Handler: slog.NewJSONHandler(out, &opts.SlogOpts),
		l:       log.New(out, "", 0),
		mu:      &sync.Mutex{},
	}
}

// Handle formats r.
func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String() + ":"
	switch {
	case r.Level >= slog.LevelError:
		level = color.RedString(level)
	case r.Level >= slog.LevelWarn:
		level = color.YellowString(level)
	case r.Level >= slog.LevelInfo:
		level = color.BlueString(level)
	default:
		level = color.MagentaString(level)
	}

	fields := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		addAttr(fields, a)
	}
	target := fields
	for _, name := range h.group {
		target = subMap(target, name)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(target, a)
		return true
	})

	b, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	timeStr := r.Time.Format("[15:04:05.000]")
	msg := color.CyanString(r.Message)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.l.Println(timeStr, level, msg, color.WhiteString(string(b)))
	return nil
}

func addAttr(fields map[string]any, a slog.Attr) {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		group := fields
		if a.Key != "" {
			group = subMap(fields, a.Key)
		}
		for _, ga := range v.Group() {
			addAttr(group, ga)
		}
	default:
		val := v.Any()
		if err, ok := val.(error); ok {
			val = err.Error()
		}
		fields[a.Key] = val
	}
}

// subMap returns the map stored under key, creating it when absent or not a map.
func subMap(fields map[string]any, key string) map[string]any {
	if m, ok := fields[key].(map[string]any); ok {
		return m
	}
	m := make(map[string]any)
	fields[key] = m
	return m
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.Handler = h.Handler.WithAttrs(attrs)
	for i := len(h.group) - 1; i >= 0; i-- {
		attrs = []slog.Attr{{Key: h.group[i], Value: slog.GroupValue(attrs...)}}
	}
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

// WithGroup nests the attributes of following records under name.
func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.Handler = h.Handler.WithGroup(name)
	next.group = append(append([]string{}, h.group...), name)
	return &next
}
