package logger

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// ColorTextHandler prefixes each slog.TextHandler line with an ANSI
// coloured level tag. The tag is written outside the text encoding so the
// escape codes are not quoted.
type ColorTextHandler struct {
	inner slog.Handler
	cw    *colorWriter
}

type colorWriter struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
}

func (c *colorWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(c.w, c.prefix); err != nil {
		return 0, err
	}
	return c.w.Write(p)
}

// NewColorTextHandler creates a new ColorTextHandler
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *ColorTextHandler {
	cw := &colorWriter{w: w}
	return &ColorTextHandler{inner: slog.NewTextHandler(cw, opts), cw: cw}
}

func (h *ColorTextHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	h.cw.mu.Lock()
	defer h.cw.mu.Unlock()
	h.cw.prefix = levelColor(r.Level) + r.Level.String() + "\033[0m "
	return h.inner.Handle(ctx, r)
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorTextHandler{inner: h.inner.WithAttrs(attrs), cw: h.cw}
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return &ColorTextHandler{inner: h.inner.WithGroup(name), cw: h.cw}
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\033[31m" // Red
	case l >= slog.LevelWarn:
		return "\033[33m" // Yellow
	case l >= slog.LevelInfo:
		return "\033[32m" // Green
	default:
		return "\033[36m" // Cyan
	}
}
