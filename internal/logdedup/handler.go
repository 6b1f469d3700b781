// Package logdedup wraps a slog.Handler with duplicate suppression: an
// identical consecutive line (message plus attributes) repeats at most
// twice within the window, so a stuck emulator or unreachable server
// cannot flood the log.
package logdedup

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultWindow = 60 * time.Second

type state struct {
	mu       sync.Mutex
	lastMsg  string
	repeats  int
	lastTime time.Time
}

// Handler filters records before delegating to the wrapped handler.
type Handler struct {
	inner  slog.Handler
	window time.Duration
	st     *state
}

// New wraps inner with the default 60-second window.
func New(inner slog.Handler) *Handler {
	return &Handler{inner: inner, window: defaultWindow, st: &state{}}
}

// Enabled reports whether the wrapped handler handles records at the
// given level.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle drops a record when its line already repeated twice within the
// window.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	key := recordKey(r)

	h.st.mu.Lock()
	if key == h.st.lastMsg {
		h.st.repeats++
		if h.st.repeats >= 3 && time.Since(h.st.lastTime) < h.window {
			h.st.mu.Unlock()
			return nil
		}
	} else {
		h.st.lastMsg = key
		h.st.repeats = 0
	}
	h.st.lastTime = time.Now()
	h.st.mu.Unlock()

	return h.inner.Handle(ctx, r)
}

// recordKey identifies a record by its message and attribute values, so
// records sharing a message but differing in detail never collide.
func recordKey(r slog.Record) string {
	if r.NumAttrs() == 0 {
		return r.Message
	}
	var sb strings.Builder
	sb.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		sb.WriteByte(' ')
		sb.WriteString(a.String())
		return true
	})
	return sb.String()
}

// WithAttrs returns a handler sharing the same suppression state.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs), window: h.window, st: h.st}
}

// WithGroup returns a handler sharing the same suppression state.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name), window: h.window, st: h.st}
}
