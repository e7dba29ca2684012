// Package correlation carries per-connection log context.
//
// Every accepted connection gets a short correlation id and, once known, its
// connection id. Handler copies both onto every record logged with that context.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

type fields struct {
	id     string
	connID string
}

type contextKey struct{}

// NewID generates an 8-character hex correlation id.
func NewID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// WithID returns a context carrying the correlation id.
func WithID(ctx context.Context, id string) context.Context {
	f := fromContext(ctx)
	f.id = id
	return context.WithValue(ctx, contextKey{}, f)
}

// WithConn returns a context carrying the connection id.
func WithConn(ctx context.Context, connID string) context.Context {
	f := fromContext(ctx)
	f.connID = connID
	return context.WithValue(ctx, contextKey{}, f)
}

// ID extracts the correlation id, returning ("", false) if not present.
func ID(ctx context.Context) (string, bool) {
	f := fromContext(ctx)
	return f.id, f.id != ""
}

// ConnID extracts the connection id, returning ("", false) if not present.
func ConnID(ctx context.Context) (string, bool) {
	f := fromContext(ctx)
	return f.connID, f.connID != ""
}

func fromContext(ctx context.Context) fields {
	f, _ := ctx.Value(contextKey{}).(fields)
	return f
}

// Handler wraps a slog.Handler and adds "correlation_id" and "conn_id"
// attributes when the context carries them.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	f := fromContext(ctx)
	if f.id != "" {
		r.AddAttrs(slog.String("correlation_id", f.id))
	}
	if f.connID != "" {
		r.AddAttrs(slog.String("conn_id", f.connID))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
