// Package slogutil builds the process logger: a slog.Handler with hooks that
// copies attributes carried by the context into every record.
package slogutil

import (
	"context"
	"log/slog"
	"os"
	"slices"
)

// ErrorKey is the attribute key under which errors are logged.
const ErrorKey = "error"

// Hook runs on a copy of every record before it is written.
type Hook interface {
	Run(ctx context.Context, r *slog.Record)
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, r *slog.Record)

// Run calls f.
func (f HookFunc) Run(ctx context.Context, r *slog.Record) { f(ctx, r) }

// Handler forwards records to an inner slog.Handler after running its hooks.
// The context attribute hook is always first.
type Handler struct {
	inner slog.Handler
	hooks []Hook
}

// NewHandler builds a text or JSON handler from cfg.
func NewHandler(config ...Config) Handler {
	cfg := mergeConfig(config...)

	opts := &slog.HandlerOptions{
		Level:       cfg.Level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: errorValues(cfg.ReplaceAttr),
	}

	var inner slog.Handler = slog.NewTextHandler(cfg.Writer, opts)
	if cfg.JSON {
		inner = slog.NewJSONHandler(cfg.Writer, opts)
	}
	return WrapHandler(inner).WithHooks(cfg.Hooks...)
}

// WrapHandler adds context attributes to h. A nil h logs text to stdout.
func WrapHandler(h slog.Handler) Handler {
	if h == nil {
		h = slog.NewTextHandler(os.Stdout, nil)
	}
	return Handler{inner: h, hooks: []Hook{dataHook{}}}
}

// WithHooks returns a handler running hooks after the existing ones.
func (h Handler) WithHooks(hooks ...Hook) Handler {
	if len(hooks) == 0 {
		return h
	}
	return h.with(h.inner, slices.Concat(h.hooks, hooks))
}

func (h Handler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if len(h.hooks) == 0 {
		return h.inner.Handle(ctx, r)
	}

	r = r.Clone()
	for _, hook := range h.hooks {
		hook.Run(ctx, &r)
	}
	return h.inner.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(h.inner.WithAttrs(attrs), h.hooks)
}

func (h Handler) WithGroup(name string) slog.Handler {
	return h.with(h.inner.WithGroup(name), h.hooks)
}

func (h Handler) with(inner slog.Handler, hooks []Hook) Handler {
	return Handler{inner: inner, hooks: hooks}
}

// Redact replaces the value of every top-level attribute named in keys.
// Backend credentials are logged through it as "********".
func Redact(keys ...string) ReplaceAttrFunc {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && slices.Contains(keys, a.Key) && a.Value.String() != "" {
			return slog.String(a.Key, "********")
		}
		return a
	}
}

// errorValues logs errors under ErrorKey as their message; JSON output would
// otherwise render most of them as {}.
func errorValues(next ReplaceAttrFunc) ReplaceAttrFunc {
	return func(groups []string, a slog.Attr) slog.Attr {
		if err, ok := a.Value.Any().(error); ok && a.Key == ErrorKey {
			a = slog.String(ErrorKey, err.Error())
		}
		if next == nil {
			return a
		}
		return next(groups, a)
	}
}
