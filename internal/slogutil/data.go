package slogutil

import (
	"context"
	"iter"
	"log/slog"
	"maps"
)

// attrSet holds the attributes carried by a context, keyed by attribute key so
// a later With overrides an earlier one.
type attrSet map[string]slog.Attr

type attrSetKey struct{}

func fromContext(ctx context.Context) attrSet {
	set, _ := ctx.Value(attrSetKey{}).(attrSet)
	return set
}

// WithAttrs returns a context carrying attrs in addition to those already
// present. Every record logged with the context gets them.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}

	set := maps.Clone(fromContext(ctx))
	if set == nil {
		set = make(attrSet, len(attrs))
	}
	for _, a := range attrs {
		set[a.Key] = a
	}

	return context.WithValue(ctx, attrSetKey{}, set)
}

// With is WithAttrs for alternating key-value pairs, as accepted by
// slog.Logger.Info.
func With(ctx context.Context, kvargs ...any) context.Context {
	if len(kvargs) == 0 {
		return ctx
	}

	var r slog.Record
	r.Add(kvargs...)

	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	return WithAttrs(ctx, attrs...)
}

// Attrs iterates over the attributes carried by ctx.
func Attrs(ctx context.Context) iter.Seq[slog.Attr] {
	return func(yield func(slog.Attr) bool) {
		for _, a := range fromContext(ctx) {
			if !yield(a) {
				return
			}
		}
	}
}

// Data returns the attributes carried by ctx as a map.
func Data(ctx context.Context) map[string]any {
	set := fromContext(ctx)
	if set == nil {
		return nil
	}

	m := make(map[string]any, len(set))
	for k, a := range set {
		m[k] = a.Value.Any()
	}

	return m
}

type dataHook struct{}

func (dataHook) Run(ctx context.Context, r *slog.Record) {
	for a := range Attrs(ctx) {
		r.AddAttrs(a)
	}
}
