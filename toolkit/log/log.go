// Package log is the common spot for cvssd logging helpers.
//
// Packages log with the default [slog.Logger] and the *Context methods. Values
// that should appear on every record for a request (the request id, the
// signed-in user) are attached to the Context with [With] and picked up by a
// handler returned from [WrapHandler].
package log

import (
	"context"
	"log/slog"
	"slices"
)

// Ctxkey is a Context key type.
//
// This is unexported so that other packages cannot construct these values.
type ctxkey int

const (
	_ ctxkey = iota

	// AttrsKey is used with [context.Context.Value] to retrieve extra logging
	// information for [slog.Record] values produced by cvssd packages.
	//
	// The value returned will be a [slog.Value] of kind "Group" if present.
	AttrsKey

	// LevelKey is used with [context.Context.Value] to retrieve a per-request
	// minimum [slog.Level].
	LevelKey
)

// With returns a context with the arguments stored as [slog.Attr] at
// [AttrsKey]. Later keys replace earlier ones.
func With(ctx context.Context, args ...any) context.Context {
	return WithAttr(ctx, argsToAttrSlice(args)...)
}

// WithAttr returns a context with the arguments stored at [AttrsKey].
func WithAttr(ctx context.Context, attrs ...slog.Attr) context.Context {
	if v, ok := ctx.Value(AttrsKey).(slog.Value); ok {
		attrs = append(v.Group(), attrs...)
	}
	seen := make(map[string]struct{}, len(attrs))
	dup := func(a slog.Attr) bool {
		_, rm := seen[a.Key]
		seen[a.Key] = struct{}{}
		return rm || (a.Value.Kind() == slog.KindGroup && len(a.Value.Group()) == 0)
	}
	slices.Reverse(attrs)
	attrs = slices.DeleteFunc(attrs, dup)
	slices.Reverse(attrs)
	return context.WithValue(ctx, AttrsKey, slog.GroupValue(attrs...))
}

// Attrs reports the attributes stored in the Context, if any.
func Attrs(ctx context.Context) []slog.Attr {
	if v, ok := ctx.Value(AttrsKey).(slog.Value); ok {
		return v.Group()
	}
	return nil
}

// WithLevel returns a context with the [slog.Leveler] stored at [LevelKey].
// Records at or above this level are emitted regardless of the handler's own
// level.
func WithLevel(ctx context.Context, l slog.Leveler) context.Context {
	return context.WithValue(ctx, LevelKey, l)
}

// Copied out of [log/slog]:

func argsToAttrSlice(args []any) []slog.Attr {
	var (
		attr  slog.Attr
		attrs []slog.Attr
	)
	for len(args) > 0 {
		attr, args = argsToAttr(args)
		attrs = append(attrs, attr)
	}
	return attrs
}

func argsToAttr(args []any) (slog.Attr, []any) {
	const badKey = `!BADKEY`
	switch x := args[0].(type) {
	case string:
		if len(args) == 1 {
			return slog.String(badKey, x), nil
		}
		return slog.Any(x, args[1]), args[2:]
	case slog.Attr:
		return x, args[1:]
	default:
		return slog.Any(badKey, x), args[1:]
	}
}
