package logger

import (
	"context"
	"slices"
)

type ctxFieldsKey struct{}

// ContextWith returns a copy of ctx carrying fields in addition to any
// already present. Loggers add them through WithContext.
func ContextWith(ctx context.Context, fields ...Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	return context.WithValue(ctx, ctxFieldsKey{}, slices.Concat(FieldsFrom(ctx), fields))
}

// FieldsFrom returns the fields stored on ctx.
func FieldsFrom(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(ctxFieldsKey{}).([]Field)
	return fields
}
