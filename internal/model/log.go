package model

import (
	"context"
	"fmt"
)

// LogFunc receives progress lines for the invocation carried by a context.
// The engine turns them into model.log events for the step being run.
type LogFunc func(message string)

type logFuncKey struct{}

// WithLogFunc attaches fn to ctx. A nil fn leaves ctx unchanged.
func WithLogFunc(ctx context.Context, fn LogFunc) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, logFuncKey{}, fn)
}

func emitLog(ctx context.Context, msg string) {
	if fn, ok := ctx.Value(logFuncKey{}).(LogFunc); ok {
		fn(msg)
	}
}

func emitLogf(ctx context.Context, format string, args ...any) {
	if _, ok := ctx.Value(logFuncKey{}).(LogFunc); !ok {
		return
	}
	emitLog(ctx, fmt.Sprintf(format, args...))
}
