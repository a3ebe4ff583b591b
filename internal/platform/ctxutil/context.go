package ctxutil

import (
	"context"
	"time"
)

func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// Detached returns a context that keeps ctx's values but not its cancellation,
// bounded by timeout. Used for writes that must land after the caller gave up.
func Detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(Default(ctx))
	if timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, timeout)
}
