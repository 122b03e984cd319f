package lifecycle

import (
	"context"
	"fmt"
	"time"
)

// callBounded runs fn in its own goroutine and returns when fn returns or
// when timeout elapses, whichever comes first. A fn that ignores its context
// is abandoned after the timeout; the goroutine is left to finish on its own.
// Panics raised by fn are returned as errors.
func callBounded(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	errc := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errc <- fmt.Errorf("panic: %v", r)
			}
		}()
		errc <- fn(ctx)
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
