package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCallBounded(t *testing.T) {
	boom := errors.New("boom")
	require.NoError(t, callBounded(context.Background(), time.Second, func(context.Context) error { return nil }))
	require.ErrorIs(t, callBounded(context.Background(), time.Second, func(context.Context) error { return boom }), boom)

	err := callBounded(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	err = callBounded(context.Background(), time.Second, func(context.Context) error { panic("kaboom") })
	require.EqualError(t, err, "panic: kaboom")
}

func TestCallBoundedWithoutTimeoutUsesParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := callBounded(ctx, 0, func(context.Context) error {
		select {}
	})
	require.ErrorIs(t, err, context.Canceled)
}
