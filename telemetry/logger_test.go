package telemetry

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/clue/log"
)

type captureLogger struct {
	mu      sync.Mutex
	level   string
	msg     string
	keyvals []any
}

func (c *captureLogger) set(level, msg string, keyvals []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level, c.msg, c.keyvals = level, msg, keyvals
}

func (c *captureLogger) Debug(_ context.Context, msg string, kv ...any) { c.set("debug", msg, kv) }
func (c *captureLogger) Info(_ context.Context, msg string, kv ...any)  { c.set("info", msg, kv) }
func (c *captureLogger) Warn(_ context.Context, msg string, kv ...any)  { c.set("warn", msg, kv) }
func (c *captureLogger) Error(_ context.Context, msg string, kv ...any) { c.set("error", msg, kv) }

func TestClueLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.Context(context.Background(), log.WithOutput(&buf), log.WithFormat(log.FormatJSON))
	logger := NewClueLogger()

	logger.Info(ctx, "worker polling", "task_queue", "hello")
	require.Contains(t, buf.String(), `"msg":"worker polling"`)
	require.Contains(t, buf.String(), `"task_queue":"hello"`)

	buf.Reset()
	logger.Warn(ctx, "telemetry unavailable", "err", errors.New("collector down"))
	require.Contains(t, buf.String(), `"severity":"warning"`)
	require.Contains(t, buf.String(), "collector down")

	buf.Reset()
	logger.Error(ctx, "greeting failed", "err", errors.New("boom"))
	require.Contains(t, buf.String(), "greeting failed")
	require.Contains(t, buf.String(), "boom")
}

func TestTemporalLoggerRenamesErrorKey(t *testing.T) {
	capture := &captureLogger{}
	logger := NewTemporalLogger(context.Background(), capture)
	boom := errors.New("boom")
	keyvals := []any{"Namespace", "default", "Error", boom}

	logger.Error("poll failed", keyvals...)
	require.Equal(t, "error", capture.level)
	require.Equal(t, "poll failed", capture.msg)
	require.Equal(t, []any{"Namespace", "default", "err", boom}, capture.keyvals)
	require.Equal(t, "Error", keyvals[2], "caller keyvals must not be modified")

	logger.Error("odd", "Error", "not an error value")
	require.Equal(t, []any{"Error", "not an error value"}, capture.keyvals)

	logger.Debug("d")
	require.Equal(t, "debug", capture.level)
	logger.Info("i")
	require.Equal(t, "info", capture.level)
	logger.Warn("w", "k", "v")
	require.Equal(t, "warn", capture.level)
	require.Equal(t, []any{"k", "v"}, capture.keyvals)
}

func TestTemporalLoggerIgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	logger := NewTemporalLogger(ctx, nil)
	require.NoError(t, logger.ctx.Err())
	logger.Info("still logs")
}

func TestKVConversions(t *testing.T) {
	attrs := kvSliceToAttrs([]any{"s", "v", "i", 1, "i64", int64(2), "f", 1.5, "b", true, "n", nil, 3, "skipped", "d", struct{ X int }{1}, "trailing"})
	got := map[string]string{}
	for _, a := range attrs {
		got[string(a.Key)] = a.Value.Emit()
	}
	require.Equal(t, map[string]string{
		"s": "v", "i": "1", "i64": "2", "f": "1.5", "b": "true", "n": "", "d": "{1}", "trailing": "",
	}, got)

	tags := tagsToAttrs([]string{"outcome", "success", "dangling"})
	require.Len(t, tags, 2)
	require.Equal(t, "", tags[1].Value.AsString())

	require.Nil(t, errorFrom([]any{"err", "not an error"}))
	boom := errors.New("boom")
	require.Equal(t, boom, errorFrom([]any{"k", 1, "err", boom}))
}
