package temporal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

type fakeRunner struct {
	startErr error
	release  chan struct{}

	mu         sync.Mutex
	registered []string
	starts     atomic.Int32
	stops      atomic.Int32
}

func (f *fakeRunner) Start() error {
	f.starts.Add(1)
	return f.startErr
}

func (f *fakeRunner) Stop() {
	f.stops.Add(1)
	if f.release != nil {
		<-f.release
	}
}

func (f *fakeRunner) RegisterWorkflowWithOptions(_ any, options workflow.RegisterOptions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, options.Name)
}

func hello(workflow.Context, string) (string, error) { return "", nil }

func TestRuntimeRegisterAndStart(t *testing.T) {
	fr := &fakeRunner{}
	rt := newRuntime(fr, "queue", nil)

	require.Error(t, rt.RegisterWorkflow("", hello))
	require.NoError(t, rt.RegisterWorkflow("HelloWorldWorkflow", hello))
	require.NoError(t, rt.Start(context.Background()))
	require.NoError(t, rt.Start(context.Background()))
	require.Equal(t, int32(1), fr.starts.Load())
	require.ErrorIs(t, rt.RegisterWorkflow("Late", hello), ErrRuntimeStarted)
	require.Equal(t, []string{"HelloWorldWorkflow"}, fr.registered)
	require.Equal(t, "queue", rt.TaskQueue())
}

func TestRuntimeStartError(t *testing.T) {
	boom := errors.New("namespace not found")
	rt := newRuntime(&fakeRunner{startErr: boom}, "queue", nil)
	err := rt.Start(context.Background())
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), `"queue"`)
}

func TestRuntimeShutdownWithoutStart(t *testing.T) {
	fr := &fakeRunner{}
	rt := newRuntime(fr, "queue", nil)
	require.NoError(t, rt.Shutdown(context.Background()))
	require.Equal(t, int32(0), fr.stops.Load())
}

func TestRuntimeStopsOnce(t *testing.T) {
	fr := &fakeRunner{}
	rt := newRuntime(fr, "queue", nil)
	require.NoError(t, rt.Start(context.Background()))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				errs <- rt.Shutdown(context.Background())
				return
			}
			errs <- rt.ForceShutdown(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), fr.stops.Load())
}

func TestRuntimeForceShutdownAfterTimeout(t *testing.T) {
	fr := &fakeRunner{release: make(chan struct{})}
	rt := newRuntime(fr, "queue", nil)
	require.NoError(t, rt.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, rt.Shutdown(ctx), context.DeadlineExceeded)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(fr.release)
	}()
	fctx, fcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer fcancel()
	require.NoError(t, rt.ForceShutdown(fctx))
	require.Equal(t, int32(1), fr.stops.Load())
}

func TestRuntimeFatalReportedOnce(t *testing.T) {
	rt := newRuntime(&fakeRunner{}, "queue", nil)
	first := errors.New("first")
	rt.reportFatal(first)
	rt.reportFatal(errors.New("second"))
	require.Equal(t, first, <-rt.Fatal())
	select {
	case err := <-rt.Fatal():
		t.Fatalf("unexpected second fatal error: %v", err)
	default:
	}
}

func TestNewRuntimeValidation(t *testing.T) {
	_, err := NewRuntime(nil, RuntimeOptions{TaskQueue: "q"})
	require.Error(t, err)

	conn, err := Dial(context.Background(), ConnectionOptions{HostPort: "127.0.0.1:1", Lazy: true})
	require.NoError(t, err)
	defer func() { _ = conn.Shutdown(context.Background()) }()

	_, err = NewRuntime(conn, RuntimeOptions{})
	require.Error(t, err)

	rt, err := NewRuntime(conn, RuntimeOptions{TaskQueue: "q"})
	require.NoError(t, err)
	require.NoError(t, rt.RegisterWorkflow("HelloWorldWorkflow", hello))
	require.NoError(t, rt.Shutdown(context.Background()))
}

func TestNewRuntimeUsesRunnerFactory(t *testing.T) {
	stub := &stubClient{}
	conn, err := Dial(context.Background(), ConnectionOptions{
		Client:          stub,
		Instrumentation: InstrumentationOptions{DisableMetrics: true},
	})
	require.NoError(t, err)

	fr := &fakeRunner{}
	var (
		gotClient client.Client
		gotQueue  string
		gotOpts   worker.Options
	)
	rt, err := NewRuntime(conn, RuntimeOptions{
		TaskQueue:   "queue",
		StopTimeout: 5 * time.Second,
		NewRunner: func(c client.Client, taskQueue string, opts worker.Options) Runner {
			gotClient, gotQueue, gotOpts = c, taskQueue, opts
			return fr
		},
	})
	require.NoError(t, err)
	require.Same(t, stub, gotClient)
	require.Equal(t, "queue", gotQueue)
	require.Equal(t, 5*time.Second, gotOpts.WorkerStopTimeout)
	require.Len(t, gotOpts.Interceptors, 1, "workers on an injected client get the tracing interceptor")
	require.NotNil(t, gotOpts.OnFatalError)

	boom := errors.New("namespace deleted")
	gotOpts.OnFatalError(boom)
	require.Equal(t, boom, <-rt.Fatal())

	_, err = NewRuntime(conn, RuntimeOptions{
		TaskQueue: "queue",
		NewRunner: func(client.Client, string, worker.Options) Runner { return nil },
	})
	require.Error(t, err)
}
