package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gnoswap-labs/tverify/internal/backend"
	"github.com/gnoswap-labs/tverify/internal/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const testTimeout = 5 * time.Second

// fakeBackend records the order of calls and can be told to block, fail or
// panic on particular programs.
type fakeBackend struct {
	mu      sync.Mutex
	events  []string
	calls   atomic.Int32
	gates   map[string]chan struct{}
	started chan string
	fail    map[string]error
	panics  map[string]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		gates:   map[string]chan struct{}{},
		started: make(chan string, 64),
		fail:    map[string]error{},
		panics:  map[string]bool{},
	}
}

func (f *fakeBackend) gate(name string) chan struct{} {
	ch := make(chan struct{})
	f.gates[name] = ch
	return ch
}

func (f *fakeBackend) record(ev string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeBackend) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeBackend) factory(context.Context, backend.Config) (backend.Session, error) {
	return backend.FuncSession(func(_ context.Context, prog backend.Program) (backend.Result, error) {
		f.calls.Add(1)
		f.record("start " + prog.Name)
		f.started <- prog.Name
		if ch, ok := f.gates[prog.Name]; ok {
			<-ch
		}
		defer f.record("end " + prog.Name)
		if f.panics[prog.Name] {
			panic("backend exploded")
		}
		if err := f.fail[prog.Name]; err != nil {
			return backend.Result{}, err
		}
		return backend.Result{Failures: []backend.Failure{{Kind: "k", Message: prog.Text}}}, nil
	}), nil
}

func wait(t *testing.T, h *Handle) (backend.Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "handle for %s never resolved", h.Program())
	return res, err
}

func waitStarted(t *testing.T, f *fakeBackend, name string) {
	t.Helper()
	select {
	case got := <-f.started:
		require.Equal(t, name, got)
	case <-time.After(testTimeout):
		t.Fatalf("%s never started", name)
	}
}

func newTestDispatcher(t *testing.T, f *fakeBackend, opts ...Option) *Dispatcher {
	t.Helper()
	configs := []backend.Config{{Name: "silicon"}, {Name: "carbon"}}
	d, err := New(configs, append([]Option{WithFactory(f.factory)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(d.Abort)
	return d
}

func prog(name string) backend.Program {
	return backend.Program{Name: name, Text: "text of " + name}
}

func TestSubmitOrdering(t *testing.T) {
	t.Parallel()
	f := newFakeBackend()
	d := newTestDispatcher(t, f)

	var handles []*Handle
	for _, name := range []string{"a", "b", "c"} {
		h, err := d.Submit("silicon", prog(name))
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for i, h := range handles {
		res, err := wait(t, h)
		require.NoError(t, err)
		assert.Equal(t, h.Program(), res.Program)
		assert.Equal(t, "silicon", res.Backend)
		assert.Equal(t, "text of "+[]string{"a", "b", "c"}[i], res.Failures[0].Message)
	}
	assert.Equal(t, []string{"start a", "end a", "start b", "end b", "start c", "end c"}, f.Events())
}

func TestConfigurationsAreIsolated(t *testing.T) {
	t.Parallel()
	f := newFakeBackend()
	release := f.gate("slow")
	d := newTestDispatcher(t, f)

	slow, err := d.Submit("silicon", prog("slow"))
	require.NoError(t, err)
	waitStarted(t, f, "slow")
	assert.Equal(t, StateBusy, d.State("silicon"))

	fast, err := d.Submit("carbon", prog("fast"))
	require.NoError(t, err)
	_, err = wait(t, fast)
	require.NoError(t, err)

	select {
	case <-slow.Done():
		t.Fatal("slow job resolved before it was released")
	default:
	}
	close(release)
	_, err = wait(t, slow)
	assert.NoError(t, err)
}

func TestWorkerFault(t *testing.T) {
	t.Parallel()
	f := newFakeBackend()
	f.fail["bad"] = errors.New("connection reset")
	release := f.gate("bad")
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	d := newTestDispatcher(t, f, WithMetrics(metrics))

	ok, err := d.Submit("silicon", prog("ok"))
	require.NoError(t, err)
	bad, err := d.Submit("silicon", prog("bad"))
	require.NoError(t, err)
	waitStarted(t, f, "ok")
	waitStarted(t, f, "bad")
	queued, err := d.Submit("silicon", prog("queued"))
	require.NoError(t, err)
	close(release)

	_, err = wait(t, ok)
	assert.NoError(t, err)

	_, err = wait(t, bad)
	assert.ErrorIs(t, err, ErrWorkerFault)
	assert.ErrorContains(t, err, "connection reset")

	_, err = wait(t, queued)
	assert.ErrorIs(t, err, ErrWorkerFault)

	_, err = d.Submit("silicon", prog("later"))
	assert.ErrorIs(t, err, ErrWorkerFault)
	assert.Equal(t, StateStopped, d.State("silicon"))

	// the other configuration keeps working
	other, err := d.Submit("carbon", prog("other"))
	require.NoError(t, err)
	_, err = wait(t, other)
	assert.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Faults.WithLabelValues("silicon")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Faults.WithLabelValues("carbon")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Completed.WithLabelValues("silicon", outcomeFault)))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.QueueDepth.WithLabelValues("silicon")))
	assert.NotContains(t, f.Events(), "start queued")
}

func TestWorkerPanicIsAFault(t *testing.T) {
	t.Parallel()
	f := newFakeBackend()
	f.panics["boom"] = true
	d := newTestDispatcher(t, f)

	h, err := d.Submit("silicon", prog("boom"))
	require.NoError(t, err)
	_, err = wait(t, h)
	assert.ErrorIs(t, err, ErrWorkerFault)
	assert.ErrorContains(t, err, "backend exploded")
}

func TestSessionOpenFailure(t *testing.T) {
	t.Parallel()
	factory := func(context.Context, backend.Config) (backend.Session, error) {
		return nil, fmt.Errorf("verifier not installed")
	}
	d, err := New([]backend.Config{{Name: "silicon"}}, WithFactory(factory))
	require.NoError(t, err)
	defer d.Abort()

	h, err := d.Submit("silicon", prog("a"))
	if err == nil {
		_, err = wait(t, h)
	}
	assert.ErrorIs(t, err, ErrWorkerFault)
	assert.ErrorContains(t, err, "verifier not installed")
}

func TestShutdownDrainsQueue(t *testing.T) {
	t.Parallel()
	f := newFakeBackend()
	release := f.gate("first")
	d := newTestDispatcher(t, f)

	var handles []*Handle
	for _, name := range []string{"first", "second", "third"} {
		h, err := d.Submit("silicon", prog(name))
		require.NoError(t, err)
		handles = append(handles, h)
	}
	waitStarted(t, f, "first")

	done := make(chan error, 1)
	go func() { done <- d.Shutdown(context.Background()) }()

	require.Eventually(t, func() bool { return d.State("silicon") == StateDraining }, testTimeout, time.Millisecond)
	_, err := d.Submit("silicon", prog("late"))
	assert.ErrorIs(t, err, ErrStopped)

	close(release)
	for _, h := range handles {
		_, err := wait(t, h)
		assert.NoError(t, err)
	}
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("shutdown did not return")
	}
	assert.Equal(t, StateStopped, d.State("silicon"))
	assert.Equal(t, StateStopped, d.State("carbon"))

	_, err = d.Submit("carbon", prog("late"))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestAbortCancelsQueuedJobs(t *testing.T) {
	t.Parallel()
	f := newFakeBackend()
	release := f.gate("inflight")
	d := newTestDispatcher(t, f)

	inflight, err := d.Submit("silicon", prog("inflight"))
	require.NoError(t, err)
	waitStarted(t, f, "inflight")
	queued, err := d.Submit("silicon", prog("queued"))
	require.NoError(t, err)

	d.Abort()
	close(release)

	_, err = wait(t, inflight)
	assert.NoError(t, err, "in-flight job runs to completion")
	_, err = wait(t, queued)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.NotContains(t, f.Events(), "start queued")
}

func TestSubmitAfterAbortFailsFast(t *testing.T) {
	t.Parallel()
	f := newFakeBackend()
	release := f.gate("inflight")
	d := newTestDispatcher(t, f)

	inflight, err := d.Submit("silicon", prog("inflight"))
	require.NoError(t, err)
	waitStarted(t, f, "inflight")

	d.Abort()
	h, err := d.Submit("silicon", prog("late"))
	assert.ErrorIs(t, err, ErrStopped)
	assert.Nil(t, h)
	_, err = d.Submit("carbon", prog("late"))
	assert.ErrorIs(t, err, ErrStopped)

	close(release)
	_, err = wait(t, inflight)
	assert.NoError(t, err)
	assert.NotContains(t, f.Events(), "start late")
}

func TestAbandonedHandle(t *testing.T) {
	t.Parallel()
	f := newFakeBackend()
	release := f.gate("a")
	d := newTestDispatcher(t, f)

	h, err := d.Submit("silicon", prog("a"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	next, err := d.Submit("silicon", prog("b"))
	require.NoError(t, err)
	_, err = wait(t, next)
	require.NoError(t, err)
	assert.Equal(t, []string{"start a", "end a", "start b", "end b"}, f.Events())
}

func TestSubmitConcurrent(t *testing.T) {
	t.Parallel()
	f := newFakeBackend()
	d := newTestDispatcher(t, f)

	var wg sync.WaitGroup
	handles := make(chan *Handle, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := d.Submit("silicon", prog(fmt.Sprintf("p%d", i)))
			if assert.NoError(t, err) {
				handles <- h
			}
		}(i)
	}
	wg.Wait()
	close(handles)
	for h := range handles {
		_, err := wait(t, h)
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 40, f.calls.Load())
}

func TestWorkerUsesCache(t *testing.T) {
	t.Parallel()
	c, err := cache.New(t.TempDir(), nil)
	require.NoError(t, err)
	f := newFakeBackend()
	metrics := NewMetrics(prometheus.NewRegistry())
	d := newTestDispatcher(t, f, WithCache(c), WithMetrics(metrics))

	for i := 0; i < 3; i++ {
		h, err := d.Submit("silicon", prog("same"))
		require.NoError(t, err)
		res, err := wait(t, h)
		require.NoError(t, err)
		assert.Len(t, res.Failures, 1)
	}
	assert.EqualValues(t, 1, f.calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Completed.WithLabelValues("silicon", outcomeCached)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Completed.WithLabelValues("silicon", outcomeFailed)))
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestWorkerRecordsSpans(t *testing.T) {
	t.Parallel()
	c, err := cache.New(t.TempDir(), nil)
	require.NoError(t, err)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	f := newFakeBackend()
	f.fail["bad"] = errors.New("connection reset")
	d := newTestDispatcher(t, f, WithCache(c), WithTracerProvider(tp))

	for _, name := range []string{"ok", "ok", "bad"} {
		h, err := d.Submit("silicon", prog(name))
		require.NoError(t, err)
		_, _ = wait(t, h)
	}

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	for _, span := range spans {
		assert.Equal(t, "dispatch.verify", span.Name())
		b, ok := spanAttr(span, "backend")
		require.True(t, ok)
		assert.Equal(t, "silicon", b.AsString())
	}

	failures, ok := spanAttr(spans[0], "failures")
	require.True(t, ok)
	assert.EqualValues(t, 1, failures.AsInt64())

	cached, ok := spanAttr(spans[1], "cached")
	require.True(t, ok)
	assert.True(t, cached.AsBool())

	assert.Equal(t, codes.Error, spans[2].Status().Code)
	assert.Contains(t, spans[2].Status().Description, "connection reset")
	program, _ := spanAttr(spans[2], "program")
	assert.Equal(t, "bad", program.AsString())
}

func TestNewErrors(t *testing.T) {
	t.Parallel()
	_, err := New([]backend.Config{{Name: "a"}, {Name: "a"}})
	assert.Error(t, err)

	_, err = New([]backend.Config{{}})
	assert.Error(t, err)

	d, err := New([]backend.Config{{Name: "b"}, {Name: "a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, d.Backends())
	_, err = d.Submit("z", prog("x"))
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
