package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gnoswap-labs/tverify/internal/backend"
	"github.com/gnoswap-labs/tverify/internal/cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	// ErrStopped is returned by Submit once the worker has been shut down.
	ErrStopped = errors.New("dispatch: worker stopped")
	// ErrWorkerFault wraps the failure that terminated a worker. Every job
	// pending at that time, and every later submission, reports it.
	ErrWorkerFault = errors.New("dispatch: worker fault")
	// ErrCanceled resolves jobs that were still queued when the worker was
	// aborted, so their callers never wait forever.
	ErrCanceled = errors.New("dispatch: job canceled")
)

// State of a worker.
type State int

const (
	StateIdle State = iota
	StateBusy
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type job struct {
	program backend.Program
	handle  *Handle
}

// Worker owns one backend session and runs the jobs submitted to it one at
// a time in submission order.
type Worker struct {
	cfg     backend.Config
	factory backend.Factory
	cache   *cache.Cache
	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer

	mu     sync.Mutex
	queue  []*job
	busy   bool
	closed bool
	state  State
	fault  error

	notify chan struct{}
	exited chan struct{}
}

func newWorker(ctx context.Context, cfg backend.Config, o *options) *Worker {
	w := &Worker{
		cfg:     cfg,
		factory: o.factory,
		cache:   o.cache,
		logger:  o.logger.With(zap.String("backend", cfg.Name)),
		metrics: o.metrics,
		tracer:  o.tracerProvider.Tracer(tracerName),
		notify:  make(chan struct{}, 1),
		exited:  make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

// Submit enqueues prog and returns its pending result.
func (w *Worker) Submit(prog backend.Program) (*Handle, error) {
	w.mu.Lock()
	if w.closed {
		err := w.fault
		w.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, ErrStopped
	}
	h := newHandle(prog.Name)
	w.queue = append(w.queue, &job{program: prog, handle: h})
	w.mu.Unlock()

	w.metrics.Submitted.WithLabelValues(w.cfg.Name).Inc()
	w.metrics.QueueDepth.WithLabelValues(w.cfg.Name).Inc()
	w.wake()
	return h, nil
}

// State returns the current state of the worker.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the fault that stopped the worker, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fault
}

// Shutdown closes the queue and waits until the worker has run every job
// already submitted. New submissions fail with ErrStopped.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		if w.busy || len(w.queue) > 0 {
			w.state = StateDraining
		}
	}
	w.mu.Unlock()
	w.wake()

	select {
	case <-w.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) wake() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.exited)

	session, err := w.open(ctx)
	if err != nil {
		w.fail(err)
		return
	}
	defer session.Close()
	w.logger.Info("worker started")

	for {
		j, ok := w.next(ctx)
		if !ok {
			w.logger.Info("worker stopped")
			return
		}

		res, err := w.execute(ctx, session, j.program)
		w.mu.Lock()
		w.busy = false
		w.mu.Unlock()
		if err != nil {
			fault := fmt.Errorf("%w: backend %q: %v", ErrWorkerFault, w.cfg.Name, err)
			j.handle.resolve(backend.Result{}, fault)
			w.metrics.Completed.WithLabelValues(w.cfg.Name, outcomeFault).Inc()
			w.fail(fault)
			return
		}
		if !j.handle.resolve(res, nil) {
			w.logger.Debug("result dropped", zap.String("program", j.program.Name))
		}
	}
}

func (w *Worker) open(ctx context.Context) (session backend.Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while opening session: %v", r)
		}
	}()
	session, err = w.factory(ctx, w.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	return session, nil
}

// next blocks until a job is available. It reports false once the queue is
// closed and empty, or when ctx ends, in which case queued jobs are canceled.
func (w *Worker) next(ctx context.Context) (*job, bool) {
	for {
		w.mu.Lock()
		if ctx.Err() != nil {
			pending := w.queue
			w.queue = nil
			w.closed = true
			w.state = StateStopped
			w.mu.Unlock()
			w.resolveAll(pending, ErrCanceled, outcomeCanceled)
			return nil, false
		}
		if len(w.queue) > 0 {
			j := w.queue[0]
			w.queue[0] = nil
			w.queue = w.queue[1:]
			w.busy = true
			w.state = StateBusy
			w.mu.Unlock()
			w.metrics.QueueDepth.WithLabelValues(w.cfg.Name).Dec()
			return j, true
		}
		if w.closed {
			w.state = StateStopped
			w.mu.Unlock()
			return nil, false
		}
		w.state = StateIdle
		w.mu.Unlock()

		select {
		case <-w.notify:
		case <-ctx.Done():
		}
	}
}

// execute runs one job. Backend calls are never interrupted mid-flight, so
// the session sees a context that ignores the worker's cancellation.
func (w *Worker) execute(ctx context.Context, session backend.Session, prog backend.Program) (res backend.Result, err error) {
	ctx, span := w.tracer.Start(context.WithoutCancel(ctx), "dispatch.verify",
		trace.WithAttributes(
			attribute.String("backend", w.cfg.Name),
			attribute.String("program", prog.Name),
		),
	)
	defer span.End()

	if w.cache != nil {
		if cached, ok := w.cache.Get(w.cfg.Name, prog); ok {
			span.SetAttributes(attribute.Bool("cached", true))
			w.metrics.Completed.WithLabelValues(w.cfg.Name, outcomeCached).Inc()
			w.logger.Debug("cache hit", zap.String("program", prog.Name))
			return cached, nil
		}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in backend: %v", r)
		}
		elapsed := time.Since(start)
		w.metrics.Duration.WithLabelValues(w.cfg.Name).Observe(elapsed.Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	res, err = session.Verify(ctx, prog)
	if err != nil {
		return backend.Result{}, err
	}
	if res.Program == "" {
		res.Program = prog.Name
	}
	if res.Backend == "" {
		res.Backend = w.cfg.Name
	}

	outcome := outcomeVerified
	if !res.Verified() {
		outcome = outcomeFailed
	}
	span.SetAttributes(attribute.Int("failures", len(res.Failures)))
	w.metrics.Completed.WithLabelValues(w.cfg.Name, outcome).Inc()
	w.logger.Debug("job completed",
		zap.String("program", prog.Name),
		zap.Int("failures", len(res.Failures)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if w.cache != nil {
		if err := w.cache.Set(w.cfg.Name, prog, res); err != nil {
			w.logger.Warn("failed to cache result", zap.Error(err))
		}
	}
	return res, nil
}

// fail stops the worker for good and hands err to every queued job.
func (w *Worker) fail(err error) {
	if !errors.Is(err, ErrWorkerFault) {
		err = fmt.Errorf("%w: backend %q: %v", ErrWorkerFault, w.cfg.Name, err)
	}
	w.mu.Lock()
	w.fault = err
	w.closed = true
	w.state = StateStopped
	pending := w.queue
	w.queue = nil
	w.mu.Unlock()

	w.logger.Error("worker fault", zap.Error(err), zap.Int("pending", len(pending)))
	w.metrics.Faults.WithLabelValues(w.cfg.Name).Inc()
	w.resolveAll(pending, err, outcomeFault)
}

func (w *Worker) resolveAll(jobs []*job, err error, outcome string) {
	for _, j := range jobs {
		j.handle.resolve(backend.Result{}, err)
		w.metrics.QueueDepth.WithLabelValues(w.cfg.Name).Dec()
		w.metrics.Completed.WithLabelValues(w.cfg.Name, outcome).Inc()
	}
}
