package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gnoswap-labs/tverify/internal/backend"
	"github.com/gnoswap-labs/tverify/internal/cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownBackend is returned when a job names a backend that is not configured.
var ErrUnknownBackend = errors.New("dispatch: unknown backend")

const tracerName = "tverify.dispatch"

type options struct {
	factory backend.Factory
	cache   *cache.Cache
	logger  *zap.Logger
	metrics *Metrics

	tracerProvider trace.TracerProvider
}

// Option configures a Dispatcher.
type Option func(*options)

// WithFactory sets how backend sessions are opened. Defaults to backend.NewExec.
func WithFactory(f backend.Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithCache lets workers reuse results of programs they have already verified.
func WithCache(c *cache.Cache) Option {
	return func(o *options) { o.cache = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider sets where backend invocation spans go. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// Dispatcher routes jobs to one Worker per backend configuration. Workers
// are started on the first submission for their configuration.
type Dispatcher struct {
	opts    options
	configs map[string]backend.Config

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*Worker
	closed  bool
}

func New(configs []backend.Config, opts ...Option) (*Dispatcher, error) {
	o := options{factory: backend.NewExec}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}

	byKey := make(map[string]backend.Config, len(configs))
	for _, cfg := range configs {
		if cfg.Name == "" {
			return nil, errors.New("backend configuration without a name")
		}
		if _, dup := byKey[cfg.Key()]; dup {
			return nil, fmt.Errorf("duplicate backend %q", cfg.Name)
		}
		byKey[cfg.Key()] = cfg
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		opts:    o,
		configs: byKey,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*Worker),
	}, nil
}

// Backends returns the configured backend names, sorted.
func (d *Dispatcher) Backends() []string {
	names := make([]string, 0, len(d.configs))
	for name := range d.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Submit hands prog to the worker of the named backend.
func (d *Dispatcher) Submit(backendName string, prog backend.Program) (*Handle, error) {
	w, err := d.worker(backendName)
	if err != nil {
		return nil, err
	}
	return w.Submit(prog)
}

func (d *Dispatcher) worker(name string) (*Worker, error) {
	cfg, ok := d.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrStopped
	}
	if w, ok := d.workers[cfg.Key()]; ok {
		return w, nil
	}
	w := newWorker(d.ctx, cfg, &d.opts)
	d.workers[cfg.Key()] = w
	return w, nil
}

// State reports the state of the named backend's worker. A backend that has
// not received any job yet is idle, or stopped after Shutdown.
func (d *Dispatcher) State(backendName string) State {
	d.mu.Lock()
	w, ok := d.workers[backendName]
	closed := d.closed
	d.mu.Unlock()
	if ok {
		return w.State()
	}
	if closed {
		return StateStopped
	}
	return StateIdle
}

// Shutdown stops accepting jobs and waits for every worker to drain its
// queue. If ctx ends first, the remaining queued jobs are canceled.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	workers := make([]*Worker, 0, len(d.workers))
	for _, w := range d.workers {
		workers = append(workers, w)
	}
	d.mu.Unlock()

	g, gCtx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			return w.Shutdown(gCtx)
		})
	}
	err := g.Wait()
	if err != nil {
		d.Abort()
	}
	return err
}

// Abort cancels every queued job with ErrCanceled. Jobs already inside a
// backend run to completion.
func (d *Dispatcher) Abort() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
}
