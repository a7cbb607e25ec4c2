// Package engine wires the sync components together and runs them on a
// single event loop.
//
// Every adapter event, timer callback, initialisation retry and host call is
// posted to one FIFO task queue and executed on the engine goroutine, so the
// arbiter, broadcaster and mode coordinator never need locks of their own.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mapsync/internal/sync/arbiter"
	"github.com/turtacn/mapsync/internal/sync/broadcast"
	"github.com/turtacn/mapsync/internal/sync/mode"
	"github.com/turtacn/mapsync/internal/sync/normalizer"
	"github.com/turtacn/mapsync/internal/sync/provider"
	"github.com/turtacn/mapsync/internal/sync/schedule"
	"github.com/turtacn/mapsync/pkg/errors"
)

// Options are the engine's tunables.
type Options struct {
	Quiescence      time.Duration
	Settle          time.Duration
	PollInterval    time.Duration
	Tolerance       viewport.Tolerance
	InitialViewport viewport.Viewport
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Quiescence:      100 * time.Millisecond,
		Settle:          250 * time.Millisecond,
		PollInterval:    200 * time.Millisecond,
		Tolerance:       viewport.DefaultTolerance,
		InitialViewport: viewport.New(37.5665, 126.9780, 15),
	}
}

// Validate checks the timing ranges.
func (o Options) Validate() error {
	switch {
	case o.Quiescence <= 0:
		return errors.InvalidParam("quiescence window must be positive")
	case o.Settle < 0:
		return errors.InvalidParam("settle window must not be negative")
	case o.PollInterval <= 0:
		return errors.InvalidParam("poll interval must be positive")
	case o.Tolerance.Degrees < 0 || o.Tolerance.Zoom < 0:
		return errors.InvalidParam("tolerance must not be negative")
	}
	return o.InitialViewport.Validate()
}

// AdapterFactory creates the adapter for a pane.  The scheduler delivers
// callbacks on the engine loop.
type AdapterFactory func(id pane.ID, kind pane.ProviderKind, clock schedule.Scheduler, opts Options) (provider.Adapter, error)

// Option customises an Engine.
type Option func(*Engine)

// WithScheduler replaces the wall clock.
func WithScheduler(s schedule.Scheduler) Option {
	return func(e *Engine) { e.clock = s }
}

// WithAdapterFactory replaces the default widget-backed adapters.
func WithAdapterFactory(f AdapterFactory) Option {
	return func(e *Engine) { e.newAdapter = f }
}

// WithMetrics records engine metrics.
func WithMetrics(m *prometheus.SyncMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithListener registers a host listener before the engine starts.
func WithListener(l HostListener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

// Engine is the cross-provider viewport synchronization engine.
type Engine struct {
	registry   *provider.Registry
	clock      schedule.Scheduler
	loopClock  schedule.Scheduler
	newAdapter AdapterFactory
	log        logging.Logger
	metrics    *prometheus.SyncMetrics

	// loop
	mu       sync.Mutex
	queue    []func()
	signal   chan struct{}
	stopped  bool
	started  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	listenerMu sync.RWMutex
	listeners  []HostListener

	// loop-owned state
	opts       Options
	arb        *arbiter.Arbiter
	bc         *broadcast.Broadcaster
	modes      *mode.Coordinator
	panes      map[pane.ID]*slot
	canonical  viewport.Viewport
	marker     *viewport.LatLng
	fullscreen pane.ID
}

// New builds a stopped engine.  Call Start before using it.
func New(registry *provider.Registry, opts Options, log logging.Logger, options ...Option) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	e := &Engine{
		registry:  registry,
		clock:     schedule.Real{},
		log:       log.Named("engine"),
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		opts:      opts,
		panes:     make(map[pane.ID]*slot),
		canonical: opts.InitialViewport.Normalized(),
	}
	e.newAdapter = e.defaultAdapter
	for _, o := range options {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = prometheus.NewNoopSyncMetrics()
	}
	e.loopClock = &loopScheduler{inner: e.clock, post: e.post}
	e.arb = arbiter.New(e.loopClock, arbiter.Options{Quiescence: opts.Quiescence, Tolerance: opts.Tolerance}, e.onAuthority)
	e.bc = broadcast.New(opts.Tolerance, e.onApplyError)
	e.modes = mode.New(e.onModeChanged, e.log)
	return e, nil
}

func (e *Engine) defaultAdapter(id pane.ID, kind pane.ProviderKind, clock schedule.Scheduler, opts Options) (provider.Adapter, error) {
	norm, err := normalizer.For(kind)
	if err != nil {
		return nil, err
	}
	return provider.NewWidgetAdapter(id, kind, e.registry, norm, clock,
		provider.Options{Settle: opts.Settle, EchoTolerance: opts.Tolerance}, e.log), nil
}

// Start launches the loop.  ctx bounds adapter initialisation.
func (e *Engine) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	go e.run()
	e.log.Info("engine started",
		logging.Duration("quiescence", e.opts.Quiescence),
		logging.Duration("settle", e.opts.Settle),
		logging.Duration("poll_interval", e.opts.PollInterval))
}

// Stop tears every pane down and ends the loop.  It is safe to call twice.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.started.Load() {
			finished := make(chan struct{})
			if e.post(func() {
				e.shutdown()
				close(finished)
			}) {
				<-finished
			}
		}
		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()
		e.wake()
		if e.started.Load() {
			<-e.done
			e.cancel()
		}
		e.log.Info("engine stopped")
	})
}

func (e *Engine) shutdown() {
	for _, id := range e.paneIDs() {
		e.teardown(e.panes[id])
	}
	e.arb.Stop()
}

// post appends task to the queue.  It never blocks, so tasks may post more
// tasks.  It reports false once the engine is stopped.
func (e *Engine) post(task func()) bool {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return false
	}
	e.queue = append(e.queue, task)
	depth := len(e.queue)
	e.mu.Unlock()
	e.metrics.TaskQueueDepth.WithLabelValues().Set(float64(depth))
	e.wake()
	return true
}

func (e *Engine) wake() {
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.stopped {
			e.mu.Unlock()
			<-e.signal
			e.mu.Lock()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()
		e.runTask(task)
	}
}

func (e *Engine) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("engine task panicked", logging.String("panic", fmt.Sprint(r)))
		}
	}()
	task()
}

// call runs fn on the loop and waits for its result.  It must not be used
// from inside the loop.
func (e *Engine) call(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if !e.post(func() { res <- fn() }) {
		return errors.New(errors.ErrCodeEngineStopped, "engine is stopped")
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settle blocks until the loop has drained every queued task, including
// tasks queued by those tasks.
func (e *Engine) Settle() {
	for {
		barrier := make(chan struct{})
		if !e.post(func() { close(barrier) }) {
			return
		}
		<-barrier
		e.mu.Lock()
		idle := len(e.queue) == 0
		e.mu.Unlock()
		if idle {
			return
		}
	}
}

// loopScheduler delivers timer callbacks as loop tasks.  A timer stopped
// after it fired but before its task ran is still cancelled.
type loopScheduler struct {
	inner schedule.Scheduler
	post  func(func()) bool
}

type loopTimer struct {
	inner   schedule.Timer
	stopped atomic.Bool
}

func (s *loopScheduler) Now() time.Time { return s.inner.Now() }

func (s *loopScheduler) AfterFunc(d time.Duration, f func()) schedule.Timer {
	t := &loopTimer{}
	t.inner = s.inner.AfterFunc(d, func() {
		s.post(func() {
			if t.stopped.CompareAndSwap(false, true) {
				f()
			}
		})
	})
	return t
}

func (t *loopTimer) Stop() bool {
	pending := t.stopped.CompareAndSwap(false, true)
	if t.inner != nil {
		t.inner.Stop()
	}
	return pending
}
