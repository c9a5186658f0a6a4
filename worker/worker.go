// Package worker implements the thread-local context: a private
// asyncio.Driver and evict.Daemon bundled behind one dispatcher
// goroutine. SpawnLocal'd tasks and eviction sweeps each run on their
// own goroutine rather than serialized on the dispatcher itself, so a
// task blocked waiting on a free frame (e.g. the single-frame pool of
// spec.md §8's num_frames==1 scenario) never stalls this worker's own
// eviction sweep from reclaiming one. Neither this package nor
// asyncio.Driver confines a completion to the OS thread that submitted
// it: MemDriver synchronizes with a mutex and UringDriver funnels
// submissions through its own pinned pump goroutine, so both accept
// concurrent calls from any goroutine, which is what lets tasks run
// unpinned here.
//
// Modeled on ehrlich-b-go-ublk's queue.Runner: a pinned dispatcher
// goroutine, a buffered start handshake, and a context-driven stop.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ryogrid/go-async-bpm/asyncio"
	"github.com/ryogrid/go-async-bpm/evict"
)

// Worker is a single thread-local context: a dispatcher goroutine,
// pinned to one OS thread for its lifetime, accepting tasks and
// timing eviction sweeps, each run on its own unpinned goroutine.
type Worker struct {
	Driver asyncio.Driver
	daemon *evict.Daemon
	log    *slog.Logger

	sweepInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	tasks    chan func(*Worker)
	started  chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	sweeping atomic.Bool
}

// Option configures a Worker at construction time.
type Option func(*Worker)

// WithSweepInterval overrides how often the worker's loop sweeps its
// eviction daemon between tasks. Defaults to 5 milliseconds.
func WithSweepInterval(d time.Duration) Option {
	return func(w *Worker) { w.sweepInterval = d }
}

// WithLogger overrides the worker's logger, defaulting to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// New builds a Worker over driver and daemon, both already scoped to
// this thread (a fresh asyncio.Driver and an evict.Daemon built over
// it, per spec.md §6's "private Driver per worker").
func New(parent context.Context, driver asyncio.Driver, daemon *evict.Daemon, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(parent)
	w := &Worker{
		Driver:        driver,
		daemon:        daemon,
		log:           slog.Default(),
		sweepInterval: 5 * time.Millisecond,
		ctx:           ctx,
		cancel:        cancel,
		tasks:         make(chan func(*Worker)),
		started:       make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start pins a fresh OS thread and begins the worker's loop, blocking
// until that thread has confirmed it is running.
func (w *Worker) Start() {
	go w.run()
	<-w.started
}

// Context returns a context, derived from the worker's lifetime
// context, carrying this worker's Driver via asyncio.ContextWithDriver.
// Code running inside a SpawnLocal task passes this to bpm.PageHandle's
// Read/Write so those calls reach this worker's driver rather than
// needing any goroutine-local lookup.
func (w *Worker) Context() context.Context {
	return asyncio.ContextWithDriver(w.ctx, w.Driver)
}

// SpawnLocal submits task to the worker's dispatcher, which runs it on
// a goroutine of its own (not pinned to the dispatcher's OS thread),
// blocking until it is accepted or the worker has stopped. Any code
// that calls w.Driver, or otherwise depends on thread-local state,
// must run inside task rather than around this call.
func (w *Worker) SpawnLocal(task func(*Worker)) error {
	select {
	case w.tasks <- task:
		return nil
	case <-w.ctx.Done():
		return fmt.Errorf("worker: stopped")
	}
}

// Stop signals the worker's loop to exit, waits for in-flight tasks
// and sweeps to finish, then closes this worker's driver. No new task
// is accepted after Stop is called.
func (w *Worker) Stop() {
	w.cancel()
	<-w.done
	if err := w.Driver.Close(); err != nil {
		w.log.Error("worker: close driver", "err", err)
	}
}

func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer func() {
		w.wg.Wait()
		close(w.done)
	}()

	close(w.started)

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.tasks:
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				task(w)
			}()
		case <-ticker.C:
			if w.sweeping.CompareAndSwap(false, true) {
				w.wg.Add(1)
				go func() {
					defer w.wg.Done()
					defer w.sweeping.Store(false)
					w.daemon.Sweep(w.ctx)
				}()
			}
		}
	}
}
