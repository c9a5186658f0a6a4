// Package bpm implements the Buffer Pool Manager: the process-wide
// singleton, its page table, and the page handle/guard API through
// which workers read and write pages (spec.md §4.5/§6).
//
// The singleton itself (the table, the frame pool, the disk manager)
// is the only state shared across worker threads; everything else —
// a worker's driver, its eviction daemon — is private to one worker,
// obtained through worker.Worker and never handed to another worker.
package bpm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ryogrid/go-async-bpm/asyncio"
	"github.com/ryogrid/go-async-bpm/diskmgr"
	"github.com/ryogrid/go-async-bpm/evict"
	"github.com/ryogrid/go-async-bpm/frame"
	"github.com/ryogrid/go-async-bpm/page"
	"github.com/ryogrid/go-async-bpm/worker"
)

// BPM is the process-wide buffer pool manager. Obtain it via
// Initialize/Get; there is exactly one live instance per process,
// mirroring the teacher's NewBufMgr singleton shape generalized to an
// explicit init/get pair instead of a package-level constructor.
type BPM struct {
	cfg   Config
	pool  *frame.Pool
	dm    *diskmgr.Manager
	table *xsync.MapOf[page.Id, *page.Page]
	log   *slog.Logger
}

var (
	mu       sync.Mutex
	instance *BPM
)

// Initialize builds the process-wide BPM from cfg. It must be called
// exactly once per process; a second call returns ErrAlreadyInitialized.
func Initialize(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		return ErrAlreadyInitialized
	}

	if cfg.NumFrames <= 0 {
		return fmt.Errorf("bpm: NumFrames must be positive, got %d", cfg.NumFrames)
	}
	if cfg.PageSize <= 0 {
		return fmt.Errorf("bpm: PageSize must be positive, got %d", cfg.PageSize)
	}
	if cfg.NumPagesOnDisk <= 0 {
		return fmt.Errorf("bpm: NumPagesOnDisk must be positive, got %d", cfg.NumPagesOnDisk)
	}

	pool, err := frame.NewPool(cfg.NumFrames, cfg.PageSize)
	if err != nil {
		return fmt.Errorf("bpm: %w", err)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	instance = &BPM{
		cfg:   cfg,
		pool:  pool,
		dm:    diskmgr.New(int64(cfg.PageSize), cfg.NumPagesOnDisk),
		table: xsync.NewMapOf[page.Id, *page.Page](),
		log:   cfg.Logger,
	}
	return nil
}

// Get returns the process-wide BPM, or ErrNotInitialized if Initialize
// has not yet succeeded.
func Get() (*BPM, error) {
	mu.Lock()
	defer mu.Unlock()

	if instance == nil {
		return nil, ErrNotInitialized
	}
	return instance, nil
}

// reset clears the singleton. Test-only: exported tests in this
// package call it between scenarios so each one can Initialize fresh.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
}

// GetPage returns a handle to page id, installing a fresh
// Unloaded/Cool page.Page on first reference (spec.md §3: "the first
// caller to request a pid installs a fresh Unloaded/Cool Page"). It
// does no I/O itself; loading happens lazily on the handle's first
// Read or Write.
func (b *BPM) GetPage(id page.Id) (*PageHandle, error) {
	if err := b.dm.Validate(id); err != nil {
		return nil, err
	}

	p, _ := b.table.LoadOrStore(id, page.New(id))
	return &PageHandle{bpm: b, page: p}, nil
}

// StartThread creates a fresh per-worker driver and eviction daemon,
// starts a pinned worker goroutine running them, and — if task is
// non-nil — submits task as that worker's first unit of work. The
// returned worker.Worker accepts further SpawnLocal calls until
// Stopped.
func (b *BPM) StartThread(task func(*worker.Worker)) (*worker.Worker, error) {
	drv, err := b.newDriver()
	if err != nil {
		return nil, fmt.Errorf("bpm: new driver: %w", err)
	}
	if err := drv.RegisterBuffers(b.pool.Buffers()); err != nil {
		return nil, fmt.Errorf("bpm: register buffers: %w", err)
	}

	daemonOpts := []evict.Option{evict.WithLogger(b.log)}
	if b.cfg.LowWaterMark > 0 {
		daemonOpts = append(daemonOpts, evict.WithLowWaterMark(b.cfg.LowWaterMark))
	}
	if b.cfg.EvictionSampleSize > 0 {
		daemonOpts = append(daemonOpts, evict.WithSampleSize(b.cfg.EvictionSampleSize))
	}
	daemon := evict.NewDaemon(b.pool, b.dm, drv, daemonOpts...)

	var workerOpts []worker.Option
	workerOpts = append(workerOpts, worker.WithLogger(b.log))
	if b.cfg.SweepInterval > 0 {
		workerOpts = append(workerOpts, worker.WithSweepInterval(b.cfg.SweepInterval))
	}

	w := worker.New(context.Background(), drv, daemon, workerOpts...)
	w.Start()

	if task != nil {
		if err := w.SpawnLocal(task); err != nil {
			w.Stop()
			return nil, err
		}
	}

	return w, nil
}

func (b *BPM) newDriver() (asyncio.Driver, error) {
	if b.cfg.NewDriver != nil {
		return b.cfg.NewDriver()
	}
	return asyncio.NewMemDriver(int64(b.cfg.PageSize) * b.cfg.NumPagesOnDisk), nil
}
