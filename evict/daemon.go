// Package evict implements the eviction daemon: one per worker,
// running a periodic sweep over its worker's frame pool that demotes
// Hot pages to Cool, samples already-Cool candidates, and writes back
// and frees every sampled candidate it can lock, whenever the pool's
// free count is below its low-water mark (spec.md §4.6).
//
// The daemon never consults the BPM's page table. It walks the pool's
// frames directly and follows each frame's owner back-pointer, so a
// busy table lookup path never contends with eviction scanning.
package evict

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ryogrid/go-async-bpm/asyncio"
	"github.com/ryogrid/go-async-bpm/diskmgr"
	"github.com/ryogrid/go-async-bpm/frame"
	"github.com/ryogrid/go-async-bpm/page"
)

// DefaultSampleSize bounds how many Cool candidates a single sweep
// considers for eviction, independent of pool size.
const DefaultSampleSize = 32

// DefaultLowWaterMark returns 10% of numFrames, floored at 1, the
// default trigger point below which a sweep attempts eviction.
func DefaultLowWaterMark(numFrames int) int {
	lwm := numFrames / 10
	if lwm < 1 {
		lwm = 1
	}
	return lwm
}

// Daemon owns no frames or pages itself; it borrows its worker's pool,
// disk manager and driver for the duration of each sweep.
type Daemon struct {
	pool   *frame.Pool
	dm     *diskmgr.Manager
	driver asyncio.Driver
	log    *slog.Logger

	lowWaterMark int
	sampleSize   int
	interval     time.Duration
}

// Option configures a Daemon at construction time.
type Option func(*Daemon)

// WithLowWaterMark overrides DefaultLowWaterMark(pool.NumFrames()).
func WithLowWaterMark(n int) Option {
	return func(d *Daemon) { d.lowWaterMark = n }
}

// WithSampleSize overrides DefaultSampleSize.
func WithSampleSize(n int) Option {
	return func(d *Daemon) { d.sampleSize = n }
}

// WithInterval overrides the default sweep period of 5 milliseconds.
func WithInterval(interval time.Duration) Option {
	return func(d *Daemon) { d.interval = interval }
}

// WithLogger overrides the daemon's logger, defaulting to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) { d.log = l }
}

// NewDaemon builds a Daemon over pool, writing evicted pages back
// through dm using driver.
func NewDaemon(pool *frame.Pool, dm *diskmgr.Manager, driver asyncio.Driver, opts ...Option) *Daemon {
	d := &Daemon{
		pool:         pool,
		dm:           dm,
		driver:       driver,
		log:          slog.Default(),
		lowWaterMark: DefaultLowWaterMark(pool.NumFrames()),
		sampleSize:   DefaultSampleSize,
		interval:     5 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run sweeps periodically until ctx is done. It is meant to be driven
// by a worker's own goroutine, cooperatively, alongside the rest of
// that worker's thread-local work.
func (d *Daemon) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

// Sweep runs one cycle: if the pool is already at or above its
// low-water mark it does nothing at all (spec.md §4.6 step 1 gates the
// whole cycle, not just sampling); otherwise it demotes every loaded
// Hot page to Cool, then samples and evicts Cool candidates
// concurrently. Exported so tests (and a worker's idle path) can
// trigger a deterministic sweep without waiting on a ticker.
func (d *Daemon) Sweep(ctx context.Context) {
	if d.pool.FreeCount() >= d.lowWaterMark {
		return
	}

	candidates := d.demoteAndCollect()
	sample := sampleCandidates(candidates, d.sampleSize)

	var wg sync.WaitGroup
	wg.Add(len(sample))
	for _, p := range sample {
		p := p
		go func() {
			defer wg.Done()
			d.evictOne(ctx, p)
		}()
	}
	wg.Wait()
}

// demoteAndCollect walks every frame in the pool once: loaded Hot
// pages are demoted to Cool and are not candidates in this pass; every
// loaded page that was already Cool is returned as an eviction
// candidate.
func (d *Daemon) demoteAndCollect() []*page.Page {
	var candidates []*page.Page

	for _, f := range d.pool.Frames() {
		owner := f.Owner()
		if owner == nil {
			continue
		}
		p, ok := owner.(*page.Page)
		if !ok {
			continue
		}

		if p.IsHot() {
			p.SetCool()
			continue
		}

		candidates = append(candidates, p)
	}

	return candidates
}

// sampleCandidates returns up to n candidates chosen uniformly at
// random without replacement, per spec.md §4.6's bounded random
// sample rather than a full scan of every Cool page every cycle.
func sampleCandidates(candidates []*page.Page, n int) []*page.Page {
	if len(candidates) <= n {
		return candidates
	}

	shuffled := make([]*page.Page, len(candidates))
	copy(shuffled, candidates)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}

// evictOne is the per-candidate eviction subroutine (spec.md §4.6): a
// non-blocking write-lock attempt, a re-check of the invariants that
// held when p was sampled, a synchronous write-back, and finally the
// frame's release to the pool. A candidate that fails any re-check or
// whose write-lock is contended is simply skipped; it remains a
// candidate for the next sweep.
func (d *Daemon) evictOne(ctx context.Context, p *page.Page) {
	if !p.Latch.TryLock() {
		return
	}
	defer p.Latch.Unlock()

	if !p.Loaded() || p.IsHot() {
		return
	}

	f := p.Frame()

	select {
	case res := <-d.dm.Write(d.driver, page.Id(p.PageID()), f.ID):
		if res.Err != nil {
			d.log.Error("evict: write-back failed, retrying next sweep",
				"page", p.PageID(), "err", res.Err)
			return
		}
	case <-ctx.Done():
		return
	}

	p.ClearFrame()
	f.ClearOwner()
	d.pool.Release(f)
}
