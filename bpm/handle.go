package bpm

import (
	"context"

	"github.com/ryogrid/go-async-bpm/asyncio"
	"github.com/ryogrid/go-async-bpm/frame"
	"github.com/ryogrid/go-async-bpm/page"
)

// PageHandle names a page without holding any lock on it. Obtaining
// one (via BPM.GetPage) never blocks and never does I/O; only Read
// and Write do.
type PageHandle struct {
	bpm  *BPM
	page *page.Page
}

// ID returns the handle's page id.
func (h *PageHandle) ID() page.Id {
	return h.page.ID()
}

// Read acquires the page for reading, loading it from the backing
// store first if it is not already resident (spec.md §4.2/§4.4). ctx
// must be a worker.Worker.Context() value so the load, if needed, has
// a driver to submit I/O through.
//
// Read first tries the optimistic path of spec.md §4.2: a version
// snapshot, a lock-free copy of the frame bytes, and a post-copy
// validation, so the common steady-state case performs zero atomic
// contention beyond a version read. Only a failed validation or an
// Unloaded page falls through to the pessimistic RLock/Lock path
// below.
func (h *PageHandle) Read(ctx context.Context) (*ReadGuard, error) {
	drv, ok := asyncio.DriverFromContext(ctx)
	if !ok {
		return nil, ErrNoWorkerContext
	}

	h.page.SetHot()

	if snapshot, ok := h.tryOptimisticRead(); ok {
		return &ReadGuard{snapshot: snapshot}, nil
	}

	h.page.Latch.RLock()
	if h.page.Loaded() {
		return &ReadGuard{page: h.page}, nil
	}
	h.page.Latch.RUnlock()

	// Not resident: take the write lock to load. Spec.md §4.4 runs the
	// whole load protocol under the write lock; a reader that needed to
	// load ends up holding a stronger lock than it asked for, which is
	// safe (just more exclusive than necessary) and is released the
	// same way a write access would be.
	h.page.Latch.Lock()
	if h.page.Loaded() {
		// Someone else loaded it while we waited for the write lock.
		return &ReadGuard{page: h.page, heldWrite: true}, nil
	}
	if err := h.bpm.load(ctx, drv, h.page); err != nil {
		h.page.Latch.Unlock()
		return nil, err
	}
	return &ReadGuard{page: h.page, heldWrite: true}, nil
}

// Write acquires the page for writing, loading it first if needed,
// exactly like Read except it always takes (and keeps) the write
// lock (spec.md §4.3/§4.4).
func (h *PageHandle) Write(ctx context.Context) (*WriteGuard, error) {
	drv, ok := asyncio.DriverFromContext(ctx)
	if !ok {
		return nil, ErrNoWorkerContext
	}

	h.page.SetHot()

	h.page.Latch.Lock()
	if !h.page.Loaded() {
		if err := h.bpm.load(ctx, drv, h.page); err != nil {
			h.page.Latch.Unlock()
			return nil, err
		}
	}
	return &WriteGuard{bpm: h.bpm, page: h.page}, nil
}

// tryOptimisticRead attempts spec.md §4.2's fast path via
// page.Page.TryOptimisticRead: it copies the frame's bytes out into a
// private buffer while unvalidated, then validates. ok is false
// whenever the page was Unloaded or a writer raced the copy; either
// way the caller must fall back to the pessimistic path, and snapshot
// is nil.
func (h *PageHandle) tryOptimisticRead() (snapshot []byte, ok bool) {
	validated := h.page.TryOptimisticRead(func(f *frame.Frame) {
		if f == nil {
			return
		}
		snapshot = make([]byte, len(f.Buf))
		copy(snapshot, f.Buf)
	})
	return snapshot, validated && snapshot != nil
}

// load runs the load protocol (spec.md §4.4) for p: acquire a free
// frame, submit a read of p's backing-store bytes into it, and on
// success install the frame as p's residency. Callers must already
// hold p.Latch for writing.
func (b *BPM) load(ctx context.Context, drv asyncio.Driver, p *page.Page) error {
	f, err := b.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	select {
	case res := <-b.dm.Read(drv, p.ID(), f.ID):
		if res.Err != nil {
			b.pool.Release(f)
			return &IOError{Op: "read", Err: res.Err}
		}
	case <-ctx.Done():
		b.pool.Release(f)
		return ctx.Err()
	}

	f.SetOwner(p)
	p.SetFrame(f)
	return nil
}

// ReadGuard grants read access to a page's bytes until Release is
// called. A guard produced by the optimistic path of Read holds no
// lock at all: snapshot is a private copy already validated against
// the latch version, per spec.md §9's "no outstanding reference" rule,
// so Release is a no-op for it. Loading a not-yet-resident page may
// have required the write lock internally; for a guard that did take a
// lock, Release always unlocks whichever mode was actually held,
// transparently to the caller.
type ReadGuard struct {
	page      *page.Page
	heldWrite bool
	snapshot  []byte
}

// Bytes returns the page's bytes. Valid only until Release. For an
// optimistically-validated guard this is a private copy rather than
// the live frame buffer.
func (g *ReadGuard) Bytes() []byte {
	if g.snapshot != nil {
		return g.snapshot
	}
	return g.page.Frame().Buf
}

// Release releases the lock this guard was holding, if any.
func (g *ReadGuard) Release() {
	if g.snapshot != nil {
		return
	}
	if g.heldWrite {
		g.page.Latch.Unlock()
		return
	}
	g.page.Latch.RUnlock()
}

// WriteGuard grants exclusive read/write access to a page's bytes
// until Release. Flush writes the current buffer contents back to
// the backing store without releasing the lock, letting a caller
// flush mid-transaction and keep writing.
type WriteGuard struct {
	bpm  *BPM
	page *page.Page
}

// Bytes returns the page's frame buffer for in-place mutation. Valid
// only until Release.
func (g *WriteGuard) Bytes() []byte {
	return g.page.Frame().Buf
}

// Flush submits a synchronous write-through of the page's current
// bytes to the backing store, per spec.md §4.3's write-through option
// ("dirty tracking beyond write-through-on-eviction" is explicitly out
// of scope — Flush is the caller-driven write-through path; eviction's
// own write-back is separate, in evict.Daemon).
func (g *WriteGuard) Flush(ctx context.Context) error {
	drv, ok := asyncio.DriverFromContext(ctx)
	if !ok {
		return ErrNoWorkerContext
	}

	f := g.page.Frame()
	select {
	case res := <-g.bpm.dm.Write(drv, g.page.ID(), f.ID):
		if res.Err != nil {
			return &IOError{Op: "write", Err: res.Err}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release releases the write lock this guard was holding.
func (g *WriteGuard) Release() {
	g.page.Latch.Unlock()
}
