// Package page defines the per-logical-page header: identity, hybrid
// latch, residency, and eviction temperature (spec.md §3/§4.1-§4.3).
//
// Page itself only holds state and exposes latch-guarded accessors;
// the load protocol (§4.4), read/write paths (§4.2/§4.3), and eviction
// subroutine (§4.6) are orchestrated one level up, in bpm and evict,
// since those are the components that actually own a frame.Pool and a
// worker's asyncio.Driver — a Page has no thread-local context of its
// own to drive I/O through.
package page

import (
	"sync/atomic"

	"github.com/ryogrid/go-async-bpm/frame"
	"github.com/ryogrid/go-async-bpm/latch"
)

// Id is an opaque identifier naming a page on the backing store.
// Equality and hashability are its only required properties; the
// corpus's dense small integers (spec.md §3) are just one valid
// instantiation.
type Id uint64

// Temperature is the eviction daemon's hint for candidate selection.
// It is independent of residency — spec.md §3 explicitly permits all
// four combinations of {Unloaded,Loaded} x {Hot,Cool}.
type Temperature int32

const (
	Cool Temperature = iota
	Hot
)

// Page is the per-logical-page header, shared by reference across
// threads. Its id is immutable after construction; its frame and
// temperature are mutable under the rules described below.
type Page struct {
	id    Id
	Latch latch.Hybrid

	// frame is nil when Unloaded, or the owned frame when Loaded. It is
	// an atomic.Pointer rather than a plain pointer so TryOptimisticRead
	// can load it without holding Latch at all: mutations (set, clear)
	// still must happen only while holding Latch for writing (spec.md
	// §3: "writes to page bytes happen only while the write lock is
	// held", and residency transitions are a kind of write), but the
	// atomic load lets an optimistic reader observe it race-free and
	// rely on Latch.Validate to catch a concurrent change instead of a
	// second lock.
	frame atomic.Pointer[frame.Frame]

	temperature atomic.Int32
}

// New creates a fresh Unloaded/Cool page header for id, matching the
// BPM Table's insertion contract (spec.md §3): "the first caller to
// request a pid installs a fresh Unloaded/Cool Page".
func New(id Id) *Page {
	p := &Page{id: id}
	p.temperature.Store(int32(Cool))
	return p
}

// ID returns the page's immutable identifier.
func (p *Page) ID() Id {
	return p.id
}

// PageID satisfies frame.PageRef, letting a Frame's back-pointer refer
// to a Page without this package needing to import frame's owner type
// (frame already only needs a uint64 identity, not a *Page).
func (p *Page) PageID() uint64 {
	return uint64(p.id)
}

// SetHot marks the page Hot. Unconditional, matching spec.md §4.2/§4.3
// step 1's "unconditional atomic store" — callers never need any lock
// held to call this.
func (p *Page) SetHot() {
	p.temperature.Store(int32(Hot))
}

// SetCool marks the page Cool. Called by the eviction daemon's demote
// step (spec.md §4.6); no lock is required to call this either, since
// Temperature is explicitly independent of residency.
func (p *Page) SetCool() {
	p.temperature.Store(int32(Cool))
}

// Temperature returns the page's current eviction hint.
func (p *Page) Temperature() Temperature {
	return Temperature(p.temperature.Load())
}

// IsHot reports whether the page is currently Hot.
func (p *Page) IsHot() bool {
	return p.Temperature() == Hot
}

// Frame returns the page's owned frame, or nil if Unloaded. The
// caller must already hold Latch (read or write) — this method does
// no locking of its own, mirroring how spec.md's residency field is
// only ever inspected under some form of the latch.
func (p *Page) Frame() *frame.Frame {
	return p.frame.Load()
}

// SetFrame installs f as the page's owned frame, transitioning
// residency to Loaded(f). The caller must hold Latch for writing and
// must have already set f.SetOwner(p) (spec.md §4.4 step 2/5 order:
// owner is assigned before the page is observed Loaded by any other
// latch holder).
func (p *Page) SetFrame(f *frame.Frame) {
	p.frame.Store(f)
}

// ClearFrame detaches the page's frame, transitioning residency to
// Unloaded. The caller must hold Latch for writing and must clear the
// frame's owner (via f.ClearOwner()) either before or after this call,
// but before releasing the frame back to the pool.
func (p *Page) ClearFrame() {
	p.frame.Store(nil)
}

// Loaded reports whether the page currently owns a frame. The caller
// must hold Latch (read or write), same contract as Frame.
func (p *Page) Loaded() bool {
	return p.frame.Load() != nil
}

// TryOptimisticRead is spec.md §4.2's fast path: it takes a latch
// Snapshot, hands copyOut the frame pointer observed at that instant
// (nil if Unloaded) without ever blocking, then validates the
// snapshot. copyOut must copy whatever bytes it needs out of the frame
// before returning and must not retain the frame or any slice derived
// from it — per spec.md §9's "optimistic reads with no outstanding
// reference", nothing from inside copyOut is safe to touch once
// TryOptimisticRead returns. A false result means a writer raced the
// read; the caller must discard whatever copyOut produced and fall
// back to RLock/Lock.
func (p *Page) TryOptimisticRead(copyOut func(f *frame.Frame)) bool {
	snap := p.Latch.Optimistic()
	copyOut(p.frame.Load())
	return p.Latch.Validate(snap)
}
