package bpm

import (
	"errors"
	"fmt"

	"github.com/ryogrid/go-async-bpm/diskmgr"
)

// ErrNotInitialized is returned by Get (and anything that calls it)
// before Initialize has successfully run.
var ErrNotInitialized = errors.New("bpm: not initialized")

// ErrAlreadyInitialized is returned by a second call to Initialize.
var ErrAlreadyInitialized = errors.New("bpm: already initialized")

// ErrUnknownPage is returned by GetPage for a page id outside the
// configured backing-store range. It is diskmgr's own sentinel,
// re-exported here so callers only need to import bpm.
var ErrUnknownPage = diskmgr.ErrUnknownPage

// ErrLockPoisoned is returned when a guard is used after its page's
// latch was found to be in an inconsistent state (spec.md §7's
// lock-poisoning propagation rule). This repo's latch.Hybrid never
// itself enters such a state, but the error exists for the same
// reason the teacher's BLTErr enumerates failure kinds it doesn't all
// currently produce: callers should handle it regardless.
var ErrLockPoisoned = errors.New("bpm: lock poisoned")

// ErrNoWorkerContext is returned by PageHandle.Read/Write/Flush when
// called with a context that was not obtained from worker.Worker.Context,
// and therefore carries no thread-local driver to drive I/O through.
var ErrNoWorkerContext = errors.New("bpm: context carries no worker driver; call from within worker.SpawnLocal using w.Context()")

// IOError wraps a failed read or write against the backing store,
// naming the operation that failed and preserving the underlying
// cause for errors.Is/errors.As.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("bpm: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
