package asyncio

import (
	"fmt"
	"sync"
)

// MemDriver is an in-memory Driver backed by a single []byte arena,
// simulating a completion-based device without touching the
// filesystem. It is the default driver for every test in this repo,
// adapted from the teacher's ParentBufMgrDummy (parent_buf_mgr_dummy.go
// in the original tree) — same "no real storage, pin-free, safe for
// tests" spirit, reshaped around read/write-by-offset instead of
// fetch/pin/unpin-by-page.
type MemDriver struct {
	mu           sync.Mutex
	backing      []byte
	bufs         [][]byte
	nextWriteErr error
}

// NewMemDriver allocates a zero-filled backing store of size bytes.
func NewMemDriver(size int64) *MemDriver {
	return &MemDriver{backing: make([]byte, size)}
}

func (d *MemDriver) RegisterBuffers(buffers [][]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bufs = buffers
	return nil
}

func (d *MemDriver) SubmitRead(offset int64, bufferID int) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		ch <- d.doRead(offset, bufferID)
	}()
	return ch
}

func (d *MemDriver) doRead(offset int64, bufferID int) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, err := d.bufferLocked(bufferID)
	if err != nil {
		return Result{Err: &Error{Op: OpRead, Offset: offset, Err: err}}
	}
	if err := d.boundsCheckLocked(offset, len(buf)); err != nil {
		return Result{Err: &Error{Op: OpRead, Offset: offset, Err: err}}
	}

	n := copy(buf, d.backing[offset:offset+int64(len(buf))])
	return Result{N: n}
}

func (d *MemDriver) SubmitWrite(offset int64, bufferID int) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		ch <- d.doWrite(offset, bufferID)
	}()
	return ch
}

func (d *MemDriver) doWrite(offset int64, bufferID int) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.nextWriteErr != nil {
		err := d.nextWriteErr
		d.nextWriteErr = nil
		return Result{Err: &Error{Op: OpWrite, Offset: offset, Err: err}}
	}

	buf, err := d.bufferLocked(bufferID)
	if err != nil {
		return Result{Err: &Error{Op: OpWrite, Offset: offset, Err: err}}
	}
	if err := d.boundsCheckLocked(offset, len(buf)); err != nil {
		return Result{Err: &Error{Op: OpWrite, Offset: offset, Err: err}}
	}

	n := copy(d.backing[offset:offset+int64(len(buf))], buf)
	return Result{N: n}
}

func (d *MemDriver) bufferLocked(bufferID int) ([]byte, error) {
	if bufferID < 0 || bufferID >= len(d.bufs) {
		return nil, fmt.Errorf("unregistered buffer id %d", bufferID)
	}
	return d.bufs[bufferID], nil
}

func (d *MemDriver) boundsCheckLocked(offset int64, n int) error {
	if offset < 0 || offset+int64(n) > int64(len(d.backing)) {
		return fmt.Errorf("offset %d+%d out of backing store bounds (%d)", offset, n, len(d.backing))
	}
	return nil
}

// FailNextWrite is a test hook: when set, the next SubmitWrite returns
// the given error instead of touching the backing store, modeling an
// I/O failure during eviction writeback (spec §7/§8).
func (d *MemDriver) FailNextWrite(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextWriteErr = err
}

func (d *MemDriver) Close() error { return nil }
