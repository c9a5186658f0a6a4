//go:build linux

package asyncio

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/pawelgaczynski/giouring"
)

// UringDriver is the production Driver, backed by a single io_uring
// ring per instance. Modeled on ehrlich-b-go-ublk's internal/queue
// Runner: one ring, one pinned pump goroutine draining completions by
// a userData tag, each request submitted to the ring on its own.
//
// Like ehrlich-b-go-ublk's Runner, the ring itself is only ever
// touched by the pump goroutine this driver starts in NewUringDriver;
// SubmitRead/SubmitWrite only hand a prepared request to that
// goroutine over a channel and wait on their own per-request result
// channel, so callers never race the ring directly.
type UringDriver struct {
	fd int

	mu      sync.Mutex
	ring    *giouring.Ring
	bufs    [][]byte
	pending chan request
	nextTag uint64
	inFlush map[uint64]chan Result
	closeCh chan struct{}
	closed  bool
}

type request struct {
	op       Op
	offset   int64
	bufferID int
	tag      uint64
	result   chan Result
}

// NewUringDriver creates an io_uring ring of the given queue depth
// bound to fd (the open backing-store file descriptor) and starts its
// pump goroutine.
func NewUringDriver(fd int, queueDepth uint32) (*UringDriver, error) {
	ring, err := giouring.CreateRing(queueDepth)
	if err != nil {
		return nil, fmt.Errorf("asyncio: create io_uring: %w", err)
	}

	d := &UringDriver{
		fd:      fd,
		ring:    ring,
		pending: make(chan request, queueDepth),
		inFlush: make(map[uint64]chan Result),
		closeCh: make(chan struct{}),
	}

	go d.pump()

	return d, nil
}

func (d *UringDriver) RegisterBuffers(buffers [][]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bufs = buffers
	return nil
}

func (d *UringDriver) SubmitRead(offset int64, bufferID int) <-chan Result {
	return d.submit(OpRead, offset, bufferID)
}

func (d *UringDriver) SubmitWrite(offset int64, bufferID int) <-chan Result {
	return d.submit(OpWrite, offset, bufferID)
}

func (d *UringDriver) submit(op Op, offset int64, bufferID int) <-chan Result {
	resultCh := make(chan Result, 1)

	d.mu.Lock()
	d.nextTag++
	tag := d.nextTag
	d.mu.Unlock()

	req := request{op: op, offset: offset, bufferID: bufferID, tag: tag, result: resultCh}

	select {
	case d.pending <- req:
	case <-d.closeCh:
		resultCh <- Result{Err: &Error{Op: op, Offset: offset, Err: fmt.Errorf("driver closed")}}
	}

	return resultCh
}

// pump is the ring's sole goroutine: it drains pending submissions,
// prepares and submits SQEs, then blocks for completions and
// dispatches each CQE's result to the channel registered under its
// user-data tag. Pinned to one OS thread for the ring's lifetime, the
// same affinity the kernel's io_uring completion queue expects.
func (d *UringDriver) pump() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case req := <-d.pending:
			d.submitOne(req)
		case <-d.closeCh:
			return
		}

		d.drainCompletions()
	}
}

func (d *UringDriver) submitOne(req request) {
	d.mu.Lock()
	buf, ok := d.bufferLocked(req.bufferID)
	if !ok {
		d.mu.Unlock()
		req.result <- Result{Err: &Error{Op: req.op, Offset: req.offset, Err: fmt.Errorf("unregistered buffer id %d", req.bufferID)}}
		return
	}

	sqe := d.ring.GetSQE()
	if sqe == nil {
		d.mu.Unlock()
		req.result <- Result{Err: &Error{Op: req.op, Offset: req.offset, Err: fmt.Errorf("submission queue full")}}
		return
	}

	switch req.op {
	case OpRead:
		sqe.PrepareRead(int32(d.fd), buf, uint64(req.offset))
	case OpWrite:
		sqe.PrepareWrite(int32(d.fd), buf, uint64(req.offset))
	}
	sqe.SetUserData(req.tag)
	d.inFlush[req.tag] = req.result

	_, err := d.ring.Submit()
	d.mu.Unlock()

	if err != nil {
		d.mu.Lock()
		delete(d.inFlush, req.tag)
		d.mu.Unlock()
		req.result <- Result{Err: &Error{Op: req.op, Offset: req.offset, Err: err}}
	}
}

func (d *UringDriver) bufferLocked(bufferID int) ([]byte, bool) {
	if bufferID < 0 || bufferID >= len(d.bufs) {
		return nil, false
	}
	return d.bufs[bufferID], true
}

func (d *UringDriver) drainCompletions() {
	for {
		cqe, err := d.ring.PeekCQE()
		if err != nil || cqe == nil {
			return
		}

		d.mu.Lock()
		resultCh, ok := d.inFlush[cqe.UserData]
		delete(d.inFlush, cqe.UserData)
		d.mu.Unlock()

		d.ring.CQESeen(cqe)

		if !ok {
			continue
		}

		if cqe.Res < 0 {
			resultCh <- Result{Err: fmt.Errorf("io_uring completion error: res=%d", cqe.Res)}
		} else {
			resultCh <- Result{N: int(cqe.Res)}
		}
	}
}

func (d *UringDriver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	close(d.closeCh)
	d.ring.QueueExit()
	return nil
}
