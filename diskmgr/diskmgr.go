// Package diskmgr implements the Disk Manager: a thin adapter from
// page numbers to byte offsets against a thread-local asyncio.Driver.
// No caching, no coalescing (spec.md §4.7) — exactly what the teacher's
// own PageIn/PageOut did for its (external) parent buffer pool, here
// reshaped around a configurable page size and the asyncio.Driver
// contract instead of a fixed SamehadaDB page format.
package diskmgr

import (
	"fmt"

	"github.com/ryogrid/go-async-bpm/asyncio"
	"github.com/ryogrid/go-async-bpm/page"
)

// Manager addresses page i at byte offset i*PageSize on whatever
// Driver the caller hands it. It carries no driver of its own — the
// driver is thread-local, owned by the calling worker — which is why
// every method takes one explicitly rather than storing it.
type Manager struct {
	pageSize       int64
	numPagesOnDisk int64
}

// New creates a Manager for a backing store of numPagesOnDisk pages,
// each pageSize bytes.
func New(pageSize, numPagesOnDisk int64) *Manager {
	return &Manager{pageSize: pageSize, numPagesOnDisk: numPagesOnDisk}
}

// PageSize returns the configured page size in bytes.
func (m *Manager) PageSize() int64 {
	return m.pageSize
}

// ErrUnknownPage is returned by Validate (and by anything that calls
// it) when a page id falls outside [0, numPagesOnDisk).
var ErrUnknownPage = fmt.Errorf("diskmgr: page id out of range")

// Validate reports whether id names a page within the configured
// backing-store range, satisfying spec.md §7's synchronous UnknownPage
// check.
func (m *Manager) Validate(id page.Id) error {
	if uint64(id) >= uint64(m.numPagesOnDisk) {
		return ErrUnknownPage
	}
	return nil
}

// Offset returns the byte offset of page id within the backing store.
func (m *Manager) Offset(id page.Id) int64 {
	return int64(id) * m.pageSize
}

// Read submits a read of page id's bytes into the driver's registered
// bufferID, returning a channel that receives the completion.
func (m *Manager) Read(drv asyncio.Driver, id page.Id, bufferID int) <-chan asyncio.Result {
	return drv.SubmitRead(m.Offset(id), bufferID)
}

// Write submits a write of the driver's registered bufferID's current
// contents to page id's location, returning a channel that receives
// the completion.
func (m *Manager) Write(drv asyncio.Driver, id page.Id, bufferID int) <-chan asyncio.Result {
	return drv.SubmitWrite(m.Offset(id), bufferID)
}
