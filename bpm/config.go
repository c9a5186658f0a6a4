package bpm

import (
	"log/slog"
	"time"

	"github.com/ryogrid/go-async-bpm/asyncio"
)

// Config bundles every knob Initialize needs. There is no env/CLI
// surface (spec.md §6: "Environment/CLI/state: none") — configuration
// is programmatic only.
type Config struct {
	// NumFrames is the fixed frame pool size.
	NumFrames int
	// NumPagesOnDisk bounds valid page ids to [0, NumPagesOnDisk).
	NumPagesOnDisk int64
	// PageSize is the fixed size, in bytes, of every frame and page.
	PageSize int

	// LowWaterMark overrides evict.DefaultLowWaterMark(NumFrames) when
	// positive.
	LowWaterMark int
	// EvictionSampleSize overrides evict.DefaultSampleSize when positive.
	EvictionSampleSize int
	// SweepInterval overrides each worker's default eviction sweep
	// period when positive.
	SweepInterval time.Duration

	// NewDriver constructs a fresh per-worker asyncio.Driver. Defaults
	// to an asyncio.MemDriver sized for NumPagesOnDisk*PageSize bytes,
	// which is enough for tests and the scenarios of spec.md §8; a
	// production caller supplies one returning an asyncio.UringDriver
	// bound to an open backing-store file descriptor.
	NewDriver func() (asyncio.Driver, error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}
