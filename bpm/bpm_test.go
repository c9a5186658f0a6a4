package bpm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryogrid/go-async-bpm/page"
)

func testConfig() Config {
	return Config{
		NumFrames:      4,
		NumPagesOnDisk: 16,
		PageSize:       64,
	}
}

func TestInitialize_RejectsSecondCall(t *testing.T) {
	defer reset()

	require.NoError(t, Initialize(testConfig()))
	assert.ErrorIs(t, Initialize(testConfig()), ErrAlreadyInitialized)
}

func TestInitialize_RejectsBadConfig(t *testing.T) {
	defer reset()

	assert.Error(t, Initialize(Config{NumFrames: 0, NumPagesOnDisk: 16, PageSize: 64}))
	assert.Error(t, Initialize(Config{NumFrames: 4, NumPagesOnDisk: 16, PageSize: 0}))
	assert.Error(t, Initialize(Config{NumFrames: 4, NumPagesOnDisk: 0, PageSize: 64}))
}

func TestGet_BeforeInitializeFails(t *testing.T) {
	defer reset()

	_, err := Get()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestGetPage_InstallsFreshUnloadedCoolPage(t *testing.T) {
	defer reset()

	require.NoError(t, Initialize(testConfig()))
	b, err := Get()
	require.NoError(t, err)

	h, err := b.GetPage(3)
	require.NoError(t, err)
	assert.Equal(t, page.Id(3), h.ID())
	assert.False(t, h.page.Loaded())
	assert.False(t, h.page.IsHot())

	h2, err := b.GetPage(3)
	require.NoError(t, err)
	assert.Equal(t, h.ID(), h2.ID())
}

func TestGetPage_RejectsUnknownPage(t *testing.T) {
	defer reset()

	require.NoError(t, Initialize(testConfig()))
	b, err := Get()
	require.NoError(t, err)

	_, err = b.GetPage(16)
	assert.ErrorIs(t, err, ErrUnknownPage)
}

func TestHandle_ReadWriteWithoutWorkerContextFails(t *testing.T) {
	defer reset()

	require.NoError(t, Initialize(testConfig()))
	b, err := Get()
	require.NoError(t, err)

	h, err := b.GetPage(0)
	require.NoError(t, err)

	_, err = h.Read(context.Background())
	assert.ErrorIs(t, err, ErrNoWorkerContext)

	_, err = h.Write(context.Background())
	assert.ErrorIs(t, err, ErrNoWorkerContext)
}
