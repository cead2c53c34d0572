package archive

import (
	"bytes"
	"context"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codetheweb/placed/archive/storage"
)

var testEpoch = time.Date(2022, time.April, 1, 12, 0, 0, 0, time.UTC)

func testColor(i int) Color {
	return Color{byte(i), byte(i * 3), byte(i * 7), 0xFF}
}

// writeSequentialArchive packs n placements, one every 10ms starting at the
// epoch, walking the coordinates of a 64 wide grid with three colors.
func writeSequentialArchive(t *testing.T, n int, opts ...WriterOption) (*storage.MemStore, Meta) {
	t.Helper()

	store := storage.NewMemStore()
	w := NewWriter(zap.NewNop().Sugar(), store, opts...)

	for i := 0; i < n; i++ {
		err := w.AddTile(uint16(i%64), uint16(i/64), testColor(i%3), testEpoch.Add(time.Duration(i)*10*time.Millisecond))
		require.NoError(t, err)
	}

	meta, err := w.Finalize(context.Background())
	require.NoError(t, err)
	return store, meta
}

func TestFinalizeEmptyArchive(t *testing.T) {
	store := storage.NewMemStore()
	w := NewWriter(zap.NewNop().Sugar(), store)

	_, err := w.Finalize(context.Background())
	assert.ErrorIs(t, err, ErrEmptyArchive)

	// the precondition is checked before any I/O is attempted
	assert.Empty(t, store.EntryNames())
}

func TestWriterIsSingleUse(t *testing.T) {
	store := storage.NewMemStore()
	w := NewWriter(zap.NewNop().Sugar(), store)
	require.NoError(t, w.AddTile(0, 0, testColor(0), testEpoch))

	_, err := w.Finalize(context.Background())
	require.NoError(t, err)

	_, err = w.Finalize(context.Background())
	assert.ErrorIs(t, err, ErrWriterFinalized)
	assert.ErrorIs(t, w.AddTile(1, 1, testColor(1), testEpoch), ErrWriterFinalized)
}

func TestFinalChunkAbsorbsRemainder(t *testing.T) {
	// 130 records over a nominal 8 chunks: floor division gives a chunk
	// size of 16, and the final chunk takes the remainder of 18.
	_, meta := writeSequentialArchive(t, 130, WithNumChunks(8))

	require.Len(t, meta.ChunkDescriptions, 8)
	var total uint32
	for i, desc := range meta.ChunkDescriptions {
		assert.Equal(t, uint32(i), desc.ID)
		if i < 7 {
			assert.Equal(t, uint32(16), desc.NumTiles)
		} else {
			assert.Equal(t, uint32(18), desc.NumTiles)
		}
		total += desc.NumTiles
	}
	assert.Equal(t, meta.TotalRecords, total)
}

func TestSmallArchiveClampsChunkCount(t *testing.T) {
	// fewer records than the nominal chunk count: one record per chunk
	// rather than 63 empty chunks and one full one
	_, meta := writeSequentialArchive(t, 5)

	require.Len(t, meta.ChunkDescriptions, 5)
	for _, desc := range meta.ChunkDescriptions {
		assert.Equal(t, uint32(1), desc.NumTiles)
	}
}

func TestZeroChunkCountMeansOneChunk(t *testing.T) {
	// a zero nominal count must not reach the chunk size division
	_, meta := writeSequentialArchive(t, 9, WithNumChunks(0))

	require.Len(t, meta.ChunkDescriptions, 1)
	assert.Equal(t, uint32(9), meta.ChunkDescriptions[0].NumTiles)
}

func TestTimestampsRebasedToGlobalFirst(t *testing.T) {
	store := storage.NewMemStore()
	w := NewWriter(zap.NewNop().Sugar(), store, WithNumChunks(2))

	// added out of order, with a first placement well after the unix epoch
	require.NoError(t, w.AddTile(1, 1, testColor(1), testEpoch.Add(500*time.Millisecond)))
	require.NoError(t, w.AddTile(0, 0, testColor(0), testEpoch.Add(100*time.Millisecond)))
	require.NoError(t, w.AddTile(2, 2, testColor(2), testEpoch.Add(900*time.Millisecond)))
	require.NoError(t, w.AddTile(3, 3, testColor(0), testEpoch.Add(1900*time.Millisecond)))

	meta, err := w.Finalize(context.Background())
	require.NoError(t, err)

	// chunk boundaries are relative to the global first placement, not to
	// the chunk start
	assert.Equal(t, uint32(1800), meta.LastTimestampMS)
	require.Len(t, meta.ChunkDescriptions, 2)
	assert.Equal(t, uint32(400), meta.ChunkDescriptions[0].UpToTimestampMS)
	assert.Equal(t, uint32(1800), meta.ChunkDescriptions[1].UpToTimestampMS)

	r, err := OpenReader(zap.NewNop().Sugar(), store)
	require.NoError(t, err)

	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), first.TimestampMS)
	assert.Equal(t, uint16(0), first.X)
}

func TestPaletteOverflowSurfacesOnAddTile(t *testing.T) {
	w := NewWriter(zap.NewNop().Sugar(), storage.NewMemStore())
	for i := 0; i < MaxPaletteColors; i++ {
		require.NoError(t, w.AddTile(0, 0, Color{byte(i), byte(i >> 8), 0, 0xFF}, testEpoch))
	}
	err := w.AddTile(0, 0, Color{0xAB, 0xCD, 0xEF, 0xFF}, testEpoch)
	assert.ErrorIs(t, err, ErrPaletteFull)
}

func TestSnapshotsPerChunkBoundary(t *testing.T) {
	store, meta := writeSequentialArchive(t, 64, WithNumChunks(4), WithSnapshots(), WithCanvasSize(64, 64))

	for _, desc := range meta.ChunkDescriptions {
		data, err := storage.ReadEntry(store, SnapshotEntryName(desc.ID))
		require.NoError(t, err)

		img, err := png.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, 64, img.Bounds().Dx())
		assert.Equal(t, 64, img.Bounds().Dy())
	}

	// snapshots are cumulative: the final one carries the very first
	// placement as well as the very last
	data, err := storage.ReadEntry(store, SnapshotEntryName(3))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	r0, g0, b0, _ := img.At(1, 0).RGBA()
	want := testColor(1)
	assert.Equal(t, uint32(want[0])<<8|uint32(want[0]), r0)
	assert.Equal(t, uint32(want[1])<<8|uint32(want[1]), g0)
	assert.Equal(t, uint32(want[2])<<8|uint32(want[2]), b0)

	// no snapshots unless asked for
	other, _ := writeSequentialArchive(t, 64, WithNumChunks(4))
	_, err = storage.ReadEntry(other, SnapshotEntryName(0))
	assert.ErrorIs(t, err, storage.ErrEntryNotFound)
}
