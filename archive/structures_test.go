package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMeta() Meta {
	return Meta{
		Version:         MetaCurrentVersion,
		TotalRecords:    130,
		LastTimestampMS: 99_000,
		Palette: []Color{
			{0xFF, 0xFF, 0xFF, 0xFF},
			{0x00, 0x00, 0x00, 0xFF},
			{0xFF, 0x45, 0x00, 0xFF},
		},
		CanvasSizeChanges: []CanvasSizeChange{
			{Width: 1000, Height: 1000, TimestampMS: 0},
			{Width: 2000, Height: 2000, TimestampMS: 50_000},
		},
		ChunkDescriptions: []ChunkDescription{
			{ID: 0, UpToTimestampMS: 40_000, NumTiles: 65},
			{ID: 1, UpToTimestampMS: 99_000, NumTiles: 65},
		},
	}
}

func TestMetaRoundTrip(t *testing.T) {
	meta := testMeta()

	enc, err := meta.MarshalBinary()
	require.NoError(t, err)

	var got Meta
	require.NoError(t, got.UnmarshalBinary(enc))
	assert.Equal(t, meta, got)
}

func TestMetaDecodeErrors(t *testing.T) {
	enc, err := testMeta().MarshalBinary()
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "truncated header", data: enc[:5]},
		{name: "truncated palette", data: enc[:metaFixedHeaderSize+4+2]},
		{name: "truncated chunk descs", data: enc[:len(enc)-1]},
		{name: "trailing garbage", data: append(append([]byte{}, enc...), 0x00)},
		{name: "future version", data: append([]byte{0xFF, 0xFF}, enc[2:]...)},
		{
			// counts are attacker controlled and must be bounded against the
			// input before any allocation happens
			name: "canvas count exceeds input",
			data: []byte{
				0x01, 0x00, // version
				0x00, 0x00, 0x00, 0x00, // total records
				0x00, 0x00, 0x00, 0x00, // last timestamp
				0x00, 0x00, 0x00, 0x00, // palette: empty
				0xFF, 0xFF, 0xFF, 0xFF, // canvas size changes: 4 billion
			},
		},
		{
			name: "chunk count exceeds input",
			data: []byte{
				0x01, 0x00, // version
				0x00, 0x00, 0x00, 0x00, // total records
				0x00, 0x00, 0x00, 0x00, // last timestamp
				0x00, 0x00, 0x00, 0x00, // palette: empty
				0x00, 0x00, 0x00, 0x00, // canvas size changes: empty
				0xFF, 0xFF, 0xFF, 0xFF, // chunk descriptions: 4 billion
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Meta
			assert.ErrorIs(t, got.UnmarshalBinary(tt.data), ErrCouldNotDecodeMeta)
		})
	}
}

func TestLargestCanvasSize(t *testing.T) {
	meta := testMeta()
	assert.Equal(t, CanvasSizeChange{Width: 2000, Height: 2000, TimestampMS: 50_000}, meta.LargestCanvasSize())

	// max by area, not by recency
	meta.CanvasSizeChanges = append(meta.CanvasSizeChanges, CanvasSizeChange{Width: 10, Height: 10, TimestampMS: 60_000})
	assert.Equal(t, uint16(2000), meta.LargestCanvasSize().Width)

	assert.Equal(t, CanvasSizeChange{}, Meta{}.LargestCanvasSize())
}

func TestMetaTotalSizeBytes(t *testing.T) {
	assert.Equal(t, int64(130*RecordSize), testMeta().TotalSizeBytes())
}
