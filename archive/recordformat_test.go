package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		record StoredTilePlacement
	}{
		{name: "zero", record: StoredTilePlacement{}},
		{name: "typical", record: StoredTilePlacement{X: 999, Y: 1000, ColorIndex: 17, TimestampMS: 82_800_017}},
		{name: "extremes", record: StoredTilePlacement{X: 0xFFFF, Y: 0xFFFF, ColorIndex: 0xFE, TimestampMS: 0xFFFFFFFF}},
		{name: "sentinel", record: SentinelRecord()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := tt.record.MarshalBinary()
			require.NoError(t, err)
			require.Len(t, enc, RecordSize)

			var got StoredTilePlacement
			require.NoError(t, got.UnmarshalBinary(enc))
			assert.Equal(t, tt.record, got)
		})
	}
}

func TestRecordLayoutIsFixedLittleEndian(t *testing.T) {
	// Pinned bytes: the on-disk layout is a wire contract, not an
	// implementation detail.
	enc, err := StoredTilePlacement{
		X:           0x0201,
		Y:           0x0403,
		ColorIndex:  0x05,
		TimestampMS: 0x09080706,
	}.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}, enc)
}

func TestRecordTruncated(t *testing.T) {
	enc, err := StoredTilePlacement{X: 1, Y: 2, ColorIndex: 3, TimestampMS: 4}.MarshalBinary()
	require.NoError(t, err)

	var got StoredTilePlacement
	for n := 0; n < RecordSize; n++ {
		assert.ErrorIs(t, got.UnmarshalBinary(enc[:n]), ErrTruncatedRecord)
	}
}

func TestSentinelRecognition(t *testing.T) {
	assert.True(t, SentinelRecord().IsSentinel())
	assert.False(t, StoredTilePlacement{ColorIndex: 0}.IsSentinel())
	assert.False(t, StoredTilePlacement{ColorIndex: 0xFE}.IsSentinel())
}
