package archive

import (
	"encoding/binary"
	"errors"
)

const (
	// StoredTilePlacement layout
	//
	// .     |  x  |  y  | color index | timestamp ms |
	// .     | 0  1| 2  3|      4      | 5          8 |
	// bytes |  2  |  2  |      1      |      4       |
	//
	// All integers are little endian. The width of every record is fixed so
	// that the byte offset of record i is always i * RecordSize. That
	// arithmetic is load bearing for the Reader's Seek implementation and
	// must never depend on the record contents.

	recordXFirstByte         = 0
	recordXEnd               = recordXFirstByte + 2
	recordYFirstByte         = recordXEnd
	recordYEnd               = recordYFirstByte + 2
	recordColorIndexByte     = recordYEnd
	recordTimestampFirstByte = recordColorIndexByte + 1
	recordTimestampEnd       = recordTimestampFirstByte + 4

	// RecordSize is the exact encoded size of one StoredTilePlacement.
	RecordSize = recordTimestampEnd

	// SentinelColorIndex marks a no-op padding record. Records carrying it
	// are skipped entirely by the resolution pass; a palette can therefore
	// never allocate this index (see MaxPaletteColors).
	SentinelColorIndex uint8 = 0xFF
)

var (
	ErrTruncatedRecord = errors.New("too few bytes to represent a stored tile placement")
)

// StoredTilePlacement is the on-disk form of one placement. Its timestamp is
// expressed in milliseconds since the first recorded event of the archive,
// and its color is an index into the archive palette.
type StoredTilePlacement struct {
	X           uint16
	Y           uint16
	ColorIndex  uint8
	TimestampMS uint32
}

// AppendTo encodes the record in the prescribed fixed width layout and
// appends it to b.
func (p StoredTilePlacement) AppendTo(b []byte) []byte {
	var enc [RecordSize]byte
	binary.LittleEndian.PutUint16(enc[recordXFirstByte:recordXEnd], p.X)
	binary.LittleEndian.PutUint16(enc[recordYFirstByte:recordYEnd], p.Y)
	enc[recordColorIndexByte] = p.ColorIndex
	binary.LittleEndian.PutUint32(enc[recordTimestampFirstByte:recordTimestampEnd], p.TimestampMS)
	return append(b, enc[:]...)
}

// MarshalBinary encodes the record into a fresh RecordSize byte slice.
func (p StoredTilePlacement) MarshalBinary() ([]byte, error) {
	return p.AppendTo(make([]byte, 0, RecordSize)), nil
}

// UnmarshalBinary decodes one record from the first RecordSize bytes of b.
// ErrTruncatedRecord is returned if b is too short.
func (p *StoredTilePlacement) UnmarshalBinary(b []byte) error {
	if len(b) < RecordSize {
		return ErrTruncatedRecord
	}
	p.X = binary.LittleEndian.Uint16(b[recordXFirstByte:recordXEnd])
	p.Y = binary.LittleEndian.Uint16(b[recordYFirstByte:recordYEnd])
	p.ColorIndex = b[recordColorIndexByte]
	p.TimestampMS = binary.LittleEndian.Uint32(b[recordTimestampFirstByte:recordTimestampEnd])
	return nil
}

// IsSentinel reports whether the record is alignment padding rather than a
// real placement.
func (p StoredTilePlacement) IsSentinel() bool {
	return p.ColorIndex == SentinelColorIndex
}

// SentinelRecord returns the canonical no-op record used to pad resolution
// slices up to their alignment requirement.
func SentinelRecord() StoredTilePlacement {
	return StoredTilePlacement{ColorIndex: SentinelColorIndex}
}
