package archive

import (
	"encoding/binary"
	"fmt"
)

// Container entry names. The tile chunk and snapshot names are produced by
// ChunkEntryName and SnapshotEntryName.
const (
	MetaEntryName       = "meta"
	tileEntryPrefix     = "tiles/"
	snapshotEntryPrefix = "snapshots/"
)

func ChunkEntryName(id uint32) string {
	return fmt.Sprintf("%s%d", tileEntryPrefix, id)
}

func SnapshotEntryName(id uint32) string {
	return fmt.Sprintf("%s%d", snapshotEntryPrefix, id)
}

// TilePlacement is the logical, decoded form of one placement: the stored
// color index has been resolved through the palette.
type TilePlacement struct {
	X           uint16
	Y           uint16
	Color       Color
	TimestampMS uint32
}

// ChunkDescription records the placement of one tile chunk within the
// archive timeline. Chunks are contiguous partitions of the globally
// time-sorted placement sequence, so the NumTiles fields, accumulated in id
// order, locate any record index without touching the chunk blobs.
type ChunkDescription struct {
	ID              uint32
	UpToTimestampMS uint32
	NumTiles        uint32
}

// CanvasSizeChange declares the canvas dimensions that apply from
// TimestampMS onwards. The format supports a timeline of resizes even
// though the writer currently emits a single entry covering the whole
// history.
type CanvasSizeChange struct {
	Width       uint16
	Height      uint16
	TimestampMS uint32
}

// Meta is the archive manifest. It is assembled once when the writer
// finalizes, persisted as the "meta" container entry, and immutable
// thereafter.
type Meta struct {
	Version           uint16
	TotalRecords      uint32
	LastTimestampMS   uint32
	Palette           []Color
	CanvasSizeChanges []CanvasSizeChange
	ChunkDescriptions []ChunkDescription
}

const (
	MetaCurrentVersion = uint16(1)

	metaFixedHeaderSize  = 2 + 4 + 4
	canvasSizeChangeSize = 2 + 2 + 4
	chunkDescriptionSize = 4 + 4 + 4
)

// LargestCanvasSize returns the size change with the greatest area. The
// playback canvas is sized to it so that every placement in the history has
// a destination. The zero value is returned for a meta with no size changes.
func (m Meta) LargestCanvasSize() CanvasSizeChange {
	var largest CanvasSizeChange
	for _, c := range m.CanvasSizeChanges {
		if int(c.Width)*int(c.Height) > int(largest.Width)*int(largest.Height) {
			largest = c
		}
	}
	return largest
}

// TotalSizeBytes is the length of the archive's logical byte stream: the
// concatenation of every encoded tile chunk.
func (m Meta) TotalSizeBytes() int64 {
	return int64(m.TotalRecords) * int64(RecordSize)
}

// MarshalBinary encodes the meta in a fixed width little endian layout.
// Variable length sections are a u32 element count followed by fixed width
// elements, so no integer anywhere in the encoding is variable length.
func (m Meta) MarshalBinary() ([]byte, error) {
	size := metaFixedHeaderSize +
		4 + len(m.Palette)*4 +
		4 + len(m.CanvasSizeChanges)*canvasSizeChangeSize +
		4 + len(m.ChunkDescriptions)*chunkDescriptionSize

	b := make([]byte, 0, size)

	var scratch [4]byte
	binary.LittleEndian.PutUint16(scratch[:2], m.Version)
	b = append(b, scratch[:2]...)
	binary.LittleEndian.PutUint32(scratch[:], m.TotalRecords)
	b = append(b, scratch[:]...)
	binary.LittleEndian.PutUint32(scratch[:], m.LastTimestampMS)
	b = append(b, scratch[:]...)

	binary.LittleEndian.PutUint32(scratch[:], uint32(len(m.Palette)))
	b = append(b, scratch[:]...)
	for _, c := range m.Palette {
		b = append(b, c[:]...)
	}

	binary.LittleEndian.PutUint32(scratch[:], uint32(len(m.CanvasSizeChanges)))
	b = append(b, scratch[:]...)
	for _, c := range m.CanvasSizeChanges {
		binary.LittleEndian.PutUint16(scratch[:2], c.Width)
		b = append(b, scratch[:2]...)
		binary.LittleEndian.PutUint16(scratch[:2], c.Height)
		b = append(b, scratch[:2]...)
		binary.LittleEndian.PutUint32(scratch[:], c.TimestampMS)
		b = append(b, scratch[:]...)
	}

	binary.LittleEndian.PutUint32(scratch[:], uint32(len(m.ChunkDescriptions)))
	b = append(b, scratch[:]...)
	for _, d := range m.ChunkDescriptions {
		binary.LittleEndian.PutUint32(scratch[:], d.ID)
		b = append(b, scratch[:]...)
		binary.LittleEndian.PutUint32(scratch[:], d.UpToTimestampMS)
		b = append(b, scratch[:]...)
		binary.LittleEndian.PutUint32(scratch[:], d.NumTiles)
		b = append(b, scratch[:]...)
	}

	return b, nil
}

type metaDecoder struct {
	b   []byte
	pos int
}

func (d *metaDecoder) take(n int) ([]byte, error) {
	if d.pos+n > len(d.b) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrCouldNotDecodeMeta, n, d.pos, len(d.b)-d.pos)
	}
	section := d.b[d.pos : d.pos+n]
	d.pos += n
	return section, nil
}

func (d *metaDecoder) u16() (uint16, error) {
	section, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(section), nil
}

func (d *metaDecoder) u32() (uint32, error) {
	section, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(section), nil
}

// UnmarshalBinary decodes a meta entry. Any truncation or malformed section
// fails with an error wrapping ErrCouldNotDecodeMeta.
func (m *Meta) UnmarshalBinary(b []byte) error {
	d := &metaDecoder{b: b}

	var err error
	if m.Version, err = d.u16(); err != nil {
		return err
	}
	if m.Version > MetaCurrentVersion {
		return fmt.Errorf("%w: unsupported meta version %d", ErrCouldNotDecodeMeta, m.Version)
	}
	if m.TotalRecords, err = d.u32(); err != nil {
		return err
	}
	if m.LastTimestampMS, err = d.u32(); err != nil {
		return err
	}

	paletteLen, err := d.u32()
	if err != nil {
		return err
	}
	if paletteLen > MaxPaletteColors {
		return fmt.Errorf("%w: palette declares %d colors", ErrCouldNotDecodeMeta, paletteLen)
	}
	m.Palette = make([]Color, paletteLen)
	for i := range m.Palette {
		section, err := d.take(4)
		if err != nil {
			return err
		}
		copy(m.Palette[i][:], section)
	}

	canvasLen, err := d.u32()
	if err != nil {
		return err
	}
	// The count is untrusted input: bound it against the bytes actually
	// present before allocating for it.
	if int64(canvasLen)*canvasSizeChangeSize > int64(len(b)-d.pos) {
		return fmt.Errorf("%w: %d canvas size changes declared, %d bytes remain", ErrCouldNotDecodeMeta, canvasLen, len(b)-d.pos)
	}
	m.CanvasSizeChanges = make([]CanvasSizeChange, 0, canvasLen)
	for i := uint32(0); i < canvasLen; i++ {
		var c CanvasSizeChange
		if c.Width, err = d.u16(); err != nil {
			return err
		}
		if c.Height, err = d.u16(); err != nil {
			return err
		}
		if c.TimestampMS, err = d.u32(); err != nil {
			return err
		}
		m.CanvasSizeChanges = append(m.CanvasSizeChanges, c)
	}

	chunkLen, err := d.u32()
	if err != nil {
		return err
	}
	if int64(chunkLen)*chunkDescriptionSize > int64(len(b)-d.pos) {
		return fmt.Errorf("%w: %d chunk descriptions declared, %d bytes remain", ErrCouldNotDecodeMeta, chunkLen, len(b)-d.pos)
	}
	m.ChunkDescriptions = make([]ChunkDescription, 0, chunkLen)
	for i := uint32(0); i < chunkLen; i++ {
		var desc ChunkDescription
		if desc.ID, err = d.u32(); err != nil {
			return err
		}
		if desc.UpToTimestampMS, err = d.u32(); err != nil {
			return err
		}
		if desc.NumTiles, err = d.u32(); err != nil {
			return err
		}
		m.ChunkDescriptions = append(m.ChunkDescriptions, desc)
	}

	if d.pos != len(b) {
		return fmt.Errorf("%w: %d trailing bytes", ErrCouldNotDecodeMeta, len(b)-d.pos)
	}

	return nil
}
