package archive

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/codetheweb/placed/archive/storage"
)

// loadedChunk is the reader's buffered chunk cursor. A nil pointer means no
// chunk is loaded; the two states keep the chunk transition logic explicit.
type loadedChunk struct {
	id   uint32
	data []byte
	pos  int
}

// Reader exposes a finalized tile archive as a single byte-addressable,
// seekable stream: the logical concatenation of every chunk blob in id
// order. At most one decoded chunk is held in memory; crossing a chunk
// boundary replaces it.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	log    *zap.SugaredLogger
	source storage.EntrySource

	// Meta is decoded once at open time and immutable thereafter.
	Meta    Meta
	palette *Palette

	chunk *loadedChunk
}

// OpenReader opens the container's meta entry and prepares a reader over
// the archive's tile stream.
func OpenReader(log *zap.SugaredLogger, source storage.EntrySource) (*Reader, error) {
	data, err := storage.ReadEntry(source, MetaEntryName)
	if err != nil {
		if errors.Is(err, storage.ErrEntryNotFound) {
			return nil, ErrMissingMetaFile
		}
		return nil, err
	}

	var meta Meta
	if err := meta.UnmarshalBinary(data); err != nil {
		return nil, err
	}

	log.Debugw("opened tile archive",
		"records", meta.TotalRecords, "chunks", len(meta.ChunkDescriptions),
		"colors", len(meta.Palette), "lastTimestampMs", meta.LastTimestampMS)

	return &Reader{
		log:     log,
		source:  source,
		Meta:    meta,
		palette: PaletteFromColors(meta.Palette),
	}, nil
}

// Palette returns the archive's decoded palette.
func (r *Reader) Palette() *Palette {
	return r.palette
}

func (r *Reader) chunkCount() uint32 {
	return uint32(len(r.Meta.ChunkDescriptions))
}

// loadChunk fetches and buffers the chunk blob for id, replacing any
// previously buffered chunk.
func (r *Reader) loadChunk(id uint32) error {
	if id >= r.chunkCount() {
		return fmt.Errorf("%w: chunk %d of %d", ErrMissingChunkFile, id, r.chunkCount())
	}

	data, err := storage.ReadEntry(r.source, ChunkEntryName(id))
	if err != nil {
		if errors.Is(err, storage.ErrEntryNotFound) {
			return fmt.Errorf("%w: chunk %d", ErrMissingChunkFile, id)
		}
		return fmt.Errorf("%w: chunk %d: %v", ErrCouldNotFetchChunk, id, err)
	}

	desc := r.Meta.ChunkDescriptions[id]
	if len(data) != int(desc.NumTiles)*RecordSize {
		return fmt.Errorf("%w: chunk %d is %d bytes, expected %d records",
			ErrChunkDataLengthInvalid, id, len(data), desc.NumTiles)
	}

	r.chunk = &loadedChunk{id: id, data: data}
	return nil
}

// Read copies bytes from the buffered chunk into p, advancing to the next
// chunk when the buffered one is exhausted. A read never crosses a chunk
// boundary, so short reads are routine; end of the final chunk reports
// io.EOF with zero bytes read.
func (r *Reader) Read(p []byte) (int, error) {
	if r.chunk == nil || r.chunk.pos == len(r.chunk.data) {
		next := uint32(0)
		if r.chunk != nil {
			next = r.chunk.id + 1
		}
		if next >= r.chunkCount() {
			return 0, io.EOF
		}
		if err := r.loadChunk(next); err != nil {
			return 0, err
		}
	}

	n := copy(p, r.chunk.data[r.chunk.pos:])
	r.chunk.pos += n
	return n, nil
}

// position is the absolute byte offset of the cursor within the logical
// stream: the bytes of every chunk before the buffered one, plus the
// consumed prefix of the buffered chunk.
func (r *Reader) position() int64 {
	if r.chunk == nil {
		return 0
	}
	var preceding int64
	for _, desc := range r.Meta.ChunkDescriptions[:r.chunk.id] {
		preceding += int64(desc.NumTiles) * int64(RecordSize)
	}
	return preceding + int64(r.chunk.pos)
}

// Seek repositions the cursor within the logical stream. The chunk
// containing the target offset is found by a linear scan of the chunk
// descriptions; chunk counts are small so this is never the bottleneck.
// Seeking outside [0, TotalSizeBytes] fails with ErrSeekOutOfRange.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.position() + offset
	case io.SeekEnd:
		abs = r.Meta.TotalSizeBytes() + offset
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidWhence, whence)
	}

	if abs < 0 || abs > r.Meta.TotalSizeBytes() {
		return 0, fmt.Errorf("%w: offset %d, stream is %d bytes", ErrSeekOutOfRange, abs, r.Meta.TotalSizeBytes())
	}

	if abs == r.Meta.TotalSizeBytes() {
		// Position exactly at end of stream: park the cursor at the end
		// of the final chunk so the next Read reports io.EOF.
		last := r.chunkCount() - 1
		if r.chunk == nil || r.chunk.id != last {
			if err := r.loadChunk(last); err != nil {
				return 0, err
			}
		}
		r.chunk.pos = len(r.chunk.data)
		return abs, nil
	}

	recordIndex := uint32(abs / int64(RecordSize))

	var chunkStart uint32
	for _, desc := range r.Meta.ChunkDescriptions {
		if recordIndex < chunkStart+desc.NumTiles {
			if r.chunk == nil || r.chunk.id != desc.ID {
				if err := r.loadChunk(desc.ID); err != nil {
					return 0, err
				}
			}
			r.chunk.pos = int(abs%int64(RecordSize)) + int(recordIndex-chunkStart)*RecordSize
			return abs, nil
		}
		chunkStart += desc.NumTiles
	}

	// Unreachable while the chunk descriptions agree with TotalRecords.
	return 0, fmt.Errorf("%w: offset %d not covered by any chunk", ErrSeekOutOfRange, abs)
}

// Next decodes the record at the cursor and resolves its color through the
// palette, yielding the logical placement. A record referencing a missing
// palette index fails loudly with ErrUnknownColorIndex; it is never
// substituted with a default color. io.EOF is returned at end of stream.
func (r *Reader) Next() (TilePlacement, error) {
	var buf [RecordSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return TilePlacement{}, ErrTruncatedRecord
		}
		return TilePlacement{}, err
	}

	var stored StoredTilePlacement
	if err := stored.UnmarshalBinary(buf[:]); err != nil {
		return TilePlacement{}, err
	}

	c, err := r.palette.Color(stored.ColorIndex)
	if err != nil {
		return TilePlacement{}, err
	}

	return TilePlacement{
		X:           stored.X,
		Y:           stored.Y,
		Color:       c,
		TimestampMS: stored.TimestampMS,
	}, nil
}
