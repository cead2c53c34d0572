package archive

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/codetheweb/placed/archive/storage"
)

const (
	// DefaultNumChunks is the nominal number of tile chunks an archive is
	// partitioned into. The partition uses floor division, so the final
	// chunk absorbs the remainder and can exceed the nominal chunk size by
	// up to numChunks-1 records.
	DefaultNumChunks = 64

	// The writer emits a single synthetic full-history canvas size. The
	// format supports a timeline of resizes; nothing produces one yet.
	DefaultCanvasWidth  = 2000
	DefaultCanvasHeight = 2000
)

type WriterOptions struct {
	numChunks    uint32
	snapshots    bool
	canvasWidth  uint16
	canvasHeight uint16
}

type WriterOption func(*WriterOptions)

// WithNumChunks overrides the nominal chunk count. Small archives produce
// fewer chunks: the chunk size never drops below one record. A zero count
// is treated as one chunk.
func WithNumChunks(n uint32) WriterOption {
	return func(opts *WriterOptions) {
		opts.numChunks = n
	}
}

// WithSnapshots enables writing one cumulative full-history PNG snapshot
// per chunk boundary, under the snapshots/<id> entries. Snapshots are a
// convenience for consumers that want a coarse scrub bar; playback never
// depends on them.
func WithSnapshots() WriterOption {
	return func(opts *WriterOptions) {
		opts.snapshots = true
	}
}

// WithCanvasSize overrides the synthetic canvas size recorded in the meta.
func WithCanvasSize(width, height uint16) WriterOption {
	return func(opts *WriterOptions) {
		opts.canvasWidth = width
		opts.canvasHeight = height
	}
}

type intermediatePlacement struct {
	x          uint16
	y          uint16
	colorIndex uint8
	placedAt   time.Time
}

// Writer buffers tile placements and, on Finalize, sorts and partitions
// them into the chunked archive format. A Writer is single use: construct,
// AddTile any number of times, Finalize once.
type Writer struct {
	log        *zap.SugaredLogger
	store      storage.EntryStore
	opts       WriterOptions
	palette    *Palette
	placements []intermediatePlacement
	finalized  bool
}

func NewWriter(log *zap.SugaredLogger, store storage.EntryStore, opts ...WriterOption) *Writer {
	options := WriterOptions{
		numChunks:    DefaultNumChunks,
		canvasWidth:  DefaultCanvasWidth,
		canvasHeight: DefaultCanvasHeight,
	}
	for _, o := range opts {
		o(&options)
	}

	return &Writer{
		log:     log,
		store:   store,
		opts:    options,
		palette: NewPalette(),
	}
}

// AddTile buffers one placement. The color is interned into the palette in
// first-seen order; a 256th distinct color fails with ErrPaletteFull rather
// than wrapping the index.
func (w *Writer) AddTile(x, y uint16, c Color, placedAt time.Time) error {
	if w.finalized {
		return ErrWriterFinalized
	}
	index, err := w.palette.Intern(c)
	if err != nil {
		return err
	}
	w.placements = append(w.placements, intermediatePlacement{
		x:          x,
		y:          y,
		colorIndex: index,
		placedAt:   placedAt,
	})
	return nil
}

// Finalize sorts the buffered placements, partitions them into chunks,
// persists the chunk blobs and the meta entry, and finalizes the container.
// The writer cannot be used afterwards. Finalizing with no buffered
// placements fails with ErrEmptyArchive before any I/O is attempted.
func (w *Writer) Finalize(ctx context.Context) (Meta, error) {
	if w.finalized {
		return Meta{}, ErrWriterFinalized
	}
	if len(w.placements) == 0 {
		return Meta{}, ErrEmptyArchive
	}
	w.finalized = true

	// Stable, so placements sharing a millisecond keep their insertion
	// order and resolve deterministically.
	sort.SliceStable(w.placements, func(i, j int) bool {
		return w.placements[i].placedAt.Before(w.placements[j].placedAt)
	})

	// All stored timestamps are relative to the global first placement,
	// not to the chunk they land in.
	epoch := w.placements[0].placedAt
	msSinceEpoch := func(t time.Time) uint32 {
		return uint32(t.Sub(epoch).Milliseconds())
	}

	total := uint32(len(w.placements))
	numChunks := max(min(w.opts.numChunks, total), 1)
	chunkSize := total / numChunks

	var descs []ChunkDescription
	for id := uint32(0); id < numChunks; id++ {
		if err := ctx.Err(); err != nil {
			return Meta{}, err
		}

		start := id * chunkSize
		end := start + chunkSize
		if id == numChunks-1 {
			// floor division: the final chunk absorbs the remainder
			end = total
		}
		tiles := w.placements[start:end]

		blob := make([]byte, 0, len(tiles)*RecordSize)
		for _, tile := range tiles {
			blob = StoredTilePlacement{
				X:           tile.x,
				Y:           tile.y,
				ColorIndex:  tile.colorIndex,
				TimestampMS: msSinceEpoch(tile.placedAt),
			}.AppendTo(blob)
		}

		if err := storage.WriteEntry(w.store, ChunkEntryName(id), blob); err != nil {
			return Meta{}, err
		}

		descs = append(descs, ChunkDescription{
			ID:              id,
			UpToTimestampMS: msSinceEpoch(tiles[len(tiles)-1].placedAt),
			NumTiles:        uint32(len(tiles)),
		})
	}

	meta := Meta{
		Version:         MetaCurrentVersion,
		TotalRecords:    total,
		LastTimestampMS: msSinceEpoch(w.placements[total-1].placedAt),
		Palette:         w.palette.Colors(),
		CanvasSizeChanges: []CanvasSizeChange{{
			Width:       w.opts.canvasWidth,
			Height:      w.opts.canvasHeight,
			TimestampMS: 0,
		}},
		ChunkDescriptions: descs,
	}

	metaBytes, err := meta.MarshalBinary()
	if err != nil {
		return Meta{}, err
	}
	if err := storage.WriteEntry(w.store, MetaEntryName, metaBytes); err != nil {
		return Meta{}, err
	}

	if w.opts.snapshots {
		if err := w.writeSnapshots(ctx, meta); err != nil {
			return Meta{}, err
		}
	}

	w.log.Infow("finalized tile archive",
		"records", total, "chunks", numChunks, "colors", w.palette.Len(),
		"lastTimestampMs", meta.LastTimestampMS)

	if err := w.store.Finalize(); err != nil {
		return Meta{}, err
	}

	// Release the buffered placements, the writer is spent.
	w.placements = nil

	return meta, nil
}

// writeSnapshots replays the sorted placements cumulatively and persists a
// full-history PNG per chunk boundary.
func (w *Writer) writeSnapshots(ctx context.Context, meta Meta) error {
	size := meta.LargestCanvasSize()
	canvas := image.NewRGBA(image.Rect(0, 0, int(size.Width), int(size.Height)))

	processed := 0
	for _, desc := range meta.ChunkDescriptions {
		if err := ctx.Err(); err != nil {
			return err
		}

		for _, tile := range w.placements[processed : processed+int(desc.NumTiles)] {
			c, err := w.palette.Color(tile.colorIndex)
			if err != nil {
				return err
			}
			canvas.SetRGBA(int(tile.x), int(tile.y), color.RGBA{R: c[0], G: c[1], B: c[2], A: c[3]})
		}
		processed += int(desc.NumTiles)

		var buf bytes.Buffer
		if err := png.Encode(&buf, canvas); err != nil {
			return err
		}
		if err := storage.WriteEntry(w.store, SnapshotEntryName(desc.ID), buf.Bytes()); err != nil {
			return err
		}
	}

	return nil
}
