package player

import (
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/codetheweb/placed/archive"
)

const (
	// DefaultSliceCapacity bounds how many records one resolution slice
	// may carry. A parallel backend would set this to its dispatch width
	// limit; the sequential backend only uses it to bound memory.
	DefaultSliceCapacity = 1 << 16

	// DefaultAlignment is the number of records per resolution group.
	// Slices are padded with sentinel records up to a multiple of it.
	DefaultAlignment = 4
)

var (
	ErrNoCanvasSize     = errors.New("the archive meta declares no canvas size")
	ErrInvalidAlignment = errors.New("the slice alignment must be at least one record")
)

type EngineOptions struct {
	sliceCapacity int
	alignment     int
}

type EngineOption func(*EngineOptions)

// WithSliceCapacity bounds the records pulled per slice. The capacity is
// rounded down to a whole number of alignment groups, and never below one
// group.
func WithSliceCapacity(records int) EngineOption {
	return func(opts *EngineOptions) {
		opts.sliceCapacity = records
	}
}

// WithAlignment sets the records-per-group alignment requirement.
func WithAlignment(records int) EngineOption {
	return func(opts *EngineOptions) {
		opts.alignment = records
	}
}

// StepResult reports the progress of one engine call.
//
// EndOfInput means the archive stream is exhausted; the canvas holds the
// fully resolved history and further calls return the same terminal result
// without mutation. Otherwise MaxUsedMS is the largest timestamp applied to
// the canvas so far, and Satisfied reports whether the stream has been
// resolved at least up to the requested target: true as soon as a record at
// or beyond the target has been *seen*, which in a history with timeline
// holes can leave MaxUsedMS strictly below the target.
type StepResult struct {
	EndOfInput bool
	MaxUsedMS  uint32
	Satisfied  bool
}

type coordinate struct {
	x uint16
	y uint16
}

// Engine incrementally resolves the archive's placement stream onto a
// persistent canvas. It pulls bounded slices from the reader, resolves
// last-write-wins per coordinate within each slice, applies only records
// that qualify against the requested target time, and rewinds the stream
// over any records pulled past the target so nothing is lost or applied
// twice.
//
// The engine owns its canvas exclusively. Callers may inspect the canvas
// between calls; there is no internal locking.
type Engine struct {
	log     *zap.SugaredLogger
	src     io.ReadSeeker
	palette *archive.Palette
	canvas  *Canvas

	// scratch maps coordinate to the slice index of the last qualifying
	// record for it. It is cleared after every slice.
	scratch map[coordinate]int

	alignment int
	// buf is sized to the slice capacity plus padding headroom and reused
	// for every pull.
	buf []byte

	// average placement rate over the whole archive, records per ms
	ratePerMS float64

	maxUsedMS uint32
}

func NewEngine(log *zap.SugaredLogger, src io.ReadSeeker, meta archive.Meta, opts ...EngineOption) (*Engine, error) {
	options := EngineOptions{
		sliceCapacity: DefaultSliceCapacity,
		alignment:     DefaultAlignment,
	}
	for _, o := range opts {
		o(&options)
	}
	if options.alignment < 1 {
		return nil, ErrInvalidAlignment
	}
	capacity := max(options.sliceCapacity-options.sliceCapacity%options.alignment, options.alignment)

	size := meta.LargestCanvasSize()
	if size.Width == 0 || size.Height == 0 {
		return nil, ErrNoCanvasSize
	}

	return &Engine{
		log:       log,
		src:       src,
		palette:   archive.PaletteFromColors(meta.Palette),
		canvas:    NewCanvas(int(size.Width), int(size.Height)),
		scratch:   map[coordinate]int{},
		alignment: options.alignment,
		buf:       make([]byte, capacity*archive.RecordSize),
		ratePerMS: float64(meta.TotalRecords) / float64(meta.LastTimestampMS+1),
	}, nil
}

// Canvas returns the engine's canvas. It is valid to read between calls to
// Step and Advance only.
func (e *Engine) Canvas() *Canvas {
	return e.canvas
}

// sliceSizeBytes estimates the bytes worth pulling for one slice: enough
// records to cover the duration hint at the archive's average placement
// rate, rounded up to a whole number of alignment groups and clamped to
// the slice capacity. The hint is a sizing heuristic, not a deadline.
func (e *Engine) sliceSizeBytes(hint time.Duration) int {
	groupBytes := e.alignment * archive.RecordSize

	want := int(e.ratePerMS*float64(hint.Milliseconds())) * archive.RecordSize
	n := (want + groupBytes - 1) / groupBytes * groupBytes
	if n < groupBytes {
		// Always pull at least one group so playback makes progress even
		// with a zero hint.
		n = groupBytes
	}
	if n > len(e.buf) {
		n = len(e.buf)
	}
	return n
}

// Step performs one bounded pull-and-resolve cycle against targetMS.
func (e *Engine) Step(targetMS uint32, hint time.Duration) (StepResult, error) {
	slice := e.buf[:e.sliceSizeBytes(hint)]

	pulled, err := io.ReadFull(e.src, slice)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return StepResult{}, err
	}
	if pulled == 0 {
		return StepResult{EndOfInput: true, MaxUsedMS: e.maxUsedMS, Satisfied: false}, nil
	}

	// The stream length is a whole number of records, and so is the slice
	// size, so a short read still ends on a record boundary.
	pulledRecords := pulled / archive.RecordSize
	slice = slice[:pulled]
	groupBytes := e.alignment * archive.RecordSize
	for len(slice)%groupBytes != 0 {
		slice = archive.SentinelRecord().AppendTo(slice)
	}

	// Pass 1: resolve last-write-wins per coordinate. Later qualifying
	// records overwrite earlier scratch entries at the same coordinate,
	// which is correct because the slice is a contiguous window of the
	// globally time-sorted stream. Sentinels are padding, never resolved.
	maxIndexUsed := -1
	var maxSeenMS uint32
	var rec archive.StoredTilePlacement
	for i := 0; i < len(slice)/archive.RecordSize; i++ {
		if err := rec.UnmarshalBinary(slice[i*archive.RecordSize:]); err != nil {
			return StepResult{}, err
		}
		if rec.IsSentinel() {
			continue
		}
		if rec.TimestampMS > maxSeenMS {
			maxSeenMS = rec.TimestampMS
		}
		if rec.TimestampMS <= targetMS {
			e.scratch[coordinate{rec.X, rec.Y}] = i
			if rec.TimestampMS > e.maxUsedMS {
				e.maxUsedMS = rec.TimestampMS
			}
			if i > maxIndexUsed {
				maxIndexUsed = i
			}
		}
	}

	// Pass 2 must not begin until pass 1 has fully populated scratch:
	// resolving and applying are independently data parallel, but they
	// are sequenced by one barrier per slice. Coordinates absent from
	// scratch are untouched, which is what keeps the update incremental.
	for pos, i := range e.scratch {
		if err := rec.UnmarshalBinary(slice[i*archive.RecordSize:]); err != nil {
			return StepResult{}, err
		}
		col, err := e.palette.Color(rec.ColorIndex)
		if err != nil {
			return StepResult{}, err
		}
		e.canvas.Set(pos.x, pos.y, col)
	}
	clear(e.scratch)

	// Any trailing pulled records that did not qualify are in the future
	// relative to targetMS. Rewind the stream so they are re-read, not
	// skipped, next time. Padding never came from the stream and is not
	// counted.
	if trailing := pulledRecords - 1 - maxIndexUsed; trailing > 0 {
		if _, err := e.src.Seek(-int64(trailing*archive.RecordSize), io.SeekCurrent); err != nil {
			return StepResult{}, err
		}
	}

	return StepResult{MaxUsedMS: e.maxUsedMS, Satisfied: maxSeenMS >= targetMS}, nil
}

// Advance drives Step until the stream is resolved up to targetMS or
// exhausted, and returns the first such result. The duration hint sizes the
// individual slices; exceeding it is not an error.
func (e *Engine) Advance(targetMS uint32, hint time.Duration) (StepResult, error) {
	for {
		res, err := e.Step(targetMS, hint)
		if err != nil {
			return StepResult{}, err
		}
		if res.EndOfInput || res.Satisfied {
			e.log.Debugw("advance complete",
				"targetMs", targetMS, "maxUsedMs", res.MaxUsedMS,
				"satisfied", res.Satisfied, "endOfInput", res.EndOfInput)
			return res, nil
		}
	}
}
