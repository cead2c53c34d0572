package archive

import "errors"

var (
	ErrEmptyArchive    = errors.New("an archive must contain at least one tile placement")
	ErrPaletteFull     = errors.New("the palette is full, a tile archive supports at most 255 distinct colors")
	ErrWriterFinalized = errors.New("the writer has already been finalized")
)

var (
	ErrMissingMetaFile        = errors.New("the container has no meta entry")
	ErrCouldNotDecodeMeta     = errors.New("the meta entry bytes are malformed")
	ErrMissingChunkFile       = errors.New("the container has no entry for the requested tile chunk")
	ErrCouldNotFetchChunk     = errors.New("failed fetching the tile chunk entry from the container")
	ErrUnknownColorIndex      = errors.New("a stored record references a color index that is not in the palette")
	ErrSeekOutOfRange         = errors.New("the seek target is outside the archive's logical byte stream")
	ErrInvalidWhence          = errors.New("invalid seek whence value")
	ErrChunkDataLengthInvalid = errors.New("the length of a chunk blob is not a whole number of records")
)
