// Package storage defines the container collaborator used to persist the
// named entries of a tile archive, together with a BoltDB backed file store
// and an in-memory store.
//
// Entries are write-once, read-many byte blobs. The archive writer creates
// entries through an EntryStore and finalizes the store exactly once; the
// archive reader resolves entries by name through an EntrySource. The
// container's internal layout is deliberately not part of the archive
// format: any backend that can persist named blobs will do.
package storage

import (
	"errors"
	"io"
)

var (
	ErrEntryNotFound  = errors.New("the container has no entry with the requested name")
	ErrDuplicateEntry = errors.New("an entry with this name has already been written")
	ErrStoreFinalized = errors.New("the container has been finalized, no further writes are possible")
	ErrEntryOpen      = errors.New("a previously created entry has not been closed")
)

// EntryWriter accepts the bytes of one entry. Close commits the entry to
// the container; an entry that is never closed is never visible to readers.
type EntryWriter interface {
	io.WriteCloser
}

// EntryStore is the writing side of a container.
type EntryStore interface {
	// Create begins a new named entry. Only one entry may be open at a
	// time and names are write-once.
	Create(name string) (EntryWriter, error)

	// Finalize closes the container. After Finalize any Create fails with
	// ErrStoreFinalized.
	Finalize() error
}

// EntrySource is the reading side of a container. Open fails with
// ErrEntryNotFound when no entry has the requested name.
type EntrySource interface {
	Open(name string) (io.ReadCloser, error)
}

// WriteEntry writes a complete entry in one call.
func WriteEntry(store EntryStore, name string, data []byte) error {
	w, err := store.Create(name)
	if err != nil {
		return err
	}
	if _, err = w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// ReadEntry reads a complete entry in one call.
func ReadEntry(source EntrySource, name string) ([]byte, error) {
	r, err := source.Open(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
