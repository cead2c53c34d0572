package storage

import (
	"bytes"
	"fmt"
	"io"
)

// MemStore is an in-memory container, usable anywhere the archive does not
// need to outlive the process. It implements both EntryStore and
// EntrySource.
type MemStore struct {
	entries   map[string][]byte
	finalized bool
	open      bool
}

func NewMemStore() *MemStore {
	return &MemStore{entries: map[string][]byte{}}
}

func (s *MemStore) Create(name string) (EntryWriter, error) {
	if s.finalized {
		return nil, ErrStoreFinalized
	}
	if s.open {
		return nil, ErrEntryOpen
	}
	if _, ok := s.entries[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	}
	s.open = true
	return &memEntryWriter{store: s, name: name}, nil
}

func (s *MemStore) Finalize() error {
	if s.finalized {
		return ErrStoreFinalized
	}
	if s.open {
		return ErrEntryOpen
	}
	s.finalized = true
	return nil
}

func (s *MemStore) Open(name string) (io.ReadCloser, error) {
	data, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// EntryNames returns the names of all committed entries, for tests and
// tooling.
func (s *MemStore) EntryNames() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

type memEntryWriter struct {
	store *MemStore
	name  string
	buf   bytes.Buffer
}

func (w *memEntryWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memEntryWriter) Close() error {
	w.store.open = false
	w.store.entries[w.name] = append([]byte(nil), w.buf.Bytes()...)
	return nil
}
