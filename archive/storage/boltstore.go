package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/boltdb/bolt"
)

// entriesBucket is the single bucket holding all container entries, keyed
// by entry name.
const entriesBucket = "ENTRIES"

// BoltStore persists container entries in a single BoltDB file. It serves
// both sides of the container contract: EntryStore while the archive is
// being written and EntrySource afterwards.
type BoltStore struct {
	db        *bolt.DB
	finalized bool
	open      bool
}

// OpenBoltStore opens (creating if necessary) the container file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("could not open container file: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(entriesBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create entries bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Create(name string) (EntryWriter, error) {
	if s.finalized {
		return nil, ErrStoreFinalized
	}
	if s.open {
		return nil, ErrEntryOpen
	}

	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket([]byte(entriesBucket)).Get([]byte(name)) != nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	}

	s.open = true
	return &boltEntryWriter{store: s, name: name}, nil
}

func (s *BoltStore) Finalize() error {
	if s.finalized {
		return ErrStoreFinalized
	}
	if s.open {
		return ErrEntryOpen
	}
	s.finalized = true
	return s.db.Sync()
}

func (s *BoltStore) Open(name string) (io.ReadCloser, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(entriesBucket)).Get([]byte(name))
		if value == nil {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, name)
		}
		// The value is only valid for the life of the transaction.
		data = append([]byte(nil), value...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Close releases the underlying database file. It is safe to call whether
// or not the store was finalized.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

type boltEntryWriter struct {
	store *BoltStore
	name  string
	buf   bytes.Buffer
}

func (w *boltEntryWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *boltEntryWriter) Close() error {
	w.store.open = false
	return w.store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(entriesBucket)).Put([]byte(w.name), w.buf.Bytes())
	})
}
