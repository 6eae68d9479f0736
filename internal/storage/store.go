// Package storage provides the local key-value store backing persisted
// state (install history, usage counters).
package storage

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Store is a thin raw-bytes wrapper around BadgerDB
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store under root.
func Open(root string) (*Store, error) {
	dbPath := filepath.Join(root, "state")

	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Disable badger logging
	opts.SyncWrites = true
	opts.CompactL0OnClose = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}

	s := &Store{db: db}

	// Start background GC
	go s.runGC()

	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// runGC periodically runs badger's value log garbage collection
func (s *Store) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		for {
			if err := s.db.RunValueLogGC(0.5); err != nil {
				break
			}
		}
	}
}

// Put stores raw bytes under a key
func (s *Store) Put(key string, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// Get retrieves raw bytes by key
func (s *Store) Get(key string) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			val = append([]byte{}, v...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Delete removes a key
func (s *Store) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// ScanPrefixOrdered returns values in key-sorted order for the given
// prefix. If limit > 0, at most limit values are returned.
func (s *Store) ScanPrefixOrdered(prefix string, limit int) ([][]byte, error) {
	var result [][]byte
	pfx := []byte(prefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 100
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(pfx); it.ValidForPrefix(pfx); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				result = append(result, append([]byte{}, v...))
				return nil
			})
			if err != nil {
				return err
			}
			if limit > 0 && len(result) >= limit {
				break
			}
		}
		return nil
	})

	return result, err
}

// IsNotFound reports whether err is the store's key-not-found error.
func IsNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}
