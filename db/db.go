// Package db defines the key-value database abstraction used by storage,
// together with constructors for the supported backends in subpackages.
package db

import "errors"

const (
	TypePebble  = "pebble"
	TypeLevelDB = "leveldb"
	TypeBolt    = "bolt"
	TypeInMem   = "inmem"
)

var (
	// ErrKeyNotFound is returned by Get when the key does not exist.
	ErrKeyNotFound = errors.New("key not found")
	// ErrConflict is returned by Commit when a key read or written by the
	// transaction was modified concurrently.
	ErrConflict = errors.New("transaction conflict")
)

// Options holds the backend configuration.
type Options struct {
	Path string
}

// Reader is the read-only side of a database or transaction.
type Reader interface {
	// Get returns a copy of the value stored under key, or ErrKeyNotFound.
	Get(key []byte) ([]byte, error)
	// Iterate calls callback for every key with the given prefix, in
	// lexicographic order, until it returns false. The prefix is not
	// stripped. Slices passed to callback are only valid during the call.
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
}

// WriteTx is a read-write transaction. Writes are not visible outside the
// transaction until Commit succeeds, and a commit applies all of them or
// none. Discard must always be called, even after Commit.
type WriteTx interface {
	Reader
	Set(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	Discard()
}

// Database is a persistent key-value store.
type Database interface {
	Reader
	WriteTx() WriteTx
	Close() error
	Compact() error
}
