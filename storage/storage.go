/*
Package storage provides the persistent storage layer of the ticketvote node.

# Storage Organization

The storage uses a key-value database with prefixed namespaces:

  - e/  : electionID → Election record (status, options, key id, limits)
  - ek/ : electionID → encryption keys (public key, secret key until retired)
  - nl/ : electionID/nullifier → SpentRecord (the eligibility ledger)
  - acc/: electionID → Accumulator (per-option ciphertexts, admitted ballots)
  - r/  : electionID → Result

A nullifier and the accumulator it was folded into are always written in
the same transaction, so a restart never observes one without the other.
*/
package storage

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vocdoni/davinci-ticketvote/db"
	"github.com/vocdoni/davinci-ticketvote/db/prefixeddb"
	"github.com/vocdoni/davinci-ticketvote/log"
)

var (
	ErrKeyAlreadyExists = errors.New("key already exists")
	ErrNotFound         = errors.New("not found")
	// ErrAlreadySpent is returned when spending a nullifier twice.
	ErrAlreadySpent = errors.New("nullifier already spent")
	// ErrStorageUnavailable is returned when the database cannot be read or
	// written. The operation may be retried.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrStorageCorrupt is returned when a stored artifact cannot be decoded.
	ErrStorageCorrupt = errors.New("storage corrupt")

	// Prefixes
	electionPrefix      = []byte("e/")
	encryptionKeyPrefix = []byte("ek/")
	nullifierPrefix     = []byte("nl/")
	accumulatorPrefix   = []byte("acc/")
	resultPrefix        = []byte("r/")
)

const cacheSize = 1000

// Storage manages elections, keys, the nullifier ledger, accumulators and
// results.
type Storage struct {
	db         db.Database
	globalLock sync.Mutex
	// electionLocks serializes ledger and accumulator writes per election.
	electionLocks sync.Map
	// unresolved holds ledger keys whose last commit outcome is unknown.
	unresolvedLock sync.Mutex
	unresolved     map[string]struct{}
	cache          *lru.Cache[string, any]
}

// New creates a new Storage instance.
func New(database db.Database) *Storage {
	cache, err := lru.New[string, any](cacheSize)
	if err != nil {
		log.Fatalf("failed to create LRU cache: %v", err)
	}
	return &Storage{
		db:         database,
		unresolved: make(map[string]struct{}),
		cache:      cache,
	}
}

// Close closes the storage.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		log.Errorw(err, "failed to close storage")
	}
}

func (s *Storage) electionLock(electionID string) *sync.Mutex {
	l, _ := s.electionLocks.LoadOrStore(electionID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func cacheKey(prefix []byte, key []byte) string {
	return string(prefix) + string(key)
}

// setArtifact encodes artifact and stores it under prefix/key.
func (s *Storage) setArtifact(prefix, key []byte, artifact any) error {
	data, err := EncodeArtifact(artifact)
	if err != nil {
		return err
	}
	wTx := prefixeddb.NewPrefixedDatabase(s.db, prefix).WriteTx()
	defer wTx.Discard()
	if err := wTx.Set(key, data); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := wTx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	s.cache.Remove(cacheKey(prefix, key))
	return nil
}

// getArtifact decodes the artifact stored under prefix/key into out.
func (s *Storage) getArtifact(r db.Reader, prefix, key []byte, out any) error {
	data, err := prefixedGet(r, prefix, key)
	if err != nil {
		return err
	}
	if err := DecodeArtifact(data, out); err != nil {
		return fmt.Errorf("%w: could not decode %s%s: %v", ErrStorageCorrupt, prefix, key, err)
	}
	return nil
}

func prefixedGet(r db.Reader, prefix, key []byte) ([]byte, error) {
	full := make([]byte, 0, len(prefix)+len(key))
	full = append(append(full, prefix...), key...)
	data, err := r.Get(full)
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return data, nil
}

// listArtifacts retrieves all the keys for a given prefix.
func (s *Storage) listArtifacts(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	if err := prefixeddb.NewPrefixedDatabase(s.db, prefix).Iterate(nil, func(k, _ []byte) bool {
		keys = append(keys, append([]byte(nil), k...))
		return true
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return keys, nil
}
