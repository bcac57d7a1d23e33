// Package inmemory provides an ephemeral db.Database for tests and
// throwaway nodes.
package inmemory

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vocdoni/davinci-ticketvote/db"
)

type entry struct {
	value   []byte
	version uint64
}

// InMemoryDB keeps every key in a map guarded by a RWMutex. Each write bumps
// a per-key version so transactions detect concurrent modifications.
type InMemoryDB struct {
	mu      sync.RWMutex
	data    map[string]entry
	version uint64
}

var _ db.Database = (*InMemoryDB)(nil)

// New returns an empty database. Options are ignored.
func New(_ db.Options) (*InMemoryDB, error) {
	return &InMemoryDB{data: make(map[string]entry)}, nil
}

func (d *InMemoryDB) Close() error   { return nil }
func (d *InMemoryDB) Compact() error { return nil }

func (d *InMemoryDB) Get(key []byte) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ent, ok := d.data[string(key)]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return bytes.Clone(ent.value), nil
}

func (d *InMemoryDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	d.mu.RLock()
	snapshot := make(map[string][]byte)
	for k, ent := range d.data {
		if strings.HasPrefix(k, string(prefix)) {
			snapshot[k] = bytes.Clone(ent.value)
		}
	}
	d.mu.RUnlock()
	iterateSorted(snapshot, callback)
	return nil
}

func (d *InMemoryDB) WriteTx() db.WriteTx {
	return &WriteTx{
		db:     d,
		writes: make(map[string][]byte),
		seen:   make(map[string]uint64),
	}
}

// versionOf must be called with d.mu held.
func (d *InMemoryDB) versionOf(key string) uint64 {
	return d.data[key].version
}

// WriteTx buffers writes in memory. A nil value in writes marks a deletion.
type WriteTx struct {
	db     *InMemoryDB
	writes map[string][]byte
	seen   map[string]uint64
	done   bool
}

var _ db.WriteTx = (*WriteTx)(nil)

// track records the version of key the first time the transaction touches it.
func (tx *WriteTx) track(key string) {
	if _, ok := tx.seen[key]; ok {
		return
	}
	tx.db.mu.RLock()
	tx.seen[key] = tx.db.versionOf(key)
	tx.db.mu.RUnlock()
}

func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	k := string(key)
	if v, ok := tx.writes[k]; ok {
		if v == nil {
			return nil, db.ErrKeyNotFound
		}
		return bytes.Clone(v), nil
	}
	tx.track(k)
	return tx.db.Get(key)
}

func (tx *WriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	tx.db.mu.RLock()
	view := make(map[string][]byte)
	for k, ent := range tx.db.data {
		if strings.HasPrefix(k, string(prefix)) {
			view[k] = bytes.Clone(ent.value)
		}
	}
	tx.db.mu.RUnlock()
	for k, v := range tx.writes {
		if !strings.HasPrefix(k, string(prefix)) {
			continue
		}
		if v == nil {
			delete(view, k)
		} else {
			view[k] = bytes.Clone(v)
		}
	}
	iterateSorted(view, callback)
	return nil
}

func (tx *WriteTx) Set(key, value []byte) error {
	k := string(key)
	tx.track(k)
	if value == nil {
		value = []byte{}
	}
	tx.writes[k] = bytes.Clone(value)
	return nil
}

func (tx *WriteTx) Delete(key []byte) error {
	k := string(key)
	tx.track(k)
	tx.writes[k] = nil
	return nil
}

func (tx *WriteTx) Commit() error {
	if tx.done {
		return fmt.Errorf("inmemory: transaction already committed or discarded")
	}
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	for k, ver := range tx.seen {
		if tx.db.versionOf(k) != ver {
			return db.ErrConflict
		}
	}
	for k, v := range tx.writes {
		if v == nil {
			delete(tx.db.data, k)
			continue
		}
		tx.db.version++
		tx.db.data[k] = entry{value: v, version: tx.db.version}
	}
	tx.done = true
	return nil
}

func (tx *WriteTx) Discard() {
	tx.done = true
	clear(tx.writes)
	clear(tx.seen)
}

func iterateSorted(entries map[string][]byte, callback func(key, value []byte) bool) {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !callback([]byte(k), entries[k]) {
			return
		}
	}
}
