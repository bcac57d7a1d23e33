// Package leveldb implements db.Database on top of goleveldb.
package leveldb

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/vocdoni/davinci-ticketvote/db"
	"github.com/vocdoni/davinci-ticketvote/db/internal/overlay"
)

// LevelDB wraps a goleveldb instance. Writes of a transaction are buffered
// and written as a single leveldb batch on commit.
type LevelDB struct {
	db *leveldb.DB
}

var _ db.Database = (*LevelDB)(nil)

// New opens or creates a leveldb database in opts.Path.
func New(opts db.Options) (*LevelDB, error) {
	ldb, err := leveldb.OpenFile(opts.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", opts.Path, err)
	}
	return &LevelDB{db: ldb}, nil
}

func (d *LevelDB) Get(key []byte) ([]byte, error) {
	v, err := d.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	return v, err
}

func (d *LevelDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	iter := d.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if !callback(iter.Key(), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

func (d *LevelDB) WriteTx() db.WriteTx {
	return &WriteTx{db: d, writes: make(overlay.Writes)}
}

func (d *LevelDB) Close() error {
	return d.db.Close()
}

func (d *LevelDB) Compact() error {
	return d.db.CompactRange(util.Range{})
}

// WriteTx buffers writes until Commit.
type WriteTx struct {
	db     *LevelDB
	writes overlay.Writes
}

var _ db.WriteTx = (*WriteTx)(nil)

func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	return tx.writes.Get(key, tx.db.Get)
}

func (tx *WriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	return tx.writes.Iterate(prefix, tx.db.Iterate, callback)
}

func (tx *WriteTx) Set(key, value []byte) error {
	tx.writes.Set(key, value)
	return nil
}

func (tx *WriteTx) Delete(key []byte) error {
	tx.writes.Delete(key)
	return nil
}

func (tx *WriteTx) Commit() error {
	batch := new(leveldb.Batch)
	for k, v := range tx.writes {
		if v == nil {
			batch.Delete([]byte(k))
		} else {
			batch.Put([]byte(k), bytes.Clone(v))
		}
	}
	return tx.db.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (tx *WriteTx) Discard() {
	clear(tx.writes)
}
