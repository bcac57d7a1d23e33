// Package boltdb implements db.Database on top of bbolt, storing every key
// in a single bucket.
package boltdb

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vocdoni/davinci-ticketvote/db"
	"github.com/vocdoni/davinci-ticketvote/db/internal/overlay"
	bolt "go.etcd.io/bbolt"
)

const fileName = "bolt.db"

var bucket = []byte("kv")

// BoltDB wraps a bbolt file. A transaction buffers its writes and applies
// them in one bolt update on commit, so no writable bolt transaction is
// held open while callers work.
type BoltDB struct {
	db *bolt.DB
}

var _ db.Database = (*BoltDB)(nil)

// New opens or creates the bolt file inside the opts.Path directory.
func New(opts db.Options) (*BoltDB, error) {
	if err := os.MkdirAll(opts.Path, 0o750); err != nil {
		return nil, err
	}
	bdb, err := bolt.Open(filepath.Join(opts.Path, fileName), 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt at %s: %w", opts.Path, err)
	}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return &BoltDB{db: bdb}, nil
}

func (d *BoltDB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get(key)
		if v == nil {
			return db.ErrKeyNotFound
		}
		value = bytes.Clone(v)
		return nil
	})
	return value, err
}

// Iterate collects the matching entries inside a read transaction and runs
// callback after it is closed, so the callback may write to the database.
func (d *BoltDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	var keys, values [][]byte
	if err := d.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucket).Cursor()
		for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			keys = append(keys, bytes.Clone(k))
			values = append(values, bytes.Clone(v))
		}
		return nil
	}); err != nil {
		return err
	}
	for i := range keys {
		if !callback(keys[i], values[i]) {
			break
		}
	}
	return nil
}

func (d *BoltDB) WriteTx() db.WriteTx {
	return &WriteTx{db: d, writes: make(overlay.Writes)}
}

func (d *BoltDB) Close() error {
	return d.db.Close()
}

// Compact is a no-op, bolt reuses freed pages.
func (d *BoltDB) Compact() error {
	return nil
}

type WriteTx struct {
	db     *BoltDB
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
	return tx.db.db.Update(func(btx *bolt.Tx) error {
		b := btx.Bucket(bucket)
		for k, v := range tx.writes {
			var err error
			if v == nil {
				err = b.Delete([]byte(k))
			} else {
				err = b.Put([]byte(k), v)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (tx *WriteTx) Discard() {
	clear(tx.writes)
}
