// Package dbtest holds conformance tests shared by every db backend.
package dbtest

import (
	"errors"
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/davinci-ticketvote/db"
	"github.com/vocdoni/davinci-ticketvote/db/prefixeddb"
)

// TestWriteTx checks read-your-writes, commit visibility and discard.
func TestWriteTx(t *testing.T, database db.Database) {
	c := qt.New(t)

	wTx := database.WriteTx()
	_, err := wTx.Get([]byte("a"))
	c.Assert(errors.Is(err, db.ErrKeyNotFound), qt.IsTrue)

	c.Assert(wTx.Set([]byte("a"), []byte("b")), qt.IsNil)
	v, err := wTx.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "b")

	// not visible outside the transaction before commit
	_, err = database.Get([]byte("a"))
	c.Assert(errors.Is(err, db.ErrKeyNotFound), qt.IsTrue)

	c.Assert(wTx.Commit(), qt.IsNil)
	wTx.Discard()

	v, err = database.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "b")

	// discarded writes are dropped
	wTx = database.WriteTx()
	c.Assert(wTx.Set([]byte("c"), []byte("d")), qt.IsNil)
	c.Assert(wTx.Delete([]byte("a")), qt.IsNil)
	wTx.Discard()
	_, err = database.Get([]byte("c"))
	c.Assert(errors.Is(err, db.ErrKeyNotFound), qt.IsTrue)
	_, err = database.Get([]byte("a"))
	c.Assert(err, qt.IsNil)

	// deletes are applied on commit
	wTx = database.WriteTx()
	c.Assert(wTx.Delete([]byte("a")), qt.IsNil)
	_, err = wTx.Get([]byte("a"))
	c.Assert(errors.Is(err, db.ErrKeyNotFound), qt.IsTrue)
	c.Assert(wTx.Commit(), qt.IsNil)
	wTx.Discard()
	_, err = database.Get([]byte("a"))
	c.Assert(errors.Is(err, db.ErrKeyNotFound), qt.IsTrue)
}

// TestIterate checks prefix filtering, ordering and early termination,
// both on the database and inside a transaction.
func TestIterate(t *testing.T, database db.Database) {
	c := qt.New(t)

	wTx := database.WriteTx()
	for i := range 10 {
		c.Assert(wTx.Set([]byte(fmt.Sprintf("p/%02d", i)), []byte{byte(i)}), qt.IsNil)
		c.Assert(wTx.Set([]byte(fmt.Sprintf("q/%02d", i)), []byte{byte(i)}), qt.IsNil)
	}
	c.Assert(wTx.Commit(), qt.IsNil)
	wTx.Discard()

	var keys []string
	c.Assert(database.Iterate([]byte("p/"), func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	}), qt.IsNil)
	c.Assert(keys, qt.HasLen, 10)
	c.Assert(keys[0], qt.Equals, "p/00")
	c.Assert(keys[9], qt.Equals, "p/09")

	count := 0
	c.Assert(database.Iterate([]byte("q/"), func(k, v []byte) bool {
		count++
		return count < 3
	}), qt.IsNil)
	c.Assert(count, qt.Equals, 3)

	wTx = database.WriteTx()
	defer wTx.Discard()
	c.Assert(wTx.Delete([]byte("p/00")), qt.IsNil)
	c.Assert(wTx.Set([]byte("p/10"), []byte{10}), qt.IsNil)
	keys = nil
	c.Assert(wTx.Iterate([]byte("p/"), func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	}), qt.IsNil)
	c.Assert(keys, qt.HasLen, 10)
	c.Assert(keys[0], qt.Equals, "p/01")
	c.Assert(keys[9], qt.Equals, "p/10")
}

// TestPrefixed checks that prefixed views share one atomic commit and strip
// their prefix when iterating.
func TestPrefixed(t *testing.T, database db.Database) {
	c := qt.New(t)

	wTx := database.WriteTx()
	ledger := prefixeddb.NewPrefixedWriteTx(wTx, []byte("l/"))
	acc := prefixeddb.NewPrefixedWriteTx(wTx, []byte("a/"))
	c.Assert(ledger.Set([]byte("n1"), []byte("spent")), qt.IsNil)
	c.Assert(acc.Set([]byte("e1"), []byte("sum")), qt.IsNil)
	c.Assert(wTx.Commit(), qt.IsNil)
	wTx.Discard()

	v, err := database.Get([]byte("l/n1"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "spent")

	view := prefixeddb.NewPrefixedDatabase(database, []byte("a/"))
	v, err = view.Get([]byte("e1"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "sum")

	var keys []string
	c.Assert(view.Iterate(nil, func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	}), qt.IsNil)
	c.Assert(keys, qt.DeepEquals, []string{"e1"})
}

// TestAll runs every conformance test against fresh databases.
func TestAll(t *testing.T, open func(t *testing.T) db.Database) {
	t.Run("WriteTx", func(t *testing.T) { TestWriteTx(t, open(t)) })
	t.Run("Iterate", func(t *testing.T) { TestIterate(t, open(t)) })
	t.Run("Prefixed", func(t *testing.T) { TestPrefixed(t, open(t)) })
}
