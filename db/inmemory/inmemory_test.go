package inmemory

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/davinci-ticketvote/db"
	"github.com/vocdoni/davinci-ticketvote/db/internal/dbtest"
)

func TestConformance(t *testing.T) {
	dbtest.TestAll(t, func(t *testing.T) db.Database {
		database, err := New(db.Options{Path: t.TempDir()})
		qt.Assert(t, err, qt.IsNil)
		t.Cleanup(func() { _ = database.Close() })
		return database
	})
}

func TestConflict(t *testing.T) {
	c := qt.New(t)
	database, err := New(db.Options{})
	c.Assert(err, qt.IsNil)

	tx1 := database.WriteTx()
	tx2 := database.WriteTx()
	_, err = tx1.Get([]byte("k"))
	c.Assert(err, qt.ErrorIs, db.ErrKeyNotFound)
	c.Assert(tx1.Set([]byte("k"), []byte("1")), qt.IsNil)
	c.Assert(tx2.Set([]byte("k"), []byte("2")), qt.IsNil)

	c.Assert(tx2.Commit(), qt.IsNil)
	c.Assert(tx1.Commit(), qt.ErrorIs, db.ErrConflict)
}
