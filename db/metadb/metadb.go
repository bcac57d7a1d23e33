// Package metadb opens a db.Database by backend name.
package metadb

import (
	"cmp"
	"fmt"
	"os"
	"testing"

	"github.com/vocdoni/davinci-ticketvote/db"
	"github.com/vocdoni/davinci-ticketvote/db/boltdb"
	"github.com/vocdoni/davinci-ticketvote/db/inmemory"
	"github.com/vocdoni/davinci-ticketvote/db/leveldb"
	"github.com/vocdoni/davinci-ticketvote/db/pebbledb"
)

// New opens a database of type typ stored in dir.
func New(typ, dir string) (db.Database, error) {
	opts := db.Options{Path: dir}
	switch typ {
	case db.TypePebble:
		return pebbledb.New(opts)
	case db.TypeLevelDB:
		return leveldb.New(opts)
	case db.TypeBolt:
		return boltdb.New(opts)
	case db.TypeInMem:
		return inmemory.New(opts)
	default:
		return nil, fmt.Errorf("invalid db type: %q. Available types: %q, %q, %q, %q",
			typ, db.TypePebble, db.TypeLevelDB, db.TypeBolt, db.TypeInMem)
	}
}

// ForTest returns the backend selected by $DB_TYPE, pebble by default.
func ForTest() string {
	return cmp.Or(os.Getenv("DB_TYPE"), db.TypePebble)
}

// NewTest opens a test database in a temporary directory and closes it
// when the test ends.
func NewTest(tb testing.TB) db.Database {
	database, err := New(ForTest(), tb.TempDir())
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { _ = database.Close() })
	return database
}
