// Package overlay buffers the writes of a transaction on top of a backend
// that has no native read-your-writes batches.
package overlay

import (
	"bytes"
	"sort"
	"strings"

	"github.com/vocdoni/davinci-ticketvote/db"
)

// Writes maps keys to pending values. A nil value marks a deletion.
type Writes map[string][]byte

// Get resolves key against the pending writes first and base after.
func (w Writes) Get(key []byte, base func([]byte) ([]byte, error)) ([]byte, error) {
	if v, ok := w[string(key)]; ok {
		if v == nil {
			return nil, db.ErrKeyNotFound
		}
		return bytes.Clone(v), nil
	}
	return base(key)
}

func (w Writes) Set(key, value []byte) {
	if value == nil {
		value = []byte{}
	}
	w[string(key)] = bytes.Clone(value)
}

func (w Writes) Delete(key []byte) {
	w[string(key)] = nil
}

// Iterate merges the entries returned by base with the pending writes and
// calls callback in key order.
func (w Writes) Iterate(prefix []byte, base func(prefix []byte, cb func(k, v []byte) bool) error,
	callback func(key, value []byte) bool,
) error {
	view := make(map[string][]byte)
	if err := base(prefix, func(k, v []byte) bool {
		view[string(k)] = bytes.Clone(v)
		return true
	}); err != nil {
		return err
	}
	for k, v := range w {
		if !strings.HasPrefix(k, string(prefix)) {
			continue
		}
		if v == nil {
			delete(view, k)
		} else {
			view[k] = v
		}
	}
	keys := make([]string, 0, len(view))
	for k := range view {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !callback([]byte(k), view[k]) {
			break
		}
	}
	return nil
}
