package storage

import (
	"fmt"

	"github.com/vocdoni/davinci-ticketvote/db/prefixeddb"
	"github.com/vocdoni/davinci-ticketvote/log"
)

// CommitTally stores the result of an election, marks it as tallied and
// retires its secret key, all in one transaction. It returns
// ErrKeyAlreadyExists if a result is already stored.
func (s *Storage) CommitTally(res *Result) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	id := []byte(res.ElectionID)
	election, err := s.election(res.ElectionID)
	if err != nil {
		return err
	}
	keys, err := s.encryptionKeys(res.ElectionID)
	if err != nil {
		return err
	}

	tx := s.db.WriteTx()
	defer tx.Discard()
	results := prefixeddb.NewPrefixedWriteTx(tx, resultPrefix)
	if _, err := results.Get(id); err == nil {
		return ErrKeyAlreadyExists
	}

	election.Status = ElectionStatusTallied
	if election.ClosedAt.IsZero() {
		election.ClosedAt = res.ClosedAt
	}
	keys.SecretKey = nil

	writes := []struct {
		prefix   []byte
		artifact any
	}{
		{resultPrefix, res},
		{electionPrefix, election},
		{encryptionKeyPrefix, keys},
	}
	for _, w := range writes {
		data, err := EncodeArtifact(w.artifact)
		if err != nil {
			return err
		}
		if err := prefixeddb.NewPrefixedWriteTx(tx, w.prefix).Set(id, data); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tally: %v", ErrStorageUnavailable, err)
	}
	s.cache.Remove(cacheKey(electionPrefix, id))
	log.Infow("tally committed", "election", res.ElectionID, "ballots", res.Ballots, "cid", res.CID)
	return nil
}

// Result returns the stored result of an election, or ErrNotFound.
func (s *Storage) Result(electionID string) (*Result, error) {
	res := &Result{}
	if err := s.getArtifact(s.db, resultPrefix, []byte(electionID), res); err != nil {
		return nil, err
	}
	return res, nil
}

// HasResult reports whether a result is stored for the election.
func (s *Storage) HasResult(electionID string) bool {
	_, err := s.Result(electionID)
	return err == nil
}
