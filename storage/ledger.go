package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/vocdoni/davinci-ticketvote/credential"
	"github.com/vocdoni/davinci-ticketvote/db"
	"github.com/vocdoni/davinci-ticketvote/db/prefixeddb"
	"github.com/vocdoni/davinci-ticketvote/log"
)

// InitAccumulator stores acc as the accumulator of its election unless one
// exists already, and returns the stored accumulator. Reopening an election
// after a restart keeps its tally.
func (s *Storage) InitAccumulator(acc *Accumulator) (*Accumulator, error) {
	lock := s.electionLock(acc.ElectionID)
	lock.Lock()
	defer lock.Unlock()

	current := &Accumulator{}
	err := s.getArtifact(s.db, accumulatorPrefix, []byte(acc.ElectionID), current)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err := s.setArtifact(accumulatorPrefix, []byte(acc.ElectionID), acc); err != nil {
		return nil, err
	}
	return acc.Clone(), nil
}

// Accumulator returns the current accumulator of an election.
func (s *Storage) Accumulator(electionID string) (*Accumulator, error) {
	acc := &Accumulator{}
	if err := s.getArtifact(s.db, accumulatorPrefix, []byte(electionID), acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// IsSpent returns the ledger record of a nullifier, or ErrNotFound if it was
// never spent.
func (s *Storage) IsSpent(electionID string, nullifier credential.Nullifier) (*SpentRecord, error) {
	record := &SpentRecord{}
	if err := s.getArtifact(s.db, nullifierPrefix, ledgerKey(electionID, nullifier), record); err != nil {
		return nil, err
	}
	return record, nil
}

// TrySpend marks a nullifier as spent. Under concurrent calls with the same
// nullifier exactly one succeeds, the others get ErrAlreadySpent.
func (s *Storage) TrySpend(electionID string, nullifier credential.Nullifier) error {
	_, err := s.spend(electionID, nullifier, nil)
	return err
}

// SpendAndFold marks a nullifier as spent and replaces the election
// accumulator with fold(current) in a single transaction. If fold fails
// nothing is written and its error is returned as is.
//
// When the commit fails the nullifier is read back to learn whether the
// transaction landed. If it did the spend is reported as successful. If the
// outcome cannot be established the nullifier is kept as unresolved and
// every attempt to spend it fails with ErrStorageUnavailable until a read
// settles it.
func (s *Storage) SpendAndFold(electionID string, nullifier credential.Nullifier, fold FoldFunc) (*SpentRecord, error) {
	if fold == nil {
		return nil, fmt.Errorf("nil fold function")
	}
	return s.spend(electionID, nullifier, fold)
}

func (s *Storage) spend(electionID string, nullifier credential.Nullifier, fold FoldFunc) (*SpentRecord, error) {
	lock := s.electionLock(electionID)
	lock.Lock()
	defer lock.Unlock()

	key := ledgerKey(electionID, nullifier)
	if err := s.resolvePending(key); err != nil {
		return nil, err
	}

	tx := s.db.WriteTx()
	defer tx.Discard()
	ledger := prefixeddb.NewPrefixedWriteTx(tx, nullifierPrefix)
	if _, err := ledger.Get(key); err == nil {
		return nil, ErrAlreadySpent
	} else if !errors.Is(err, db.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	record := &SpentRecord{Spent: true, Timestamp: time.Now()}
	data, err := EncodeArtifact(record)
	if err != nil {
		return nil, err
	}
	if err := ledger.Set(key, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if fold != nil {
		current := &Accumulator{}
		if err := s.getArtifact(tx, accumulatorPrefix, []byte(electionID), current); err != nil {
			return nil, err
		}
		next, err := fold(current)
		if err != nil {
			return nil, err
		}
		accData, err := EncodeArtifact(next)
		if err != nil {
			return nil, err
		}
		if err := prefixeddb.NewPrefixedWriteTx(tx, accumulatorPrefix).Set([]byte(electionID), accData); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.resolveCommit(key, record, err)
	}
	return record, nil
}

// resolveCommit establishes the outcome of a failed commit by reading the
// nullifier back.
func (s *Storage) resolveCommit(key []byte, record *SpentRecord, commitErr error) (*SpentRecord, error) {
	_, err := prefixedGet(s.db, nullifierPrefix, key)
	switch {
	case err == nil:
		log.Warnw("commit reported an error but the spend landed", "error", commitErr.Error())
		return record, nil
	case errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("%w: commit failed: %v", ErrStorageUnavailable, commitErr)
	default:
		s.unresolvedLock.Lock()
		s.unresolved[string(key)] = struct{}{}
		s.unresolvedLock.Unlock()
		log.Errorw(commitErr, "spend outcome unknown, nullifier held as unresolved")
		return nil, fmt.Errorf("%w: commit outcome unknown: %v", ErrStorageUnavailable, commitErr)
	}
}

// resolvePending settles an unresolved nullifier before a new spend attempt.
// It must be called with the election lock held.
func (s *Storage) resolvePending(key []byte) error {
	s.unresolvedLock.Lock()
	_, pending := s.unresolved[string(key)]
	s.unresolvedLock.Unlock()
	if !pending {
		return nil
	}
	_, err := prefixedGet(s.db, nullifierPrefix, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: nullifier outcome still unresolved: %v", ErrStorageUnavailable, err)
	}
	s.unresolvedLock.Lock()
	delete(s.unresolved, string(key))
	s.unresolvedLock.Unlock()
	if err == nil {
		return ErrAlreadySpent
	}
	return nil
}

// Unresolved returns the number of nullifiers whose spend outcome is unknown.
func (s *Storage) Unresolved() int {
	s.unresolvedLock.Lock()
	defer s.unresolvedLock.Unlock()
	return len(s.unresolved)
}
