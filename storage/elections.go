package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/vocdoni/davinci-ticketvote/log"
)

// NewElection stores the record of a new election. It returns
// ErrKeyAlreadyExists if the election is already stored.
func (s *Storage) NewElection(e *Election) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("election without id")
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	if _, err := s.election(e.ID); err == nil {
		return ErrKeyAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if e.Status == "" {
		e.Status = ElectionStatusOpen
	}
	if e.OpenedAt.IsZero() {
		e.OpenedAt = time.Now()
	}
	return s.setArtifact(electionPrefix, []byte(e.ID), e)
}

// Election returns the stored record of an election, or ErrNotFound.
func (s *Storage) Election(id string) (*Election, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.election(id)
}

func (s *Storage) election(id string) (*Election, error) {
	key := cacheKey(electionPrefix, []byte(id))
	if v, ok := s.cache.Get(key); ok {
		e := *v.(*Election)
		return &e, nil
	}
	e := &Election{}
	if err := s.getArtifact(s.db, electionPrefix, []byte(id), e); err != nil {
		return nil, err
	}
	cached := *e
	s.cache.Add(key, &cached)
	return e, nil
}

// UpdateElection applies updateFunc to the stored election and persists the
// result. Nothing is written if any function fails.
func (s *Storage) UpdateElection(id string, updateFunc ...func(*Election) error) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	e, err := s.election(id)
	if err != nil {
		return err
	}
	for _, fn := range updateFunc {
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := s.setArtifact(electionPrefix, []byte(id), e); err != nil {
		return err
	}
	log.Debugw("election updated", "election", id, "status", e.Status)
	return nil
}

// ElectionUpdateCallbackClose marks an open election as closed. Closing an
// already closed election is a no-op.
func ElectionUpdateCallbackClose(at time.Time) func(*Election) error {
	return func(e *Election) error {
		if e.Status != ElectionStatusOpen {
			return nil
		}
		e.Status = ElectionStatusClosed
		e.ClosedAt = at
		return nil
	}
}

// ListElections returns the ids of all stored elections.
func (s *Storage) ListElections() ([]string, error) {
	keys, err := s.listArtifacts(electionPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, string(k))
	}
	return ids, nil
}
