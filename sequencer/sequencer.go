// Package sequencer admits ballots into the encrypted tallies of the open
// elections. A submission is verified against the election rules, its
// nullifier is spent and its ciphertexts are folded into the accumulator in
// a single storage transaction.
package sequencer

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vocdoni/davinci-ticketvote/config"
	"github.com/vocdoni/davinci-ticketvote/credential"
	"github.com/vocdoni/davinci-ticketvote/encryption"
	"github.com/vocdoni/davinci-ticketvote/log"
	"github.com/vocdoni/davinci-ticketvote/storage"
	"github.com/vocdoni/davinci-ticketvote/types"
)

var (
	ErrElectionNotFound = errors.New("election not found")
	ErrElectionClosed   = errors.New("election closed")
	// ErrDuplicateVote is returned when the credential nullifier was already
	// spent in the election.
	ErrDuplicateVote = errors.New("duplicate vote")
	// ErrMalformedBallot is returned when the ballot does not match the
	// election options or a ciphertext does not decode.
	ErrMalformedBallot = errors.New("malformed ballot")
)

// Receipt acknowledges an admitted ballot. It never echoes the votes.
type Receipt struct {
	ElectionID string               `json:"electionId"`
	Nullifier  credential.Nullifier `json:"nullifier"`
	ReceiptID  string               `json:"receiptId"`
	AdmittedAt time.Time            `json:"admittedAt"`
}

// election is the in-memory state of an open election. mu guards closed,
// admitted and every fold.
type election struct {
	cfg      *config.Election
	verifier *credential.Verifier
	pk       *encryption.PublicKey

	mu       sync.Mutex
	closed   bool
	admitted uint64
}

// Sequencer verifies and folds ballots for a set of elections.
type Sequencer struct {
	stg     *storage.Storage
	workers int
	sem     *semaphore.Weighted

	mu        sync.RWMutex
	elections map[string]*election
}

// New creates a sequencer. Proof verification runs on at most workers
// goroutines at a time, runtime.NumCPU() when workers is not positive.
func New(stg *storage.Storage, workers int) (*Sequencer, error) {
	if stg == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Sequencer{
		stg:       stg,
		workers:   workers,
		sem:       semaphore.NewWeighted(int64(workers)),
		elections: make(map[string]*election),
	}, nil
}

// Storage returns the storage backing the sequencer.
func (s *Sequencer) Storage() *storage.Storage {
	return s.stg
}

// OpenElection prepares an election for voting: it loads or generates the
// key pair, stores the election record and initializes the accumulator.
// Reopening an election after a restart keeps its key, ledger and tally.
func (s *Sequencer) OpenElection(cfg *config.Election) error {
	if cfg == nil {
		return fmt.Errorf("nil election")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.elections[cfg.ID]; ok {
		return fmt.Errorf("election %s already open", cfg.ID)
	}

	rules, err := cfg.Rules()
	if err != nil {
		return err
	}
	verifier, err := credential.NewVerifier(rules)
	if err != nil {
		return fmt.Errorf("election %s: %w", cfg.ID, err)
	}
	backend, err := cfg.Backend()
	if err != nil {
		return err
	}
	pk, _, err := s.stg.FetchOrGenerateEncryptionKeys(cfg.ID, func() (*encryption.PublicKey, *encryption.SecretKey, error) {
		log.Infow("generating election key", "election", cfg.ID, "scheme", backend.Name())
		return encryption.GenerateKeyWith(backend)
	})
	if err != nil {
		return fmt.Errorf("election %s: %w", cfg.ID, err)
	}
	if pk.Scheme != cfg.Scheme {
		return fmt.Errorf("election %s: stored key is %s, configured scheme is %s", cfg.ID, pk.Scheme, cfg.Scheme)
	}
	if err := cfg.CheckCapacity(pk); err != nil {
		return err
	}

	record := &storage.Election{
		ID:         cfg.ID,
		NumOptions: len(cfg.Options),
		Scheme:     pk.Scheme,
		KeyID:      pk.ID(),
	}
	if err := s.stg.NewElection(record); errors.Is(err, storage.ErrKeyAlreadyExists) {
		if record, err = s.stg.Election(cfg.ID); err != nil {
			return err
		}
		if record.NumOptions != len(cfg.Options) || !record.KeyID.Equal(pk.ID()) {
			return fmt.Errorf("election %s: stored record does not match its configuration", cfg.ID)
		}
	} else if err != nil {
		return err
	}

	initial := &storage.Accumulator{ElectionID: cfg.ID}
	for range cfg.Options {
		zero, err := encryption.Zero(pk)
		if err != nil {
			return err
		}
		initial.Ciphertexts = append(initial.Ciphertexts, zero)
	}
	acc, err := s.stg.InitAccumulator(initial)
	if err != nil {
		return err
	}
	if len(acc.Ciphertexts) != len(cfg.Options) {
		return fmt.Errorf("%w: accumulator of %s has %d options", storage.ErrStorageCorrupt, cfg.ID, len(acc.Ciphertexts))
	}

	s.elections[cfg.ID] = &election{
		cfg:      cfg,
		verifier: verifier,
		pk:       pk,
		closed:   record.Status != storage.ElectionStatusOpen,
		admitted: acc.Ballots,
	}
	log.Infow("election open",
		"election", cfg.ID,
		"options", len(cfg.Options),
		"scheme", pk.Scheme,
		"credential", cfg.CredentialType,
		"status", record.Status,
		"ballots", acc.Ballots)
	return nil
}

func (s *Sequencer) election(id string) (*election, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.elections[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrElectionNotFound, id)
	}
	return e, nil
}

// Elections returns the ids of the open elections, sorted.
func (s *Sequencer) Elections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.elections))
	for id := range s.elections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Election returns the configuration of an election.
func (s *Sequencer) Election(id string) (*config.Election, error) {
	e, err := s.election(id)
	if err != nil {
		return nil, err
	}
	return e.cfg, nil
}

// PublicKey returns the encryption key of an election.
func (s *Sequencer) PublicKey(id string) (*encryption.PublicKey, error) {
	e, err := s.election(id)
	if err != nil {
		return nil, err
	}
	return e.pk, nil
}

// IsSpent returns the ledger record of a nullifier.
func (s *Sequencer) IsSpent(id string, nullifier credential.Nullifier) (*storage.SpentRecord, error) {
	if _, err := s.election(id); err != nil {
		return nil, err
	}
	return s.stg.IsSpent(id, nullifier)
}

// acceptsBallots reports whether a ballot could be admitted now. The answer
// is only authoritative under e.mu.
func (e *election) acceptsBallots(now time.Time) error {
	if e.closed {
		return fmt.Errorf("%w: %s", ErrElectionClosed, e.cfg.ID)
	}
	if !e.cfg.Start.IsZero() && now.Before(e.cfg.Start) {
		return fmt.Errorf("%w: %s starts at %s", ErrElectionClosed, e.cfg.ID, e.cfg.Start.Format(time.RFC3339))
	}
	if !e.cfg.End.IsZero() && !now.Before(e.cfg.End) {
		return fmt.Errorf("%w: %s ended at %s", ErrElectionClosed, e.cfg.ID, e.cfg.End.Format(time.RFC3339))
	}
	return nil
}

func (e *election) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// ElectionInfo is the public description of an election.
type ElectionInfo struct {
	ID             string                   `json:"id"`
	Title          string                   `json:"title,omitempty"`
	Options        []string                 `json:"options"`
	EventIDs       []string                 `json:"eventIds"`
	ProductIDs     []string                 `json:"productIds,omitempty"`
	TrustedIssuers []string                 `json:"trustedIssuers"`
	CredentialType credential.Type          `json:"credentialType"`
	Scheme         string                   `json:"scheme"`
	KeyID          types.HexBytes           `json:"keyId"`
	MaxValue       uint64                   `json:"maxValue"`
	MaxVoters      uint64                   `json:"maxVoters"`
	WatermarkMode  credential.WatermarkMode `json:"watermarkMode"`
	Start          time.Time                `json:"start,omitzero"`
	End            time.Time                `json:"end,omitzero"`
	Status         storage.ElectionStatus   `json:"status"`
	Ballots        uint64                   `json:"ballots"`
}

// ElectionInfo returns the public description of an election, with its
// stored status and the number of admitted ballots.
func (s *Sequencer) ElectionInfo(id string) (*ElectionInfo, error) {
	e, err := s.election(id)
	if err != nil {
		return nil, err
	}
	record, err := s.stg.Election(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	ballots := e.admitted
	e.mu.Unlock()
	return &ElectionInfo{
		ID:             e.cfg.ID,
		Title:          e.cfg.Title,
		Options:        e.cfg.Options,
		EventIDs:       e.cfg.EventIDs,
		ProductIDs:     e.cfg.ProductIDs,
		TrustedIssuers: e.cfg.TrustedIssuers,
		CredentialType: e.cfg.CredentialType,
		Scheme:         e.pk.Scheme,
		KeyID:          e.pk.ID(),
		MaxValue:       e.cfg.MaxValue,
		MaxVoters:      e.cfg.MaxVoters,
		WatermarkMode:  e.cfg.WatermarkMode,
		Start:          e.cfg.Start,
		End:            e.cfg.End,
		Status:         record.Status,
		Ballots:        ballots,
	}, nil
}
