package sequencer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/vocdoni/davinci-ticketvote/credential"
	"github.com/vocdoni/davinci-ticketvote/encryption"
	"github.com/vocdoni/davinci-ticketvote/log"
	"github.com/vocdoni/davinci-ticketvote/storage"
)

// Watermark returns the watermark a credential must be bound to for ballot
// to be admitted in the election.
func (s *Sequencer) Watermark(electionID string, ballot encryption.Ballot) (*big.Int, error) {
	e, err := s.election(electionID)
	if err != nil {
		return nil, err
	}
	w, err := credential.WatermarkFor(electionID, e.cfg.WatermarkMode, ballot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBallot, err)
	}
	return w, nil
}

// VerifyProof checks a credential against the election rules without
// touching the ledger.
func (s *Sequencer) VerifyProof(ctx context.Context, electionID string, proof *credential.EligibilityCredential,
	ballot encryption.Ballot,
) (*credential.ClaimedAttributes, error) {
	e, err := s.election(electionID)
	if err != nil {
		return nil, err
	}
	return s.verify(ctx, e, proof, ballot)
}

// verify runs the credential check on the worker semaphore.
func (s *Sequencer) verify(ctx context.Context, e *election, proof *credential.EligibilityCredential,
	ballot encryption.Ballot,
) (*credential.ClaimedAttributes, error) {
	watermark, err := credential.WatermarkFor(e.cfg.ID, e.cfg.WatermarkMode, ballot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBallot, err)
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)
	return e.verifier.Verify(ctx, proof, watermark)
}

// checkBallot validates the shape and provenance of every ciphertext.
func (e *election) checkBallot(ballot encryption.Ballot) error {
	if len(ballot) != len(e.cfg.Options) {
		return fmt.Errorf("%w: %d ciphertexts for %d options", ErrMalformedBallot, len(ballot), len(e.cfg.Options))
	}
	for i, ct := range ballot {
		err := encryption.Check(ct, e.pk)
		switch {
		case err == nil:
		case errors.Is(err, encryption.ErrKeyMismatch):
			return fmt.Errorf("option %d: %w", i, err)
		default:
			return fmt.Errorf("%w: option %d: %v", ErrMalformedBallot, i, err)
		}
	}
	return nil
}

// fold returns the FoldFunc adding ballot to the accumulator.
func (e *election) fold(ballot encryption.Ballot) storage.FoldFunc {
	return func(current *storage.Accumulator) (*storage.Accumulator, error) {
		if len(current.Ciphertexts) != len(ballot) {
			return nil, fmt.Errorf("%w: accumulator has %d options", storage.ErrStorageCorrupt, len(current.Ciphertexts))
		}
		next := &storage.Accumulator{
			ElectionID:  current.ElectionID,
			Ciphertexts: make([]*encryption.Ciphertext, len(ballot)),
			Ballots:     current.Ballots + 1,
		}
		for i := range ballot {
			sum, err := encryption.Add(e.pk, current.Ciphertexts[i], ballot[i])
			if err != nil {
				return nil, fmt.Errorf("option %d: %w", i, err)
			}
			next.Ciphertexts[i] = sum
		}
		return next, nil
	}
}

// Submit verifies a ballot and its credential and, if both are valid and
// the nullifier is unspent, folds the ballot into the election tally. A
// rejected submission leaves the ledger and the tally untouched. The
// credential is checked before the ciphertexts.
//
// Errors wrap ErrElectionNotFound, ErrElectionClosed, ErrMalformedBallot,
// ErrDuplicateVote, one of the credential errors, encryption.ErrKeyMismatch,
// encryption.ErrOutOfRange when the election is full, or
// storage.ErrStorageUnavailable.
func (s *Sequencer) Submit(ctx context.Context, electionID string, proof *credential.EligibilityCredential,
	ballot encryption.Ballot,
) (*Receipt, error) {
	e, err := s.election(electionID)
	if err != nil {
		return nil, err
	}
	if e.isClosed() {
		return nil, fmt.Errorf("%w: %s", ErrElectionClosed, electionID)
	}
	attrs, err := s.verify(ctx, e, proof, ballot)
	if err != nil {
		log.Debugw("ballot rejected", "election", electionID, "error", err.Error())
		return nil, err
	}
	if err := e.checkBallot(ballot); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	if err := e.acceptsBallots(now); err != nil {
		return nil, err
	}
	if e.admitted >= e.cfg.MaxVoters {
		return nil, fmt.Errorf("%w: election %s admitted %d ballots", encryption.ErrOutOfRange, electionID, e.admitted)
	}
	record, err := s.stg.SpendAndFold(electionID, attrs.Nullifier, e.fold(ballot))
	if errors.Is(err, storage.ErrAlreadySpent) {
		return nil, fmt.Errorf("%w: nullifier %s", ErrDuplicateVote, attrs.Nullifier)
	}
	if err != nil {
		return nil, err
	}
	e.admitted++

	receipt := &Receipt{
		ElectionID: electionID,
		Nullifier:  attrs.Nullifier,
		ReceiptID:  uuid.NewString(),
		AdmittedAt: record.Timestamp,
	}
	log.Debugw("ballot admitted",
		"election", electionID,
		"nullifier", attrs.Nullifier.String(),
		"issuer", attrs.IssuerKeyID,
		"event", attrs.EventID,
		"receipt", receipt.ReceiptID,
		"ballots", e.admitted)
	return receipt, nil
}

// Freeze closes an election to new ballots and returns its final
// accumulator. In-flight submissions either complete before the freeze or
// fail with ErrElectionClosed.
func (s *Sequencer) Freeze(electionID string) (*storage.Accumulator, error) {
	e, err := s.election(electionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		if err := s.stg.UpdateElection(electionID, storage.ElectionUpdateCallbackClose(time.Now())); err != nil {
			return nil, err
		}
		e.closed = true
		log.Infow("election frozen", "election", electionID, "ballots", e.admitted)
	}
	return s.stg.Accumulator(electionID)
}

// Admitted returns the number of ballots folded into an election.
func (s *Sequencer) Admitted(electionID string) (uint64, error) {
	e, err := s.election(electionID)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.admitted, nil
}

// Closed reports whether an election stopped accepting ballots, either
// because it was frozen or because its end date passed.
func (s *Sequencer) Closed(electionID string) (bool, error) {
	e, err := s.election(electionID)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed || (!e.cfg.End.IsZero() && !time.Now().Before(e.cfg.End)), nil
}
