// Package voter is the client side of a vote: it fetches and caches the
// election key, encrypts the choices, obtains a credential bound to the
// ballot, checks it locally and submits it to the node.
package voter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vocdoni/davinci-ticketvote/api"
	"github.com/vocdoni/davinci-ticketvote/api/client"
	"github.com/vocdoni/davinci-ticketvote/credential"
	"github.com/vocdoni/davinci-ticketvote/encryption"
	"github.com/vocdoni/davinci-ticketvote/log"
	"github.com/vocdoni/davinci-ticketvote/sequencer"
)

const (
	// DefaultCacheSize is the number of elections whose key and rules are kept.
	DefaultCacheSize = 32
	// submitAttempts bounds the ballot submissions lost in transit.
	submitAttempts = 3
)

// ErrKeyUnreachable is returned when the election key cannot be fetched.
// It is safe to retry.
var ErrKeyUnreachable = errors.New("encryption key unreachable")

// Prover returns an eligibility credential bound to watermark.
type Prover func(ctx context.Context, watermark *big.Int) (*credential.EligibilityCredential, error)

// TicketProver presents a ticket credential held by holder.
func TicketProver(holder *credential.Holder, ticket *credential.Ticket, discloseEmail bool) Prover {
	return func(_ context.Context, watermark *big.Int) (*credential.EligibilityCredential, error) {
		return holder.Present(ticket, watermark, discloseEmail)
	}
}

// Option configures a Session.
type Option func(*Session)

// WithCacheSize sets the number of cached elections.
func WithCacheSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.cacheSize = n
		}
	}
}

// WithoutAdvisoryCheck disables the local credential check. The node
// always verifies.
func WithoutAdvisoryCheck() Option {
	return func(s *Session) {
		s.skipAdvisory = true
	}
}

// election is the cached state of an election. verifier is nil when the
// credential type cannot be checked locally.
type election struct {
	info     *sequencer.ElectionInfo
	verifier *credential.Verifier
}

// Session casts votes through a node. It is safe for concurrent use.
type Session struct {
	cli          *client.HTTPclient
	cacheSize    int
	skipAdvisory bool
	keys         *lru.Cache[string, *encryption.PublicKey]
	elections    *lru.Cache[string, *election]
}

// New returns a session using cli.
func New(cli *client.HTTPclient, opts ...Option) (*Session, error) {
	if cli == nil {
		return nil, fmt.Errorf("missing API client")
	}
	s := &Session{cli: cli, cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(s)
	}
	var err error
	if s.keys, err = lru.New[string, *encryption.PublicKey](s.cacheSize); err != nil {
		return nil, err
	}
	if s.elections, err = lru.New[string, *election](s.cacheSize); err != nil {
		return nil, err
	}
	return s, nil
}

// Election returns the election information, fetching it on first use.
// The cached copy keeps the static fields only; status and ballot counts
// are those of the first fetch.
func (s *Session) Election(ctx context.Context, electionID string) (*sequencer.ElectionInfo, error) {
	e, err := s.election(ctx, electionID)
	if err != nil {
		return nil, err
	}
	return e.info, nil
}

func (s *Session) election(ctx context.Context, electionID string) (*election, error) {
	if e, ok := s.elections.Get(electionID); ok {
		return e, nil
	}
	info, err := s.cli.Election(ctx, electionID)
	if err != nil {
		return nil, err
	}
	e := &election{info: info}
	if info.CredentialType != credential.TypeGroth16 {
		e.verifier, err = credential.NewVerifier(credential.Rules{
			ElectionID:     info.ID,
			Type:           info.CredentialType,
			TrustedIssuers: info.TrustedIssuers,
			EventIDs:       info.EventIDs,
			ProductIDs:     info.ProductIDs,
		})
		if err != nil {
			return nil, fmt.Errorf("election %s rules: %w", electionID, err)
		}
	}
	s.elections.Add(electionID, e)
	return e, nil
}

// PublicKey returns the election key, fetching it on first use. Transport
// failures and server errors are reported as ErrKeyUnreachable, an
// undecodable key as encryption.ErrMalformedKey.
func (s *Session) PublicKey(ctx context.Context, electionID string) (*encryption.PublicKey, error) {
	if pk, ok := s.keys.Get(electionID); ok {
		return pk, nil
	}
	pk, err := s.cli.EncryptionKey(ctx, electionID)
	if err != nil {
		return nil, keyError(electionID, err)
	}
	s.keys.Add(electionID, pk)
	return pk, nil
}

func keyError(electionID string, err error) error {
	var apiErr *client.APIError
	if errors.Is(err, client.ErrUnreachable) ||
		(errors.As(err, &apiErr) && apiErr.Status >= http.StatusInternalServerError) {
		return fmt.Errorf("%w: election %s: %v", ErrKeyUnreachable, electionID, err)
	}
	return err
}

// checkVotes validates the choices against the election before anything
// is encrypted.
func checkVotes(info *sequencer.ElectionInfo, votes []uint64) error {
	if len(votes) != len(info.Options) {
		return fmt.Errorf("%w: %d votes for %d options", sequencer.ErrMalformedBallot, len(votes), len(info.Options))
	}
	for i, v := range votes {
		if v > info.MaxValue {
			return fmt.Errorf("%w: option %d above the maximum %d", encryption.ErrOutOfRange, i, info.MaxValue)
		}
	}
	return nil
}

// Encrypt checks and encrypts the choices under the election key.
func (s *Session) Encrypt(ctx context.Context, electionID string, votes []uint64) (encryption.Ballot, error) {
	e, err := s.election(ctx, electionID)
	if err != nil {
		return nil, err
	}
	return s.encrypt(ctx, e, votes)
}

func (s *Session) encrypt(ctx context.Context, e *election, votes []uint64) (encryption.Ballot, error) {
	if err := checkVotes(e.info, votes); err != nil {
		return nil, err
	}
	pk, err := s.PublicKey(ctx, e.info.ID)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(pk.ID(), e.info.KeyID) {
		s.keys.Remove(e.info.ID)
		return nil, fmt.Errorf("%w: fetched key %s, election key %s", encryption.ErrKeyMismatch, pk.ID(), e.info.KeyID)
	}
	ballot := make(encryption.Ballot, len(votes))
	for i, v := range votes {
		if ballot[i], err = encryption.Encrypt(v, pk); err != nil {
			return nil, fmt.Errorf("option %d: %w", i, err)
		}
	}
	return ballot, nil
}

// advisoryCheck runs the same verification the node runs. Credential types
// that need material the node does not publish are checked remotely.
func (s *Session) advisoryCheck(ctx context.Context, e *election, cred *credential.EligibilityCredential,
	watermark *big.Int, ballot encryption.Ballot,
) error {
	if e.verifier != nil {
		_, err := e.verifier.Verify(ctx, cred, watermark)
		return err
	}
	res, err := s.cli.VerifyProof(ctx, &api.VerifyProofRequest{ElectionID: e.info.ID, Proof: cred, Votes: ballot})
	if err != nil {
		return err
	}
	if !res.Verified {
		if sentinel := api.SentinelFor(res.Kind); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, res.Message)
		}
		return fmt.Errorf("%w: %s", credential.ErrInvalidProof, res.Message)
	}
	return nil
}

// CastVote encrypts votes, asks prove for a credential bound to the ballot
// and submits both. Validating the votes needs the election rules, so a
// cold cache fetches the election info first. Invalid votes never reach
// the key endpoint or the prover. A credential rejected by the advisory
// check is never sent.
func (s *Session) CastVote(ctx context.Context, electionID string, votes []uint64, prove Prover) (*sequencer.Receipt, error) {
	if prove == nil {
		return nil, fmt.Errorf("missing credential prover")
	}
	e, err := s.election(ctx, electionID)
	if err != nil {
		return nil, err
	}
	ballot, err := s.encrypt(ctx, e, votes)
	if err != nil {
		return nil, err
	}
	watermark, err := credential.WatermarkFor(electionID, e.info.WatermarkMode, ballot)
	if err != nil {
		return nil, err
	}
	cred, err := prove(ctx, watermark)
	if err != nil {
		return nil, fmt.Errorf("could not obtain credential: %w", err)
	}
	if !s.skipAdvisory {
		if err := s.advisoryCheck(ctx, e, cred, watermark, ballot); err != nil {
			return nil, err
		}
	}
	receipt, err := s.submit(ctx, &api.Vote{ElectionID: electionID, Votes: ballot, Proof: cred})
	if err != nil {
		return nil, err
	}
	log.Debugw("ballot admitted", "election", electionID, "receipt", receipt.ReceiptID, "nullifier", receipt.Nullifier.String())
	return receipt, nil
}

// submit sends vote to the node. A dropped connection leaves the outcome
// unknown, so the nullifier status decides: once spent, the ballot is
// reported as admitted. A receipt recovered that way has no ReceiptID.
// A duplicate reply after a dropped attempt means the earlier attempt
// was admitted.
func (s *Session) submit(ctx context.Context, vote *api.Vote) (*sequencer.Receipt, error) {
	var (
		nullifier credential.Nullifier
		dropped   error
	)
	for i := 1; i <= submitAttempts; i++ {
		receipt, err := s.cli.SubmitVote(ctx, vote)
		switch {
		case err == nil:
			return receipt, nil
		case errors.Is(err, client.ErrUnreachable):
			if dropped == nil {
				var nerr error
				if nullifier, nerr = credential.ClaimedNullifier(vote.ElectionID, vote.Proof); nerr != nil {
					return nil, fmt.Errorf("%w: vote outcome unknown: %v", err, nerr)
				}
			}
			dropped = err
		case dropped != nil && errors.Is(err, sequencer.ErrDuplicateVote):
			// an earlier attempt went through
		default:
			return nil, err
		}
		status, err := s.cli.NullifierStatus(ctx, vote.ElectionID, nullifier)
		if err != nil {
			return nil, fmt.Errorf("%w: vote outcome unknown: %v", client.ErrUnreachable, err)
		}
		if status.Spent {
			log.Warnw("ballot admitted without a receipt", "election", vote.ElectionID, "nullifier", nullifier.String())
			return &sequencer.Receipt{ElectionID: vote.ElectionID, Nullifier: nullifier, AdmittedAt: status.Timestamp}, nil
		}
		log.Warnw("resending ballot", "election", vote.ElectionID, "attempt", i, "error", dropped.Error())
	}
	return nil, dropped
}

// Spent reports whether a nullifier was already used in an election.
func (s *Session) Spent(ctx context.Context, electionID string, nullifier credential.Nullifier) (bool, error) {
	status, err := s.cli.NullifierStatus(ctx, electionID, nullifier)
	if err != nil {
		return false, err
	}
	return status.Spent, nil
}
