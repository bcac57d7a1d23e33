package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/davinci-ticketvote/config"
	"github.com/vocdoni/davinci-ticketvote/credential"
	"github.com/vocdoni/davinci-ticketvote/db"
	"github.com/vocdoni/davinci-ticketvote/db/pebbledb"
	"github.com/vocdoni/davinci-ticketvote/encryption"
	"github.com/vocdoni/davinci-ticketvote/internal/testutil"
	"github.com/vocdoni/davinci-ticketvote/storage"
)

type fixture struct {
	seq    *Sequencer
	cfg    *config.Election
	issuer credential.Issuer
	pk     *encryption.PublicKey
}

func newFixture(c *qt.C, stg *storage.Storage, cfg *config.Election, issuer credential.Issuer) *fixture {
	seq, err := New(stg, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(seq.OpenElection(cfg), qt.IsNil)
	pk, err := seq.PublicKey(cfg.ID)
	c.Assert(err, qt.IsNil)
	return &fixture{seq: seq, cfg: cfg, issuer: issuer, pk: pk}
}

func defaultFixture(c *qt.C) *fixture {
	issuer := testutil.NewIssuer(c, "devcon-issuer")
	return newFixture(c, testutil.NewStorage(c), testutil.Election("budget", issuer), issuer)
}

func (f *fixture) submit(c *qt.C, voter *testutil.Voter, votes ...uint64) (*Receipt, error) {
	ballot := testutil.Ballot(c, f.pk, votes...)
	return f.seq.Submit(context.Background(), f.cfg.ID, voter.Credential(c, f.cfg, ballot), ballot)
}

func (f *fixture) accumulator(c *qt.C) *storage.Accumulator {
	acc, err := f.seq.Storage().Accumulator(f.cfg.ID)
	c.Assert(err, qt.IsNil)
	return acc
}

func (f *fixture) tally(c *qt.C) []uint64 {
	sk, err := f.seq.Storage().SecretKey(f.cfg.ID)
	c.Assert(err, qt.IsNil)
	acc := f.accumulator(c)
	out := make([]uint64, len(acc.Ciphertexts))
	for i, ct := range acc.Ciphertexts {
		out[i], err = encryption.Decrypt(ct, sk, f.cfg.MaxTally())
		c.Assert(err, qt.IsNil)
	}
	return out
}

func assertUnchanged(c *qt.C, before, after *storage.Accumulator) {
	c.Assert(after.Ballots, qt.Equals, before.Ballots)
	for i := range before.Ciphertexts {
		c.Assert(after.Ciphertexts[i].Equal(before.Ciphertexts[i]), qt.IsTrue)
	}
}

func TestSubmitAndFold(t *testing.T) {
	c := qt.New(t)
	f := defaultFixture(c)

	voters := []*testutil.Voter{
		testutil.NewVoter(c, f.issuer, "ticket-1"),
		testutil.NewVoter(c, f.issuer, "ticket-2"),
		testutil.NewVoter(c, f.issuer, "ticket-3"),
	}
	for i, votes := range [][]uint64{{5, 1, 0}, {10, 0, 2}, {0, 3, 0}} {
		receipt, err := f.submit(c, voters[i], votes...)
		c.Assert(err, qt.IsNil)
		c.Assert(receipt.ElectionID, qt.Equals, f.cfg.ID)
		c.Assert(receipt.Nullifier, qt.Equals, voters[i].Nullifier(c, f.cfg.ID))
		c.Assert(receipt.ReceiptID, qt.Not(qt.Equals), "")

		record, err := f.seq.IsSpent(f.cfg.ID, receipt.Nullifier)
		c.Assert(err, qt.IsNil)
		c.Assert(record.Spent, qt.IsTrue)
	}
	c.Assert(f.tally(c), qt.DeepEquals, []uint64{15, 4, 2})

	// reusing a ticket with a different ballot is rejected without a fold
	before := f.accumulator(c)
	_, err := f.submit(c, voters[0], 10, 10, 10)
	c.Assert(err, qt.ErrorIs, ErrDuplicateVote)
	assertUnchanged(c, before, f.accumulator(c))
	c.Assert(f.tally(c), qt.DeepEquals, []uint64{15, 4, 2})

	admitted, err := f.seq.Admitted(f.cfg.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(admitted, qt.Equals, uint64(3))
}

func TestRejectionsLeaveNoTrace(t *testing.T) {
	c := qt.New(t)
	f := defaultFixture(c)
	stranger := testutil.NewIssuer(c, "unknown-issuer")
	ctx := context.Background()

	voter := testutil.NewVoter(c, f.issuer, "ticket-1")
	ballot := testutil.Ballot(c, f.pk, 1, 1, 1)
	cred := voter.Credential(c, f.cfg, ballot)

	// the ticket presented by someone not holding its key
	thief := &testutil.Voter{Holder: credential.NewHolder(), Ticket: voter.Ticket}
	stolen := thief.Credential(c, f.cfg, ballot)

	otherKey, _, err := encryption.GenerateKey(f.pk.Scheme)
	c.Assert(err, qt.IsNil)

	tests := []struct {
		name   string
		cred   *credential.EligibilityCredential
		ballot encryption.Ballot
		err    error
	}{
		{"untrusted issuer", testutil.NewVoter(c, stranger, "ticket-9").Credential(c, f.cfg, ballot), ballot, credential.ErrIssuerNotTrusted},
		{"untrusted issuer short ballot", testutil.NewVoter(c, stranger, "ticket-8").Credential(c, f.cfg, ballot), ballot[:2], credential.ErrIssuerNotTrusted},
		{"stolen ticket corrupt ciphertext", stolen, encryption.Ballot{ballot[0], ballot[1], {Scheme: f.pk.Scheme, KeyID: f.pk.ID(), Data: []byte{1, 2, 3}}}, credential.ErrBadSignature},
		{"stolen ticket", stolen, ballot, credential.ErrBadSignature},
		{"missing credential", nil, ballot, credential.ErrMalformed},
		{"short ballot", cred, ballot[:2], ErrMalformedBallot},
		{"foreign key", cred, testutil.Ballot(c, otherKey, 1, 1, 1), encryption.ErrKeyMismatch},
		{"corrupt ciphertext", cred, encryption.Ballot{ballot[0], ballot[1], {Scheme: f.pk.Scheme, KeyID: f.pk.ID(), Data: []byte{1, 2, 3}}}, ErrMalformedBallot},
	}
	before := f.accumulator(c)
	for _, tt := range tests {
		c.Run(tt.name, func(c *qt.C) {
			_, err := f.seq.Submit(ctx, f.cfg.ID, tt.cred, tt.ballot)
			c.Assert(err, qt.ErrorIs, tt.err)
		})
	}
	assertUnchanged(c, before, f.accumulator(c))
	_, err = f.seq.IsSpent(f.cfg.ID, voter.Nullifier(c, f.cfg.ID))
	c.Assert(err, qt.ErrorIs, storage.ErrNotFound)

	// the genuine credential still works afterwards
	_, err = f.seq.Submit(ctx, f.cfg.ID, cred, ballot)
	c.Assert(err, qt.IsNil)

	_, err = f.seq.Submit(ctx, "unknown", cred, ballot)
	c.Assert(err, qt.ErrorIs, ErrElectionNotFound)
}

func TestBallotWatermark(t *testing.T) {
	c := qt.New(t)
	issuer := testutil.NewIssuer(c, "devcon-issuer")
	cfg := testutil.Election("bound", issuer)
	cfg.WatermarkMode = credential.WatermarkBallot
	f := newFixture(c, testutil.NewStorage(c), cfg, issuer)

	voter := testutil.NewVoter(c, issuer, "ticket-1")
	ballot := testutil.Ballot(c, f.pk, 1, 0, 0)
	cred := voter.Credential(c, cfg, ballot)

	// a credential is not transferable to another ballot
	other := testutil.Ballot(c, f.pk, 0, 0, 1)
	_, err := f.seq.Submit(context.Background(), cfg.ID, cred, other)
	c.Assert(err, qt.ErrorIs, credential.ErrWatermarkMismatch)

	_, err = f.seq.Submit(context.Background(), cfg.ID, cred, ballot)
	c.Assert(err, qt.IsNil)
	c.Assert(f.tally(c), qt.DeepEquals, []uint64{1, 0, 0})
}

func TestParallelVoters(t *testing.T) {
	c := qt.New(t)
	f := defaultFixture(c)

	const voters = 100
	var (
		wg         sync.WaitGroup
		admitted   atomic.Int64
		duplicates atomic.Int64
	)
	for i := range voters {
		voter := testutil.NewVoter(c, f.issuer, fmt.Sprintf("ticket-%d", i))
		// every ticket is submitted twice concurrently
		for range 2 {
			ballot := testutil.Ballot(c, f.pk, 1, 0, 2)
			cred := voter.Credential(c, f.cfg, ballot)
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.seq.Submit(context.Background(), f.cfg.ID, cred, ballot)
				switch {
				case err == nil:
					admitted.Add(1)
				case errors.Is(err, ErrDuplicateVote):
					duplicates.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
	}
	wg.Wait()
	c.Assert(admitted.Load(), qt.Equals, int64(voters))
	c.Assert(duplicates.Load(), qt.Equals, int64(voters))
	c.Assert(f.accumulator(c).Ballots, qt.Equals, uint64(voters))
	c.Assert(f.tally(c), qt.DeepEquals, []uint64{voters, 0, 2 * voters})
}

func TestCapacity(t *testing.T) {
	c := qt.New(t)
	issuer := testutil.NewIssuer(c, "devcon-issuer")
	cfg := testutil.Election("small", issuer)
	cfg.MaxVoters = 2
	f := newFixture(c, testutil.NewStorage(c), cfg, issuer)

	for i := range 2 {
		_, err := f.submit(c, testutil.NewVoter(c, issuer, fmt.Sprintf("ticket-%d", i)), 10, 10, 10)
		c.Assert(err, qt.IsNil)
	}
	_, err := f.submit(c, testutil.NewVoter(c, issuer, "ticket-3"), 1, 1, 1)
	c.Assert(err, qt.ErrorIs, encryption.ErrOutOfRange)
	c.Assert(f.tally(c), qt.DeepEquals, []uint64{20, 20, 20})

	// an election whose worst case total does not fit the key is not opened
	huge := testutil.Election("huge", issuer)
	huge.MaxValue = 1 << 20
	huge.MaxVoters = 1 << 20
	seq, err := New(testutil.NewStorage(c), 1)
	c.Assert(err, qt.IsNil)
	c.Assert(seq.OpenElection(huge), qt.ErrorIs, encryption.ErrOutOfRange)
}

func TestElectionClosed(t *testing.T) {
	c := qt.New(t)
	f := defaultFixture(c)
	voter := testutil.NewVoter(c, f.issuer, "ticket-1")
	_, err := f.submit(c, voter, 1, 2, 3)
	c.Assert(err, qt.IsNil)

	acc, err := f.seq.Freeze(f.cfg.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(acc.Ballots, qt.Equals, uint64(1))
	_, err = f.submit(c, testutil.NewVoter(c, f.issuer, "ticket-2"), 1, 1, 1)
	c.Assert(err, qt.ErrorIs, ErrElectionClosed)

	record, err := f.seq.Storage().Election(f.cfg.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(record.Status, qt.Equals, storage.ElectionStatusClosed)

	// freezing twice returns the same accumulator
	again, err := f.seq.Freeze(f.cfg.ID)
	c.Assert(err, qt.IsNil)
	assertUnchanged(c, acc, again)

	// an election past its end date rejects ballots before freezing
	cfg := testutil.Election("ended", f.issuer)
	cfg.StartDate = time.Now().Add(-2 * time.Hour).Format(time.RFC3339)
	cfg.EndDate = time.Now().Add(-time.Hour).Format(time.RFC3339)
	ended := newFixture(c, testutil.NewStorage(c), cfg, f.issuer)
	_, err = ended.submit(c, voter, 1, 1, 1)
	c.Assert(err, qt.ErrorIs, ErrElectionClosed)
	closed, err := ended.seq.Closed(cfg.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(closed, qt.IsTrue)
}

func TestReopenAfterRestart(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	issuer := testutil.NewIssuer(c, "devcon-issuer")
	voter := testutil.NewVoter(c, issuer, "ticket-1")

	database, err := pebbledb.New(db.Options{Path: dir})
	c.Assert(err, qt.IsNil)
	stg := storage.New(database)
	f := newFixture(c, stg, testutil.Election("budget", issuer), issuer)
	_, err = f.submit(c, voter, 4, 5, 6)
	c.Assert(err, qt.IsNil)
	keyID := f.pk.ID()
	stg.Close()

	database, err = pebbledb.New(db.Options{Path: dir})
	c.Assert(err, qt.IsNil)
	stg = storage.New(database)
	defer stg.Close()
	f = newFixture(c, stg, testutil.Election("budget", issuer), issuer)
	c.Assert(f.pk.ID(), qt.DeepEquals, keyID)
	admitted, err := f.seq.Admitted("budget")
	c.Assert(err, qt.IsNil)
	c.Assert(admitted, qt.Equals, uint64(1))

	_, err = f.submit(c, voter, 1, 1, 1)
	c.Assert(err, qt.ErrorIs, ErrDuplicateVote)
	_, err = f.submit(c, testutil.NewVoter(c, issuer, "ticket-2"), 1, 1, 1)
	c.Assert(err, qt.IsNil)
	c.Assert(f.tally(c), qt.DeepEquals, []uint64{5, 6, 7})
}

func TestVerifyProof(t *testing.T) {
	c := qt.New(t)
	f := defaultFixture(c)
	voter := testutil.NewVoter(c, f.issuer, "ticket-1")
	ballot := testutil.Ballot(c, f.pk, 0, 0, 1)

	attrs, err := f.seq.VerifyProof(context.Background(), f.cfg.ID, voter.Credential(c, f.cfg, ballot), ballot)
	c.Assert(err, qt.IsNil)
	c.Assert(attrs.EventID, qt.Equals, testutil.EventID)
	c.Assert(attrs.Nullifier, qt.Equals, voter.Nullifier(c, f.cfg.ID))
	c.Assert(f.accumulator(c).Ballots, qt.Equals, uint64(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.seq.Submit(ctx, f.cfg.ID, voter.Credential(c, f.cfg, ballot), ballot)
	c.Assert(err, qt.ErrorIs, context.Canceled)
	c.Assert(f.seq.Elections(), qt.DeepEquals, []string{"budget"})
}

func TestOpenElectionErrors(t *testing.T) {
	c := qt.New(t)
	issuer := testutil.NewIssuer(c, "devcon-issuer")
	stg := testutil.NewStorage(c)
	seq, err := New(stg, 0)
	c.Assert(err, qt.IsNil)

	c.Assert(seq.OpenElection(testutil.Election("budget", issuer)), qt.IsNil)
	c.Assert(seq.OpenElection(testutil.Election("budget", issuer)), qt.ErrorMatches, ".*already open")

	// the stored record wins over a changed configuration
	changed := testutil.Election("budget", issuer)
	changed.Options = changed.Options[:2]
	other, err := New(stg, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(other.OpenElection(changed), qt.ErrorMatches, ".*does not match its configuration")

	invalid := testutil.Election("no-issuers")
	c.Assert(seq.OpenElection(invalid), qt.IsNotNil)

	_, err = New(nil, 1)
	c.Assert(err, qt.IsNotNil)
}
