package finalizer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/ipfs/go-cid"
	"github.com/vocdoni/davinci-ticketvote/config"
	"github.com/vocdoni/davinci-ticketvote/credential"
	"github.com/vocdoni/davinci-ticketvote/encryption"
	"github.com/vocdoni/davinci-ticketvote/internal/testutil"
	"github.com/vocdoni/davinci-ticketvote/sequencer"
	"github.com/vocdoni/davinci-ticketvote/storage"
)

type recordingPublisher struct {
	mu      sync.Mutex
	results []*storage.Result
	err     error
}

func (p *recordingPublisher) Name() string { return "recording" }

func (p *recordingPublisher) Publish(_ context.Context, res *storage.Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, res)
	return p.err
}

func (p *recordingPublisher) published() []*storage.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*storage.Result(nil), p.results...)
}

type testEnv struct {
	seq    *sequencer.Sequencer
	cfg    *config.Election
	issuer credential.Issuer
}

func setupTestEnvironment(c *qt.C, cfg *config.Election, issuer credential.Issuer) *testEnv {
	seq, err := sequencer.New(testutil.NewStorage(c), 2)
	c.Assert(err, qt.IsNil)
	c.Assert(seq.OpenElection(cfg), qt.IsNil)
	return &testEnv{seq: seq, cfg: cfg, issuer: issuer}
}

func (env *testEnv) vote(c *qt.C, ticketID string, votes ...uint64) {
	pk, err := env.seq.PublicKey(env.cfg.ID)
	c.Assert(err, qt.IsNil)
	voter := testutil.NewVoter(c, env.issuer, ticketID)
	ballot := testutil.Ballot(c, pk, votes...)
	_, err = env.seq.Submit(context.Background(), env.cfg.ID, voter.Credential(c, env.cfg, ballot), ballot)
	c.Assert(err, qt.IsNil)
}

func TestCloseAndDecrypt(t *testing.T) {
	c := qt.New(t)
	issuer := testutil.NewIssuer(c, "devcon-issuer")
	env := setupTestEnvironment(c, testutil.Election("budget", issuer), issuer)
	env.vote(c, "ticket-1", 5, 0, 1)
	env.vote(c, "ticket-2", 10, 2, 0)
	env.vote(c, "ticket-3", 0, 0, 0)

	publisher := &recordingPublisher{}
	f := New(env.seq, publisher)
	res, err := f.CloseAndDecrypt(context.Background(), "budget")
	c.Assert(err, qt.IsNil)
	c.Assert(res.Tally, qt.DeepEquals, []uint64{15, 2, 1})
	c.Assert(res.Ballots, qt.Equals, uint64(3))
	c.Assert(res.Options, qt.DeepEquals, testutil.Options)
	c.Assert(res.ClosedAt.IsZero(), qt.IsFalse)

	// the cid addresses the canonical tally document
	id, err := cid.Decode(res.CID)
	c.Assert(err, qt.IsNil)
	c.Assert(id.Prefix().Codec, qt.Equals, uint64(cid.Raw))
	expected, err := ContentID(res)
	c.Assert(err, qt.IsNil)
	c.Assert(res.CID, qt.Equals, expected)

	stored, err := env.seq.Storage().Result("budget")
	c.Assert(err, qt.IsNil)
	c.Assert(stored.Tally, qt.DeepEquals, res.Tally)
	c.Assert(stored.CID, qt.Equals, res.CID)
	c.Assert(publisher.published(), qt.HasLen, 1)

	record, err := env.seq.Storage().Election("budget")
	c.Assert(err, qt.IsNil)
	c.Assert(record.Status, qt.Equals, storage.ElectionStatusTallied)
	_, err = env.seq.Storage().SecretKey("budget")
	c.Assert(err, qt.ErrorIs, storage.ErrNotFound)

	_, err = f.CloseAndDecrypt(context.Background(), "budget")
	c.Assert(err, qt.ErrorIs, ErrAlreadyTallied)
	c.Assert(publisher.published(), qt.HasLen, 1)

	pk, err := env.seq.PublicKey("budget")
	c.Assert(err, qt.IsNil)
	ballot := testutil.Ballot(c, pk, 1, 1, 1)
	late := testutil.NewVoter(c, issuer, "ticket-4")
	_, err = env.seq.Submit(context.Background(), "budget", late.Credential(c, env.cfg, ballot), ballot)
	c.Assert(err, qt.ErrorIs, sequencer.ErrElectionClosed)

	_, err = f.CloseAndDecrypt(context.Background(), "unknown")
	c.Assert(err, qt.ErrorIs, sequencer.ErrElectionNotFound)
}

func TestEmptyElection(t *testing.T) {
	c := qt.New(t)
	issuer := testutil.NewIssuer(c, "devcon-issuer")
	env := setupTestEnvironment(c, testutil.Election("empty", issuer), issuer)

	res, err := New(env.seq).CloseAndDecrypt(context.Background(), "empty")
	c.Assert(err, qt.IsNil)
	c.Assert(res.Tally, qt.DeepEquals, []uint64{0, 0, 0})
	c.Assert(res.Ballots, qt.Equals, uint64(0))
}

func TestPublisherFailureKeepsResult(t *testing.T) {
	c := qt.New(t)
	issuer := testutil.NewIssuer(c, "devcon-issuer")
	env := setupTestEnvironment(c, testutil.Election("budget", issuer), issuer)
	env.vote(c, "ticket-1", 1, 2, 3)

	failing := &recordingPublisher{err: errors.New("bucket unreachable")}
	working := &recordingPublisher{}
	res, err := New(env.seq, failing, working).CloseAndDecrypt(context.Background(), "budget")
	c.Assert(err, qt.IsNil)
	c.Assert(res.Tally, qt.DeepEquals, []uint64{1, 2, 3})
	c.Assert(failing.published(), qt.HasLen, 1)
	c.Assert(working.published(), qt.HasLen, 1)
	c.Assert(env.seq.Storage().HasResult("budget"), qt.IsTrue)
}

func TestFinalizeByDate(t *testing.T) {
	c := qt.New(t)
	issuer := testutil.NewIssuer(c, "devcon-issuer")
	cfg := testutil.Election("timed", issuer)
	cfg.EndDate = time.Now().Add(time.Hour).Format(time.RFC3339)
	env := setupTestEnvironment(c, cfg, issuer)
	c.Assert(env.seq.OpenElection(testutil.Election("open-ended", issuer)), qt.IsNil)
	env.vote(c, "ticket-1", 3, 0, 7)

	f := New(env.seq)
	f.Start(t.Context(), 0)
	defer f.Close()

	// nothing has ended yet
	f.finalizeByDate(time.Now())
	c.Assert(env.seq.Storage().HasResult("timed"), qt.IsFalse)

	f.finalizeByDate(time.Now().Add(2 * time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := f.WaitUntilTallied(ctx, "timed")
	c.Assert(err, qt.IsNil)
	c.Assert(res.Tally, qt.DeepEquals, []uint64{3, 0, 7})
	c.Assert(env.seq.Storage().HasResult("open-ended"), qt.IsFalse)
}

func TestOndemandChannel(t *testing.T) {
	c := qt.New(t)
	issuer := testutil.NewIssuer(c, "devcon-issuer")
	env := setupTestEnvironment(c, testutil.Election("budget", issuer), issuer)
	env.vote(c, "ticket-1", 10, 10, 10)

	f := New(env.seq)
	f.Start(t.Context(), 0)
	defer f.Close()
	f.OndemandCh <- "budget"
	// a second request for the same election is ignored
	f.OndemandCh <- "budget"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := f.WaitUntilTallied(ctx, "budget")
	c.Assert(err, qt.IsNil)
	c.Assert(res.Tally, qt.DeepEquals, []uint64{10, 10, 10})
}

func TestCorruptSecretKey(t *testing.T) {
	c := qt.New(t)
	issuer := testutil.NewIssuer(c, "devcon-issuer")
	env := setupTestEnvironment(c, testutil.Election("budget", issuer), issuer)
	env.vote(c, "ticket-1", 1, 2, 3)

	stg := env.seq.Storage()
	pk, err := stg.PublicKey("budget")
	c.Assert(err, qt.IsNil)
	sk, err := stg.SecretKey("budget")
	c.Assert(err, qt.IsNil)
	broken := &encryption.SecretKey{Scheme: sk.Scheme, KeyID: sk.KeyID, Data: sk.Data[:8]}
	c.Assert(stg.SetEncryptionKeys("budget", pk, broken), qt.IsNil)

	_, err = New(env.seq).CloseAndDecrypt(context.Background(), "budget")
	c.Assert(err, qt.ErrorIs, storage.ErrStorageCorrupt)
	c.Assert(errors.Is(err, encryption.ErrOutOfRange), qt.IsFalse)
	c.Assert(stg.HasResult("budget"), qt.IsFalse)
}
