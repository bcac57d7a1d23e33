// Package finalizer closes elections and decrypts their tallies. Only the
// per-option accumulators are decrypted, never an individual ballot.
package finalizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"golang.org/x/sync/errgroup"

	"github.com/vocdoni/davinci-ticketvote/encryption"
	"github.com/vocdoni/davinci-ticketvote/log"
	"github.com/vocdoni/davinci-ticketvote/sequencer"
	"github.com/vocdoni/davinci-ticketvote/storage"
)

// ErrAlreadyTallied is returned when closing an election that has a result.
var ErrAlreadyTallied = errors.New("election already tallied")

// ResultsPublisher receives every result after it is committed.
type ResultsPublisher interface {
	Name() string
	Publish(ctx context.Context, res *storage.Result) error
}

// Finalizer closes elections, on demand or when their end date passes.
type Finalizer struct {
	seq        *sequencer.Sequencer
	stg        *storage.Storage
	publishers []ResultsPublisher
	OndemandCh chan string

	tallyLock sync.Mutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a finalizer for the elections of seq.
func New(seq *sequencer.Sequencer, publishers ...ResultsPublisher) *Finalizer {
	return &Finalizer{
		seq:        seq,
		stg:        seq.Storage(),
		publishers: publishers,
		OndemandCh: make(chan string, 10),
	}
}

// Start listens for election ids on OndemandCh. If monitorInterval is
// positive it also closes every election whose end date has passed.
func (f *Finalizer) Start(ctx context.Context, monitorInterval time.Duration) {
	f.ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case id := <-f.OndemandCh:
				if _, err := f.CloseAndDecrypt(f.ctx, id); err != nil && !errors.Is(err, ErrAlreadyTallied) {
					log.Errorw(err, "could not tally election "+id)
				}
			case <-f.ctx.Done():
				return
			}
		}
	}()

	if monitorInterval > 0 {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			ticker := time.NewTicker(monitorInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					f.finalizeByDate(time.Now())
				case <-f.ctx.Done():
					return
				}
			}
		}()
	}
	log.Infow("finalizer started", "monitorInterval", monitorInterval.String(), "publishers", len(f.publishers))
}

// Close stops the finalizer and waits for its goroutines. It must be called
// before closing the storage.
func (f *Finalizer) Close() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	f.cancel = nil

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Infow("finalizer stopped")
	case <-time.After(5 * time.Second):
		log.Warnw("some finalizer goroutines did not exit cleanly")
	}
}

// finalizeByDate queues every untallied election whose end date is before
// date.
func (f *Finalizer) finalizeByDate(date time.Time) {
	for _, id := range f.seq.Elections() {
		cfg, err := f.seq.Election(id)
		if err != nil || cfg.End.IsZero() || !cfg.End.Before(date) || f.stg.HasResult(id) {
			continue
		}
		log.Debugw("election ended, queueing tally", "election", id, "end", cfg.End.String())
		select {
		case f.OndemandCh <- id:
		case <-f.ctx.Done():
			return
		}
	}
}

// CloseAndDecrypt freezes the election, decrypts its accumulators, stores
// the result and retires the secret key. It runs once per election: later
// calls return ErrAlreadyTallied.
func (f *Finalizer) CloseAndDecrypt(ctx context.Context, electionID string) (*storage.Result, error) {
	f.tallyLock.Lock()
	defer f.tallyLock.Unlock()

	if f.stg.HasResult(electionID) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyTallied, electionID)
	}
	cfg, err := f.seq.Election(electionID)
	if err != nil {
		return nil, err
	}
	acc, err := f.seq.Freeze(electionID)
	if err != nil {
		return nil, fmt.Errorf("could not freeze election %s: %w", electionID, err)
	}
	sk, err := f.stg.SecretKey(electionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: election %s has no secret key and no result", storage.ErrStorageCorrupt, electionID)
	}
	if err != nil {
		return nil, err
	}
	record, err := f.stg.Election(electionID)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	tally := make([]uint64, len(acc.Ciphertexts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, ct := range acc.Ciphertexts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := encryption.Decrypt(ct, sk, cfg.MaxTally())
			if errors.Is(err, encryption.ErrMalformedCiphertext) {
				return fmt.Errorf("%w: option %d: %v", storage.ErrStorageCorrupt, i, err)
			}
			if err != nil {
				return fmt.Errorf("option %d: %w", i, err)
			}
			tally[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("could not decrypt tally of %s: %w", electionID, err)
	}
	log.Debugw("decrypted accumulators", "election", electionID, "duration", time.Since(startTime).String())

	res := &storage.Result{
		ElectionID: electionID,
		Options:    cfg.Options,
		Tally:      tally,
		Ballots:    acc.Ballots,
		ClosedAt:   record.ClosedAt,
	}
	if res.CID, err = ContentID(res); err != nil {
		return nil, err
	}
	if err := f.stg.CommitTally(res); err != nil {
		if errors.Is(err, storage.ErrKeyAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyTallied, electionID)
		}
		return nil, err
	}
	log.Infow("election tallied", "election", electionID, "ballots", res.Ballots, "tally", res.Tally, "cid", res.CID)
	f.publish(ctx, res)
	return res, nil
}

// publish pushes res to every publisher. Failures are logged, the result is
// already committed.
func (f *Finalizer) publish(ctx context.Context, res *storage.Result) {
	for _, p := range f.publishers {
		if err := p.Publish(ctx, res); err != nil {
			log.Warnw("could not publish result", "election", res.ElectionID, "publisher", p.Name(), "error", err.Error())
		}
	}
}

// contentTally is the canonical encoding addressed by the result CID.
type contentTally struct {
	ElectionID string   `json:"electionId"`
	Options    []string `json:"options"`
	Tally      []uint64 `json:"tally"`
	Ballots    uint64   `json:"ballots"`
}

// ContentID returns the CIDv1 (raw, sha2-256) of the canonical JSON
// encoding of the tally.
func ContentID(res *storage.Result) (string, error) {
	data, err := CanonicalTally(res)
	if err != nil {
		return "", err
	}
	hash, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, hash).String(), nil
}

// CanonicalTally is the JSON document a result CID is computed over.
func CanonicalTally(res *storage.Result) ([]byte, error) {
	return json.Marshal(&contentTally{
		ElectionID: res.ElectionID,
		Options:    res.Options,
		Tally:      res.Tally,
		Ballots:    res.Ballots,
	})
}

// WaitUntilTallied polls the storage until the election has a result.
func (f *Finalizer) WaitUntilTallied(ctx context.Context, electionID string) (*storage.Result, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Minute)
		defer cancel()
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		res, err := f.stg.Result(electionID)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for election %s to be tallied: %w", electionID, ctx.Err())
		}
	}
}
