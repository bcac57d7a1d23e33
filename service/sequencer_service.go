package service

import (
	"context"
	"fmt"
	"time"

	"github.com/vocdoni/davinci-ticketvote/config"
	"github.com/vocdoni/davinci-ticketvote/log"
	"github.com/vocdoni/davinci-ticketvote/sequencer"
	"github.com/vocdoni/davinci-ticketvote/storage"
)

// StatsMonitorInterval is the interval at which election statistics are
// logged. This can be overridden before starting the service.
var StatsMonitorInterval = 60 * time.Second

// SequencerService opens the configured elections and reports their
// progress.
type SequencerService struct {
	Sequencer *sequencer.Sequencer
	elections []*config.Election
	cancel    context.CancelFunc
}

// NewSequencer creates the sequencer of elections. workers bounds the
// concurrent credential verifications, 0 uses one per CPU.
func NewSequencer(stg *storage.Storage, workers int, elections []*config.Election) (*SequencerService, error) {
	s, err := sequencer.New(stg, workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create sequencer: %w", err)
	}
	return &SequencerService{Sequencer: s, elections: elections}, nil
}

// Start opens every configured election and starts the stats monitor.
// Elections already known to the storage are resumed.
func (ss *SequencerService) Start(ctx context.Context) error {
	if ss.cancel != nil {
		return fmt.Errorf("service already running")
	}
	for _, cfg := range ss.elections {
		if err := ss.Sequencer.OpenElection(cfg); err != nil {
			return fmt.Errorf("failed to open election %s: %w", cfg.ID, err)
		}
		log.Infow("election open", "election", cfg.ID, "options", len(cfg.Options), "scheme", cfg.Scheme)
	}
	ctx, ss.cancel = context.WithCancel(ctx)
	ss.startStatsMonitor(ctx, StatsMonitorInterval)
	return nil
}

// Stop halts the stats monitor.
func (ss *SequencerService) Stop() {
	if ss.cancel != nil {
		ss.cancel()
		ss.cancel = nil
	}
}

// startStatsMonitor starts a goroutine that periodically logs statistics
// for all the elections still accepting ballots.
func (ss *SequencerService) startStatsMonitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		log.Infow("election stats monitor started", "interval", interval.String())

		for {
			select {
			case <-ctx.Done():
				log.Infow("election stats monitor stopped")
				return
			case <-ticker.C:
				ss.logElectionStats()
			}
		}
	}()
}

// logElectionStats logs the admitted ballots of each open election and a
// summary.
func (ss *SequencerService) logElectionStats() {
	var open, total uint64
	for _, id := range ss.Sequencer.Elections() {
		closed, err := ss.Sequencer.Closed(id)
		if err != nil || closed {
			continue
		}
		admitted, err := ss.Sequencer.Admitted(id)
		if err != nil {
			log.Warnw("failed to get election stats", "election", id, "error", err.Error())
			continue
		}
		open++
		total += admitted
		cfg, err := ss.Sequencer.Election(id)
		if err != nil {
			continue
		}
		log.Monitor("election "+id, map[string]any{
			"admitted":  admitted,
			"maxVoters": cfg.MaxVoters,
		})
	}
	log.Monitor("global statistics summary", map[string]any{
		"openElections": open,
		"admitted":      total,
	})
}
