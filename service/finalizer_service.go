package service

import (
	"context"
	"fmt"
	"time"

	"github.com/vocdoni/davinci-ticketvote/finalizer"
	"github.com/vocdoni/davinci-ticketvote/log"
	"github.com/vocdoni/davinci-ticketvote/sequencer"
)

// FinalizerService represents a service that closes and tallies elections
// when they end or on demand.
type FinalizerService struct {
	*finalizer.Finalizer
	monitorInterval time.Duration
	cancel          context.CancelFunc
}

// NewFinalizer creates a new finalizer service instance. The
// monitorInterval parameter specifies how often ended elections are looked
// for. If it is 0, elections are only tallied on demand.
func NewFinalizer(seq *sequencer.Sequencer, monitorInterval time.Duration, publishers ...finalizer.ResultsPublisher) *FinalizerService {
	return &FinalizerService{
		Finalizer:       finalizer.New(seq, publishers...),
		monitorInterval: monitorInterval,
	}
}

// Start begins the finalizer service. It returns an error if the service
// is already running.
func (fs *FinalizerService) Start(ctx context.Context) error {
	if fs.cancel != nil {
		return fmt.Errorf("service already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	fs.cancel = cancel
	fs.Finalizer.Start(ctx, fs.monitorInterval)

	log.Infow("finalizer service started")
	return nil
}

// Stop halts the finalizer service.
func (fs *FinalizerService) Stop() {
	if fs.cancel != nil {
		fs.cancel()
		fs.cancel = nil

		// wait for the goroutines before the storage is closed
		fs.Close()

		log.Infow("finalizer service stopped")
	}
}
