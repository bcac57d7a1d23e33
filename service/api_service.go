package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vocdoni/davinci-ticketvote/api"
	"github.com/vocdoni/davinci-ticketvote/log"
	"github.com/vocdoni/davinci-ticketvote/sequencer"
)

// apiShutdownTimeout bounds the graceful shutdown of the HTTP server.
const apiShutdownTimeout = 10 * time.Second

// APIService represents a service that manages the HTTP API server.
type APIService struct {
	seq        *sequencer.Sequencer
	tallier    api.Tallier
	API        *api.API
	mu         sync.Mutex
	host       string
	port       int
	adminToken string
}

// NewAPI creates a new APIService instance.
func NewAPI(seq *sequencer.Sequencer, host string, port int, disableLogging bool) *APIService {
	if disableLogging {
		api.DisabledLogging = disableLogging
		log.Debugw("API logging is disabled")
	}
	return &APIService{
		seq:  seq,
		host: host,
		port: port,
	}
}

// SetAdmin enables the close endpoint, authenticated with token.
func (as *APIService) SetAdmin(tallier api.Tallier, token string) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.tallier = tallier
	as.adminToken = token
}

// Start begins the API server. It returns an error if the service
// is already running or if it fails to start.
func (as *APIService) Start(ctx context.Context) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.API != nil {
		return fmt.Errorf("service already running")
	}

	var err error
	as.API, err = api.New(&api.APIConfig{
		Host:       as.host,
		Port:       as.port,
		Sequencer:  as.seq,
		Tallier:    as.tallier,
		AdminToken: as.adminToken,
	})
	if err != nil {
		as.API = nil
		return fmt.Errorf("failed to start API server: %w", err)
	}
	return nil
}

// Stop halts the API server.
func (as *APIService) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.API == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
	defer cancel()
	if err := as.API.Close(ctx); err != nil {
		log.Warnw("API server shutdown", "error", err.Error())
	}
	as.API = nil
}

// HostPort returns the host and port of the API server.
func (as *APIService) HostPort() (string, int) {
	return as.host, as.port
}
