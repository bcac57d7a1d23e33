// Package api serves the voting HTTP API: election discovery, public keys,
// ballot submission, credential checks, nullifier status and results.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vocdoni/davinci-ticketvote/log"
	"github.com/vocdoni/davinci-ticketvote/sequencer"
	"github.com/vocdoni/davinci-ticketvote/storage"
)

const (
	maxRequestBodyLog = 512 // Maximum length of request body to log
)

// Tallier closes an election and produces its result.
type Tallier interface {
	CloseAndDecrypt(ctx context.Context, electionID string) (*storage.Result, error)
}

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host      string
	Port      int // 0 disables listening, the router is still available
	Sequencer *sequencer.Sequencer
	Tallier   Tallier // Optional: enables the close endpoint with AdminToken
	// AdminToken is the bearer token required by the close endpoint. The
	// endpoint is not registered when empty.
	AdminToken string
}

// API type represents the API HTTP server.
type API struct {
	router     *chi.Mux
	server     *http.Server
	seq        *sequencer.Sequencer
	stg        *storage.Storage
	tallier    Tallier
	adminToken string
}

// New creates a new API instance with the given configuration and starts
// the HTTP server when a port is set.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Sequencer == nil {
		return nil, fmt.Errorf("missing sequencer instance")
	}
	a := &API{
		seq:        conf.Sequencer,
		stg:        conf.Sequencer.Storage(),
		tallier:    conf.Tallier,
		adminToken: conf.AdminToken,
	}
	a.initRouter()
	if conf.Port == 0 {
		return a, nil
	}

	addr := net.JoinHostPort(conf.Host, fmt.Sprint(conf.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	a.server = &http.Server{Handler: a.router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infow("starting API server", "host", conf.Host, "port", conf.Port)
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// Close shuts the HTTP server down.
func (a *API) Close(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// registerHandlers registers all the HTTP handlers for the API endpoints.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	// election endpoints
	log.Infow("register handler", "endpoint", ElectionsEndpoint, "method", "GET")
	a.router.Get(ElectionsEndpoint, a.elections)
	log.Infow("register handler", "endpoint", ElectionEndpoint, "method", "GET")
	a.router.Get(ElectionEndpoint, a.election)
	log.Infow("register handler", "endpoint", ElectionKeyEndpoint, "method", "GET")
	a.router.Get(ElectionKeyEndpoint, a.encryptionKey)
	log.Infow("register handler", "endpoint", ElectionNullifierEndpoint, "method", "GET")
	a.router.Get(ElectionNullifierEndpoint, a.nullifierStatus)
	log.Infow("register handler", "endpoint", ElectionResultsEndpoint, "method", "GET")
	a.router.Get(ElectionResultsEndpoint, a.results)
	// vote endpoints
	log.Infow("register handler", "endpoint", VotesEndpoint, "method", "POST")
	a.router.Post(VotesEndpoint, a.newVote)
	log.Infow("register handler", "endpoint", VerifyProofEndpoint, "method", "POST")
	a.router.Post(VerifyProofEndpoint, a.verifyProof)

	// admin endpoints (if enabled)
	if a.tallier != nil && a.adminToken != "" {
		log.Infow("register handler", "endpoint", ElectionCloseEndpoint, "method", "POST", "auth", "bearer")
		a.router.With(bearerAuthMiddleware(a.adminToken)).Post(ElectionCloseEndpoint, a.closeElection)
	}
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	a.router.Use(loggingMiddleware(maxRequestBodyLog))
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(middleware.Timeout(45 * time.Second))
	a.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		ErrResourceNotFound.Withf("%s %s", r.Method, r.URL.Path).Write(w)
	})

	a.registerHandlers()
}
