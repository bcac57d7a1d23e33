package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vocdoni/davinci-ticketvote/config"
	"github.com/vocdoni/davinci-ticketvote/db/metadb"
	"github.com/vocdoni/davinci-ticketvote/finalizer"
	"github.com/vocdoni/davinci-ticketvote/log"
	"github.com/vocdoni/davinci-ticketvote/service"
	"github.com/vocdoni/davinci-ticketvote/storage"
)

// Services holds all the running services
type Services struct {
	Storage   *storage.Storage
	API       *service.APIService
	Sequencer *service.SequencerService
	Finalizer *service.FinalizerService
}

func main() {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logging
	log.Init(cfg.Log.Level, cfg.Log.Output, nil)
	log.Infow("starting ticketvote-node", "version", Version)

	// Validate configuration
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	elections, err := config.LoadElections(cfg.Elections)
	if err != nil {
		log.Fatalf("Invalid elections: %v", err)
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup services
	services, err := setupServices(ctx, cfg, elections)
	if err != nil {
		shutdownServices(services)
		log.Fatalf("Failed to setup services: %v", err)
	}
	defer shutdownServices(services)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("received signal, shutting down", "signal", sig.String())
}

// publishers returns the results publishers enabled in the configuration.
func publishers(ctx context.Context, cfg *Config) ([]finalizer.ResultsPublisher, error) {
	list := []finalizer.ResultsPublisher{service.LogPublisher{}}
	if !cfg.Publish.S3.Enabled {
		return list, nil
	}
	s3, err := service.NewS3Publisher(ctx, &service.S3Config{
		Enabled:    true,
		Endpoint:   cfg.Publish.S3.Endpoint,
		Region:     cfg.Publish.S3.Region,
		AccessKey:  cfg.Publish.S3.AccessKey,
		SecretKey:  cfg.Publish.S3.SecretKey,
		Bucket:     cfg.Publish.S3.Bucket,
		Prefix:     cfg.Publish.S3.Prefix,
		PublicRead: cfg.Publish.S3.PublicRead,
	})
	if err != nil {
		return nil, err
	}
	log.Infow("publishing results to S3", "bucket", cfg.Publish.S3.Bucket, "prefix", cfg.Publish.S3.Prefix)
	return append(list, s3), nil
}

// setupServices initializes and starts all required services
func setupServices(ctx context.Context, cfg *Config, elections []*config.Election) (*Services, error) {
	services := &Services{}

	// Initialize storage database
	log.Infow("initializing storage", "datadir", cfg.Datadir, "type", cfg.DB.Type)
	storagedb, err := metadb.New(cfg.DB.Type, cfg.Datadir)
	if err != nil {
		return services, fmt.Errorf("failed to initialize storage: %w", err)
	}
	services.Storage = storage.New(storagedb)

	// Start sequencer service, it opens or resumes every election
	log.Infow("starting sequencer service", "elections", len(elections), "workers", cfg.Workers)
	services.Sequencer, err = service.NewSequencer(services.Storage, cfg.Workers, elections)
	if err != nil {
		return services, err
	}
	if err := services.Sequencer.Start(ctx); err != nil {
		return services, fmt.Errorf("failed to start sequencer service: %w", err)
	}

	// Start finalizer service
	pubs, err := publishers(ctx, cfg)
	if err != nil {
		return services, fmt.Errorf("failed to setup results publishers: %w", err)
	}
	log.Infow("starting finalizer service", "monitorInterval", cfg.Monitor.String())
	services.Finalizer = service.NewFinalizer(services.Sequencer.Sequencer, cfg.Monitor, pubs...)
	if err := services.Finalizer.Start(ctx); err != nil {
		return services, fmt.Errorf("failed to start finalizer service: %w", err)
	}

	// Start API service
	log.Infow("starting API service", "host", cfg.API.Host, "port", cfg.API.Port, "admin", cfg.Admin.Token != "")
	services.API = service.NewAPI(services.Sequencer.Sequencer, cfg.API.Host, cfg.API.Port, false)
	if cfg.Admin.Token != "" {
		services.API.SetAdmin(services.Finalizer, cfg.Admin.Token)
	}
	if err := services.API.Start(ctx); err != nil {
		return services, fmt.Errorf("failed to start API service: %w", err)
	}

	log.Info("ticketvote-node is running, ready to receive votes!")
	return services, nil
}

// shutdownServices gracefully shuts down all services
func shutdownServices(services *Services) {
	if services == nil {
		return
	}

	// Stop services in reverse order of startup
	if services.API != nil {
		services.API.Stop()
	}
	if services.Finalizer != nil {
		services.Finalizer.Stop()
	}
	if services.Sequencer != nil {
		services.Sequencer.Stop()
	}
	if services.Storage != nil {
		services.Storage.Close()
	}
}
