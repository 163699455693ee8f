// main package for the video-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/video-service/internal/api"
	"github.com/book-expert/video-service/internal/assets"
	"github.com/book-expert/video-service/internal/blobstore"
	"github.com/book-expert/video-service/internal/config"
	"github.com/book-expert/video-service/internal/dubbing"
	"github.com/book-expert/video-service/internal/jobstore"
	"github.com/book-expert/video-service/internal/synthesis"
	"github.com/book-expert/video-service/internal/worker"
)

const (
	httpReadHeaderTimeout = 10 * time.Second
	shutdownTimeout       = 15 * time.Second
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "video-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// components holds every wired collaborator for the service. It is built
// once at process start and torn down explicitly on shutdown; nothing is a
// package-level singleton.
type components struct {
	natsConnection *nats.Conn
	jobs           *jobstore.NatsJobStore
	blobs          *blobstore.NatsBlobStore
	assets         *assets.Store
	worker         *worker.Worker
	server         *api.Server
}

func buildComponents(cfg *config.Config, log *logger.Logger) (*components, error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	jobs, err := jobstore.New(jetstreamContext, jobstore.Options{
		StreamName:   cfg.NATS.JobStreamName,
		ConsumerName: cfg.NATS.JobConsumerName,
		Subject:      cfg.NATS.JobSubmittedSubject,
		JobBucket:    cfg.NATS.JobBucket,
	})
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to create job store: %w", err)
	}

	blobs, err := blobstore.New(jetstreamContext, cfg.NATS.VideoObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}

	assetStore, err := assets.New(jetstreamContext, assets.Buckets{
		PredefinedVoice:  cfg.NATS.PredefinedVoiceBucket,
		UserVoice:        cfg.NATS.UserVoiceBucket,
		PredefinedAvatar: cfg.NATS.PredefinedAvatarBucket,
		UserAvatar:       cfg.NATS.UserAvatarBucket,
	})
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to create asset store: %w", err)
	}

	synthesizer := synthesis.NewClient(cfg.Synthesis.BaseURL, cfg.Synthesis.Timeout())
	dubber := dubbing.NewClient(cfg.Dubbing.BaseURL, cfg.Dubbing.Timeout())

	pipelineWorker := worker.New(
		jobs,
		blobs,
		assetStore,
		synthesizer,
		dubber,
		worker.Timeouts{
			Synthesis: cfg.Synthesis.Timeout(),
			Dubbing:   cfg.Dubbing.Timeout(),
		},
		cfg.Worker.Concurrency,
		log,
	)

	return &components{
		natsConnection: natsConnection,
		jobs:           jobs,
		blobs:          blobs,
		assets:         assetStore,
		worker:         pipelineWorker,
		server:         api.NewServer(jobs, blobs, log),
	}, nil
}

func (c *components) teardown(log *logger.Logger) {
	drainErr := c.natsConnection.Drain()
	if drainErr != nil {
		log.Error("Failed to drain NATS connection: %v", drainErr)
	}
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return serve(cfg, finalLog)
}

func serve(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := buildComponents(cfg, log)
	if err != nil {
		return err
	}
	defer comps.teardown(log)

	httpServer := &http.Server{
		Addr:              cfg.API.ListenAddress,
		Handler:           comps.server.Handler(),
		ReadHeaderTimeout: httpReadHeaderTimeout,
	}

	log.System("video-service listening on %s with %d worker slot(s)",
		cfg.API.ListenAddress, cfg.Worker.Concurrency)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		serveErr := httpServer.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", serveErr)
		}

		return nil
	})

	group.Go(func() error {
		return comps.worker.Run(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if shutdownErr != nil {
			return fmt.Errorf("http server shutdown failed: %w", shutdownErr)
		}

		return nil
	})

	waitErr := group.Wait()
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
