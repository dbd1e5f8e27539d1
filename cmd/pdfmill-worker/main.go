package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/pdfmill/internal/adapters/docker"
	"github.com/manthysbr/pdfmill/internal/adapters/duckdb"
	"github.com/manthysbr/pdfmill/internal/adapters/natsjs"
	"github.com/manthysbr/pdfmill/internal/adapters/office"
	"github.com/manthysbr/pdfmill/internal/adapters/pdf"
	"github.com/manthysbr/pdfmill/internal/adapters/s3"
	"github.com/manthysbr/pdfmill/internal/config"
	"github.com/manthysbr/pdfmill/internal/core/ports"
	"github.com/manthysbr/pdfmill/internal/core/services"
	"github.com/manthysbr/pdfmill/pkg/status"
)

const (
	callbackAttempts = 5
	callbackTimeout  = 30 * time.Second
	purgeInterval    = time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	logger.Info("starting pdfmill worker", "config", cfg)

	if err := run(logger, cfg); err != nil {
		logger.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(logger *slog.Logger, cfg config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	nc, err := natsjs.Connect(logger, natsjs.Config{
		URI:        cfg.NATS.URI,
		Stream:     cfg.NATS.Stream,
		Bucket:     cfg.NATS.Bucket,
		MaxAge:     cfg.Retention,
		MaxDeliver: cfg.NATS.MaxDeliver,
		AckWait:    cfg.NATS.AckWait,
	})
	if err != nil {
		return err
	}
	defer nc.Close()

	queue, err := nc.JobQueue(ctx)
	if err != nil {
		return err
	}

	var (
		store  ports.JobStore
		stats  ports.JobStats
		purger *duckdb.Repository
	)
	switch cfg.JobStore {
	case "duckdb":
		repo, err := duckdb.NewRepository(logger, cfg.DuckDBPath, cfg.Retention)
		if err != nil {
			return fmt.Errorf("failed to init repository: %w", err)
		}
		defer repo.Close()
		store, stats, purger = repo, repo, repo
	default:
		kv, err := nc.JobStore(ctx)
		if err != nil {
			return err
		}
		store, stats = kv, kv
	}

	blobs, err := s3.NewBlobStore(logger, s3.Config{
		Endpoint:  cfg.S3.Endpoint,
		Region:    cfg.S3.Region,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Bucket:    cfg.S3.Bucket,
		Expiry:    cfg.Retention,
	})
	if err != nil {
		return err
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return err
	}

	converter, err := newConverter(logger, cfg.Office)
	if err != nil {
		return err
	}

	inspector := pdf.NewInspector(logger, pdf.NewRenderer(cfg.PdftoppmPath, cfg.RenderDPI))
	toolkit := pdf.NewToolkit()

	worker := services.NewConvertWorker(
		logger,
		store,
		services.NewScratchManager(cfg.ScratchDir),
		services.NewDownloader(logger, services.DownloaderConfig{
			Parallelism: cfg.Parallelism,
			Timeout:     cfg.DownloadTimeout,
			InsecureTLS: cfg.DownloadInsecureTLS,
		}),
		services.NewTransformEngine(logger, toolkit, converter, blobs),
		services.NewPreviewEngine(logger, inspector, converter, blobs),
		services.NewCallbackEmitter(logger, services.CallbackConfig{
			Attempts:   callbackAttempts,
			BackoffMin: cfg.CallbackBackoffMin,
			BackoffMax: cfg.CallbackBackoffMax,
			Timeout:    callbackTimeout,
		}),
	)

	dispatcher := services.NewDispatcher(logger, queue, services.DispatcherConfig{
		Kinds:             cfg.NATS.Consumers,
		PullersPerKind:    cfg.PullersPerKind,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
	})

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Job pullers. The process ends with them.
	g.Go(func() error {
		defer cancel()
		return dispatcher.Run(gCtx, worker.Handler)
	})

	// 2. Dead letters
	if cfg.NATS.DLQEnabled {
		dead, err := nc.DeadLetters(ctx)
		if err != nil {
			return err
		}
		drainer := services.NewDLQDrainer(logger, dead, services.FailJob(store))
		g.Go(func() error {
			return drainer.Run(gCtx)
		})
	}

	// 3. Retention for the single-node store
	if purger != nil {
		g.Go(func() error {
			return purger.Run(gCtx, purgeInterval)
		})
	}

	// 4. Status server
	if cfg.StatusAddr != "" {
		jobs := services.NewJobService(logger, store, stats, queue)
		c := cors.New(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"*"},
		})
		httpServer := &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           c.Handler(status.NewServer(logger, jobs).Handler()),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info("starting status server", "addr", cfg.StatusAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("status server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func newConverter(logger *slog.Logger, cfg config.Office) (ports.OfficeConverter, error) {
	switch cfg.Converter {
	case "docker":
		conv, err := docker.NewConverter(logger, cfg.DockerImage, office.DefaultTimeout)
		if err != nil {
			return nil, err
		}
		return conv, nil
	case "none":
		logger.Warn("no office converter configured, only PDF and image sources are accepted")
		return nil, nil
	default:
		return office.NewSofficeConverter(logger, cfg.SofficePath, office.DefaultTimeout), nil
	}
}
