package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/manthysbr/pdfmill/internal/adapters/duckdb"
	"github.com/manthysbr/pdfmill/internal/adapters/natsjs"
	"github.com/manthysbr/pdfmill/internal/config"
	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
	"github.com/manthysbr/pdfmill/internal/core/services"
)

// jobsAPI is the part of the job service the CLI drives.
type jobsAPI interface {
	SubmitTransform(ctx context.Context, input domain.TransformInput, callbackURI *string) (domain.Job, error)
	SubmitPreview(ctx context.Context, input domain.PreviewInput, callbackURI *string) (domain.Job, error)
	Get(ctx context.Context, kind domain.JobKind, id domain.JobID, token string) (domain.JobDTO, error)
	Health(ctx context.Context) ([]domain.StatusMetric, error)
}

// openJobs connects to the broker and job store named by the environment.
// The returned func releases them. Tests replace it.
var openJobs = func(ctx context.Context) (jobsAPI, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	nc, err := natsjs.Connect(logger, natsjs.Config{
		URI:        cfg.NATS.URI,
		Stream:     cfg.NATS.Stream,
		Bucket:     cfg.NATS.Bucket,
		MaxAge:     cfg.Retention,
		MaxDeliver: cfg.NATS.MaxDeliver,
		AckWait:    cfg.NATS.AckWait,
	})
	if err != nil {
		return nil, nil, err
	}
	queue, err := nc.JobQueue(ctx)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	var (
		store ports.JobStore
		stats ports.JobStats
	)
	release := nc.Close
	if cfg.JobStore == "duckdb" {
		repo, err := duckdb.NewRepository(logger, cfg.DuckDBPath, cfg.Retention)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		store, stats = repo, repo
		release = func() {
			repo.Close()
			nc.Close()
		}
	} else {
		kv, err := nc.JobStore(ctx)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		store, stats = kv, kv
	}

	return services.NewJobService(logger, store, stats, queue), release, nil
}

var rootCmd = &cobra.Command{
	Use:           "pdfmillctl",
	Short:         "pdfmillctl submits and inspects pdfmill jobs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newSubmitCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newHealthCmd())
	rootCmd.AddCommand(newSecretCmd())
}

// NewRootCmd returns the command tree.
func NewRootCmd() *cobra.Command {
	return rootCmd
}

func Execute() error {
	return rootCmd.Execute()
}

// withJobs opens the job service for the duration of fn.
func withJobs(cmd *cobra.Command, fn func(context.Context, jobsAPI) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	jobs, release, err := openJobs(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, jobs)
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
