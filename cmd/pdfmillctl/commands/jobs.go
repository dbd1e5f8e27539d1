package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/manthysbr/pdfmill/internal/core/domain"
)

// submitOutput carries the token; it is the only way to read the job later.
type submitOutput struct {
	ID     domain.JobID     `json:"id"`
	Token  string           `json:"token"`
	Status domain.JobStatus `json:"status"`
	Self   string           `json:"self"`
}

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "submit <transform|preview>",
		Short:     "Submit a job from a JSON input file",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(domain.JobKindTransform), string(domain.JobKindPreview)},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseJobKind(args[0])
			if err != nil {
				return err
			}
			file, _ := cmd.Flags().GetString("file")
			callback, _ := cmd.Flags().GetString("callback")

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			var cb *string
			if callback != "" {
				cb = &callback
			}

			return withJobs(cmd, func(ctx context.Context, jobs jobsAPI) error {
				job, err := submit(ctx, jobs, kind, data, cb)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), submitOutput{
					ID:     job.ID,
					Token:  job.Token,
					Status: job.Status,
					Self:   domain.SelfRoute(job.Kind, job.ID, job.Token),
				})
			})
		},
	}
	cmd.Flags().StringP("file", "f", "", "JSON file holding the job input")
	cmd.Flags().StringP("callback", "c", "", "URI that receives the finished job")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func submit(ctx context.Context, jobs jobsAPI, kind domain.JobKind, data []byte, cb *string) (domain.Job, error) {
	switch kind {
	case domain.JobKindTransform:
		var input domain.TransformInput
		if err := json.Unmarshal(data, &input); err != nil {
			return domain.Job{}, fmt.Errorf("invalid transform input: %w", err)
		}
		return jobs.SubmitTransform(ctx, input, cb)
	default:
		var input domain.PreviewInput
		if err := json.Unmarshal(data, &input); err != nil {
			return domain.Job{}, fmt.Errorf("invalid preview input: %w", err)
		}
		return jobs.SubmitPreview(ctx, input, cb)
	}
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <transform|preview> <id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseJobKind(args[0])
			if err != nil {
				return err
			}
			token, _ := cmd.Flags().GetString("token")

			return withJobs(cmd, func(ctx context.Context, jobs jobsAPI) error {
				dto, err := jobs.Get(ctx, kind, domain.JobID(args[1]), token)
				if err != nil {
					return fmt.Errorf("error fetching job: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), dto)
			})
		},
	}
	cmd.Flags().StringP("token", "t", "", "Job token returned by submit")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show average processing time and count per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJobs(cmd, func(ctx context.Context, jobs jobsAPI) error {
				metrics, err := jobs.Health(ctx)
				if err != nil {
					return fmt.Errorf("error fetching health: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), metrics)
			})
		},
	}
}
