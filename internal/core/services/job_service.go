package services

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
)

// JobService is the intake and read side: it mints jobs, enqueues them and
// serves token-checked reads.
type JobService struct {
	logger    *slog.Logger
	store     ports.JobStore
	stats     ports.JobStats
	publisher ports.JobPublisher
	now       func() time.Time
}

func NewJobService(logger *slog.Logger, store ports.JobStore, stats ports.JobStats, publisher ports.JobPublisher) *JobService {
	return &JobService{
		logger:    logger,
		store:     store,
		stats:     stats,
		publisher: publisher,
		now:       time.Now,
	}
}

func (s *JobService) SubmitTransform(ctx context.Context, input domain.TransformInput, callbackURI *string) (domain.Job, error) {
	if err := input.Validate(); err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	job := domain.NewTransformJob(newJobID(), newToken(), s.now().UTC(), callbackURI, input)
	return job, s.submit(ctx, job)
}

func (s *JobService) SubmitPreview(ctx context.Context, input domain.PreviewInput, callbackURI *string) (domain.Job, error) {
	if err := input.Validate(); err != nil {
		return domain.Job{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	job := domain.NewPreviewJob(newJobID(), newToken(), s.now().UTC(), callbackURI, input)
	return job, s.submit(ctx, job)
}

// submit writes the record before publishing so a worker never sees an id
// it cannot load.
func (s *JobService) submit(ctx context.Context, job domain.Job) error {
	if err := s.store.Put(ctx, job); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	if err := s.publisher.Publish(ctx, job.Kind, job.ID); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	s.logger.Info("job submitted", "job_id", job.ID, "kind", job.Kind)
	return nil
}

// Get returns the DTO of a job. A wrong kind or token reads as not found.
func (s *JobService) Get(ctx context.Context, kind domain.JobKind, id domain.JobID, token string) (domain.JobDTO, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.JobDTO{}, err
	}
	if job.Kind != kind || subtle.ConstantTimeCompare([]byte(job.Token), []byte(token)) != 1 {
		return domain.JobDTO{}, domain.ErrJobNotFound
	}
	return job.DTO(), nil
}

// Health reports average processing time and count per status.
func (s *JobService) Health(ctx context.Context) ([]domain.StatusMetric, error) {
	if s.stats == nil {
		return []domain.StatusMetric{}, nil
	}
	return s.stats.StatusMetrics(ctx)
}

func newJobID() domain.JobID {
	return domain.JobID(uuid.NewString())
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
