package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
)

// ConvertWorker drives one delivery of a job message from the stored record to
// a terminal status, a callback and a settled message.
type ConvertWorker struct {
	logger     *slog.Logger
	store      ports.JobStore
	scratch    *ScratchManager
	downloader *Downloader
	transform  *TransformEngine
	preview    *PreviewEngine
	callback   *CallbackEmitter
}

func NewConvertWorker(
	logger *slog.Logger,
	store ports.JobStore,
	scratch *ScratchManager,
	downloader *Downloader,
	transform *TransformEngine,
	preview *PreviewEngine,
	callback *CallbackEmitter,
) *ConvertWorker {
	return &ConvertWorker{
		logger:     logger,
		store:      store,
		scratch:    scratch,
		downloader: downloader,
		transform:  transform,
		preview:    preview,
		callback:   callback,
	}
}

// settleTimeout bounds the final ack so it survives shutdown.
const settleTimeout = 5 * time.Second

type settlement int

const (
	settleAck settlement = iota
	settleNak
	settleTerm
)

func (s settlement) String() string {
	switch s {
	case settleAck:
		return "ack"
	case settleNak:
		return "nak"
	default:
		return "term"
	}
}

// Handler binds the worker to one job kind.
func (w *ConvertWorker) Handler(kind domain.JobKind) ports.MessageHandler {
	return func(ctx context.Context, d ports.Delivery) {
		w.Handle(ctx, kind, d)
	}
}

// Handle processes and settles exactly one delivery. A panic anywhere in the
// attempt is settled as Nak after the scratch directory is removed.
func (w *ConvertWorker) Handle(ctx context.Context, kind domain.JobKind, d ports.Delivery) {
	logger := w.logger.With("kind", kind, "attempt", d.NumDelivered())

	verdict := settleNak
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job attempt panicked", "panic", r)
			verdict = settleNak
		}
		w.settle(ctx, logger, d, verdict)
	}()

	var err error
	verdict, err = w.process(ctx, kind, d, logger)
	if err != nil {
		logger.Warn("job attempt did not complete", "settle", verdict.String(), "error", err)
	}
}

func (w *ConvertWorker) settle(ctx context.Context, logger *slog.Logger, d ports.Delivery, s settlement) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	var err error
	switch s {
	case settleAck:
		err = d.Ack(ctx)
	case settleTerm:
		err = d.Term(ctx)
	default:
		err = d.Nak(ctx)
	}
	if err != nil {
		logger.Error("failed to settle message", "settle", s.String(), "error", err)
	}
}

func (w *ConvertWorker) process(ctx context.Context, kind domain.JobKind, d ports.Delivery, logger *slog.Logger) (settlement, error) {
	msg, err := domain.DecodeJobMessage(d.Data())
	if err != nil {
		return settleTerm, err
	}
	logger = logger.With("job_id", msg.ID)

	job, err := w.store.Get(ctx, msg.ID)
	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrMalformedJob):
		return settleTerm, err
	case err != nil:
		return settleNak, fmt.Errorf("failed to load job: %w", err)
	}

	if job.Kind != kind {
		return settleTerm, fmt.Errorf("%w: %s job on %s subject", domain.ErrMalformedJob, job.Kind, kind)
	}

	// A redelivery after the terminal write but before the ack.
	if job.Status.Terminal() {
		logger.Info("job already terminal, resending callback", "status", job.Status)
		w.callback.Send(ctx, job)
		return settleAck, nil
	}

	if err := w.store.MarkInProgress(ctx, job.ID); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return settleTerm, err
		}
		return settleNak, fmt.Errorf("failed to mark job in progress: %w", err)
	}
	logger.Info("job started")

	dir, err := w.scratch.Build(job.ID)
	if err != nil {
		return settleNak, err
	}
	defer func() {
		if err := dir.CleanUp(); err != nil {
			logger.Warn("scratch cleanup failed", "dir", dir.Root(), "error", err)
		}
	}()

	if err := d.Progress(ctx); err != nil {
		return settleNak, fmt.Errorf("failed to extend ack deadline: %w", err)
	}

	result, err := w.run(ctx, job, d, dir)
	var jobErr *domain.JobError
	switch {
	case errors.As(err, &jobErr):
		logger.Info("job failed", "message", jobErr.Message, "error", err)
		err = w.store.SetError(ctx, job.ID, jobErr.Message)
	case err != nil:
		return settleNak, err
	default:
		err = w.store.SetReady(ctx, job.ID, result)
	}
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			logger.Warn("job left in progress by another attempt", "error", err)
			return settleAck, nil
		}
		return settleNak, fmt.Errorf("failed to record outcome: %w", err)
	}

	final, err := w.store.Get(ctx, job.ID)
	if err != nil {
		logger.Warn("failed to reload job for callback", "error", err)
		return settleAck, nil
	}
	w.callback.Send(ctx, final)
	logger.Info("job completed", "status", final.Status)
	return settleAck, nil
}

func (w *ConvertWorker) run(ctx context.Context, job domain.Job, d ports.Delivery, dir *ScratchDir) (domain.JobResult, error) {
	switch job.Kind {
	case domain.JobKindTransform:
		return w.runTransform(ctx, job, d, dir)
	case domain.JobKindPreview:
		return w.runPreview(ctx, job, d, dir)
	default:
		return domain.JobResult{}, fmt.Errorf("%w: unknown kind %q", domain.ErrMalformedJob, job.Kind)
	}
}

func (w *ConvertWorker) runTransform(ctx context.Context, job domain.Job, d ports.Delivery, dir *ScratchDir) (domain.JobResult, error) {
	input := job.Input.Transform
	results := w.downloader.DownloadSources(ctx, input.SourceFiles, dir)

	files := make([]DownloadedFile, 0, len(results))
	for i, r := range results {
		if r.Err != nil {
			return domain.JobResult{}, downloadError(ctx, input.SourceFiles[i].ID, r.Err)
		}
		files = append(files, r.File)
	}

	if err := d.Progress(ctx); err != nil {
		return domain.JobResult{}, fmt.Errorf("failed to extend ack deadline: %w", err)
	}

	res, err := w.transform.Transform(ctx, job.ID, input.Documents, files, dir)
	if err != nil {
		return domain.JobResult{}, err
	}
	return domain.JobResult{Transform: res}, nil
}

func (w *ConvertWorker) runPreview(ctx context.Context, job domain.Job, d ports.Delivery, dir *ScratchDir) (domain.JobResult, error) {
	input := job.Input.Preview
	data, contentType, err := w.downloader.DownloadBytes(ctx, input.SourceURI, input.SourceMimeType)
	if err != nil {
		return domain.JobResult{}, downloadError(ctx, input.SourceURI, err)
	}

	if err := d.Progress(ctx); err != nil {
		return domain.JobResult{}, fmt.Errorf("failed to extend ack deadline: %w", err)
	}

	res, err := w.preview.Preview(ctx, job.ID, *input, data, contentType, dir)
	if err != nil {
		return domain.JobResult{}, err
	}
	return domain.JobResult{Preview: res}, nil
}

// downloadError makes a fetch failure terminal for the job unless the worker
// itself is shutting down.
func downloadError(ctx context.Context, source string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("download interrupted: %w", err)
	}
	return domain.WrapJobError(fmt.Sprintf(domain.MsgDownloadFailedPattern, source), err)
}
