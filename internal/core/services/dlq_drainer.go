package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
)

// DeadJobHandler runs once per job whose message left the queue without a
// terminal outcome.
type DeadJobHandler func(ctx context.Context, id domain.JobID) error

// DLQDrainer resolves dead-letter advisories back to job ids.
type DLQDrainer struct {
	logger  *slog.Logger
	source  ports.DeadLetterSource
	handler DeadJobHandler
}

func NewDLQDrainer(logger *slog.Logger, source ports.DeadLetterSource, handler DeadJobHandler) *DLQDrainer {
	return &DLQDrainer{logger: logger, source: source, handler: handler}
}

// FailJob is the usual DeadJobHandler: the job is marked Error unless it
// already reached a terminal status. Missing and undecodable records cannot
// be failed and count as resolved.
func FailJob(store ports.JobStore) DeadJobHandler {
	return func(ctx context.Context, id domain.JobID) error {
		err := store.SetError(ctx, id, domain.MsgRetryBudgetExceeded)
		if errors.Is(err, domain.ErrJobNotFound) || errors.Is(err, domain.ErrMalformedJob) {
			return nil
		}
		return err
	}
}

// Run drains advisories until ctx ends or the source closes.
func (d *DLQDrainer) Run(ctx context.Context) error {
	d.logger.Info("dlq drainer started")
	defer d.logger.Info("dlq drainer stopped")
	return d.source.Subscribe(ctx, d.drain)
}

func (d *DLQDrainer) drain(ctx context.Context, dl ports.DeadLetter) {
	logger := d.logger.With("stream_seq", dl.StreamSeq())

	id, err := d.resolve(ctx, dl)
	if err != nil {
		// Nothing can be done for an advisory whose message is gone.
		logger.Warn("dropping dead letter", "error", err)
		if err := dl.Ack(ctx); err != nil {
			logger.Error("failed to ack dead letter", "error", err)
		}
		return
	}
	logger = logger.With("job_id", id)

	if err := d.handler(ctx, id); err != nil {
		logger.Error("dead job handler failed", "error", err)
		if err := dl.Nak(ctx); err != nil {
			logger.Error("failed to nak dead letter", "error", err)
		}
		return
	}

	if err := dl.Ack(ctx); err != nil {
		logger.Error("failed to ack dead letter", "error", err)
		return
	}
	logger.Info("dead job resolved")
}

func (d *DLQDrainer) resolve(ctx context.Context, dl ports.DeadLetter) (domain.JobID, error) {
	payload, err := dl.Payload(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch original message: %w", err)
	}
	msg, err := domain.DecodeJobMessage(payload)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}
