package natsjs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
)

const maxUpdateAttempts = 5

// KVStore keeps job records in a JetStream key/value bucket whose TTL is the
// retention window. Transitions are compare-and-set on the entry revision.
type KVStore struct {
	kv  jetstream.KeyValue
	now func() time.Time
}

// JobStore creates or updates the bucket.
func (c *Client) JobStore(ctx context.Context) (*KVStore, error) {
	kv, err := c.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: c.cfg.Bucket,
		TTL:    c.cfg.MaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", c.cfg.Bucket, err)
	}
	return &KVStore{kv: kv, now: time.Now}, nil
}

var (
	_ ports.JobStore = (*KVStore)(nil)
	_ ports.JobStats = (*KVStore)(nil)
)

func (s *KVStore) Put(ctx context.Context, job domain.Job) error {
	data, err := job.MarshalJSON()
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, string(job.ID), data); err != nil {
		return fmt.Errorf("failed to put job %s: %w", job.ID, err)
	}
	return nil
}

func (s *KVStore) Get(ctx context.Context, id domain.JobID) (domain.Job, error) {
	job, _, err := s.load(ctx, id)
	return job, err
}

func (s *KVStore) MarkInProgress(ctx context.Context, id domain.JobID) error {
	return s.update(ctx, id, func(job *domain.Job, now time.Time) error {
		return job.MarkInProgress(now)
	})
}

func (s *KVStore) SetReady(ctx context.Context, id domain.JobID, result domain.JobResult) error {
	return s.update(ctx, id, func(job *domain.Job, now time.Time) error {
		return job.Finish(result, now)
	})
}

func (s *KVStore) SetError(ctx context.Context, id domain.JobID, message string) error {
	return s.update(ctx, id, func(job *domain.Job, now time.Time) error {
		return job.Fail(message, now)
	})
}

// StatusMetrics walks every live key. Buckets are bounded by the retention
// window so a full scan is acceptable for a health probe.
func (s *KVStore) StatusMetrics(ctx context.Context) ([]domain.StatusMetric, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []domain.StatusMetric{}, nil
		}
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer lister.Stop()

	acc := domain.NewMetricsAccumulator()
	for key := range lister.Keys() {
		job, _, err := s.load(ctx, domain.JobID(key))
		if err != nil {
			continue
		}
		acc.Add(job)
	}
	return acc.Metrics(), nil
}

func (s *KVStore) load(ctx context.Context, id domain.JobID) (domain.Job, uint64, error) {
	entry, err := s.kv.Get(ctx, string(id))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return domain.Job{}, 0, domain.ErrJobNotFound
		}
		return domain.Job{}, 0, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	job, err := domain.DecodeJob(entry.Value())
	if err != nil {
		return domain.Job{}, 0, err
	}
	return job, entry.Revision(), nil
}

func (s *KVStore) update(ctx context.Context, id domain.JobID, apply func(*domain.Job, time.Time) error) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		job, rev, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		from := job.Status
		if err := apply(&job, s.now().UTC()); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				return fmt.Errorf("%w: %v", domain.ErrJobNotFound, err)
			}
			return err
		}
		if job.Status == from {
			return nil
		}

		data, err := job.MarshalJSON()
		if err != nil {
			return err
		}
		_, err = s.kv.Update(ctx, string(id), data, rev)
		if err == nil {
			return nil
		}
		if !isWrongRevision(err) {
			return fmt.Errorf("failed to update job %s: %w", id, err)
		}
		// Someone else wrote first; re-read and re-check the transition.
	}
	return fmt.Errorf("failed to update job %s: revision kept changing", id)
}

func isWrongRevision(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
