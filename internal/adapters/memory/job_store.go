package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
)

// JobStore keeps serialized job records in memory. Records are stored as
// JSON so readers never share state with writers.
type JobStore struct {
	mu        sync.RWMutex
	records   map[domain.JobID]storedRecord
	retention time.Duration
	now       func() time.Time
}

type storedRecord struct {
	data    []byte
	created time.Time
}

func NewJobStore(retention time.Duration) *JobStore {
	return &JobStore{
		records:   make(map[domain.JobID]storedRecord),
		retention: retention,
		now:       time.Now,
	}
}

var (
	_ ports.JobStore = (*JobStore)(nil)
	_ ports.JobStats = (*JobStore)(nil)
)

// SetClock overrides the time source.
func (s *JobStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *JobStore) Put(_ context.Context, job domain.Job) error {
	data, err := job.MarshalJSON()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[job.ID] = storedRecord{data: data, created: s.now()}
	return nil
}

// PutRaw stores bytes as-is.
func (s *JobStore) PutRaw(id domain.JobID, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = storedRecord{data: cp, created: s.now()}
}

func (s *JobStore) Get(_ context.Context, id domain.JobID) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id)
}

func (s *JobStore) MarkInProgress(_ context.Context, id domain.JobID) error {
	return s.update(id, func(job *domain.Job, now time.Time) error {
		return job.MarkInProgress(now)
	})
}

func (s *JobStore) SetReady(_ context.Context, id domain.JobID, result domain.JobResult) error {
	return s.update(id, func(job *domain.Job, now time.Time) error {
		return job.Finish(result, now)
	})
}

func (s *JobStore) SetError(_ context.Context, id domain.JobID, message string) error {
	return s.update(id, func(job *domain.Job, now time.Time) error {
		return job.Fail(message, now)
	})
}

func (s *JobStore) StatusMetrics(_ context.Context) ([]domain.StatusMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc := domain.NewMetricsAccumulator()
	for id := range s.records {
		job, err := s.load(id)
		if err != nil {
			continue
		}
		acc.Add(job)
	}
	return acc.Metrics(), nil
}

func (s *JobStore) update(id domain.JobID, apply func(*domain.Job, time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.load(id)
	if err != nil {
		return err
	}
	if err := apply(&job, s.now()); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return fmt.Errorf("%w: %v", domain.ErrJobNotFound, err)
		}
		return err
	}
	data, err := job.MarshalJSON()
	if err != nil {
		return err
	}
	rec := s.records[id]
	rec.data = data
	s.records[id] = rec
	return nil
}

// load must be called with the lock held.
func (s *JobStore) load(id domain.JobID) (domain.Job, error) {
	rec, ok := s.records[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if s.retention > 0 && s.now().Sub(rec.created) >= s.retention {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return domain.DecodeJob(rec.data)
}
