package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id VARCHAR PRIMARY KEY,
	kind VARCHAR NOT NULL,
	status VARCHAR NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	body VARCHAR NOT NULL
);`

// Repository is a single-node job store. Records older than the retention
// window read as missing and are purged by Run.
type Repository struct {
	db        *sql.DB
	logger    *slog.Logger
	retention time.Duration

	clockMu sync.RWMutex
	now     func() time.Time

	// Serialises read-modify-write transitions within this process; the
	// conditional UPDATE catches writers in other processes.
	mu sync.Mutex
}

// NewRepository opens (or creates) the database at path. An empty path opens
// an in-memory database.
func NewRepository(logger *slog.Logger, path string, retention time.Duration) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Repository{
		db:        db,
		logger:    logger,
		retention: retention,
		now:       time.Now,
	}, nil
}

var (
	_ ports.JobStore = (*Repository)(nil)
	_ ports.JobStats = (*Repository)(nil)
)

// SetClock overrides the time source.
func (r *Repository) SetClock(now func() time.Time) {
	r.clockMu.Lock()
	defer r.clockMu.Unlock()
	r.now = now
}

func (r *Repository) clock() time.Time {
	r.clockMu.RLock()
	defer r.clockMu.RUnlock()
	return r.now().UTC()
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Put(ctx context.Context, job domain.Job) error {
	body, err := job.MarshalJSON()
	if err != nil {
		return err
	}

	query := `
	INSERT INTO jobs (id, kind, status, created_at, updated_at, body)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		kind = excluded.kind,
		status = excluded.status,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		body = excluded.body;
	`
	_, err = r.db.ExecContext(ctx, query,
		string(job.ID), string(job.Kind), string(job.Status),
		job.Created.UTC(), job.Updated.UTC(), string(body),
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id domain.JobID) (domain.Job, error) {
	var body string
	var created time.Time
	err := r.db.QueryRowContext(ctx, `SELECT body, created_at FROM jobs WHERE id = ?`, string(id)).Scan(&body, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if r.expired(created) {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return domain.DecodeJob([]byte(body))
}

func (r *Repository) MarkInProgress(ctx context.Context, id domain.JobID) error {
	return r.update(ctx, id, func(job *domain.Job, now time.Time) error {
		return job.MarkInProgress(now)
	})
}

func (r *Repository) SetReady(ctx context.Context, id domain.JobID, result domain.JobResult) error {
	return r.update(ctx, id, func(job *domain.Job, now time.Time) error {
		return job.Finish(result, now)
	})
}

func (r *Repository) SetError(ctx context.Context, id domain.JobID, message string) error {
	return r.update(ctx, id, func(job *domain.Job, now time.Time) error {
		return job.Fail(message, now)
	})
}

func (r *Repository) update(ctx context.Context, id domain.JobID, apply func(*domain.Job, time.Time) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	from := job.Status
	if err := apply(&job, r.clock()); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return fmt.Errorf("%w: %v", domain.ErrJobNotFound, err)
		}
		return err
	}
	if job.Status == from {
		return nil
	}

	body, err := job.MarshalJSON()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ?, body = ? WHERE id = ? AND status = ?`,
		string(job.Status), job.Updated.UTC(), string(body), string(id), string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s changed status concurrently", domain.ErrJobNotFound, id)
	}
	return nil
}

// StatusMetrics aggregates retained jobs per status in SQL.
func (r *Repository) StatusMetrics(ctx context.Context) ([]domain.StatusMetric, error) {
	query := `
	SELECT status, avg(epoch_ms(updated_at) - epoch_ms(created_at)), count(*)
	FROM jobs
	WHERE created_at > ?
	GROUP BY status
	ORDER BY status`
	rows, err := r.db.QueryContext(ctx, query, r.cutoff())
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	metrics := []domain.StatusMetric{}
	for rows.Next() {
		var status string
		var avg float64
		var count int64
		if err := rows.Scan(&status, &avg, &count); err != nil {
			return nil, err
		}
		metrics = append(metrics, domain.StatusMetric{
			Status:        domain.JobStatus(status),
			AvgTimeMillis: avg,
			Count:         int(count),
		})
	}
	return metrics, rows.Err()
}

// Purge deletes records past the retention window.
func (r *Repository) Purge(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE created_at <= ?`, r.cutoff())
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	return res.RowsAffected()
}

// Run purges expired records every interval until ctx ends.
func (r *Repository) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.Purge(ctx)
			if err != nil {
				r.logger.Error("job purge failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.Info("purged expired jobs", "count", n)
			}
		}
	}
}

func (r *Repository) cutoff() time.Time {
	if r.retention <= 0 {
		return time.Time{}
	}
	return r.clock().Add(-r.retention)
}

func (r *Repository) expired(created time.Time) bool {
	return r.retention > 0 && !created.After(r.cutoff())
}
