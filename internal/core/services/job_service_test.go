package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/manthysbr/pdfmill/internal/adapters/memory"
	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, domain.JobKind, domain.JobID) error {
	return errors.New("stream unavailable")
}

func newJobServiceFixture(t *testing.T) (*JobService, *memory.JobStore, *memory.Queue) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	store := memory.NewJobStore(time.Hour)
	queue := memory.NewQueue(5)
	return NewJobService(logger, store, store, queue), store, queue
}

func TestJobService_SubmitTransform(t *testing.T) {
	svc, store, queue := newJobServiceFixture(t)
	ctx := context.Background()
	cb := "http://callback.local/hook"

	job, err := svc.SubmitTransform(ctx, domain.TransformInput{
		SourceFiles: []domain.SourceFile{{ID: "s1", URI: "http://files.local/a.pdf"}},
		Documents:   []domain.Document{{ID: "d1", Parts: []domain.Part{{SourceFile: "s1"}}}},
	}, &cb)
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.NotEmpty(t, job.Token)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	stored, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Token, stored.Token)
	assert.Equal(t, cb, *stored.CallbackURI)

	// The published message carries only the id.
	var seen domain.JobID
	qctx, cancel := context.WithCancel(ctx)
	go func() {
		_ = queue.Subscribe(qctx, domain.JobKindTransform, func(ctx context.Context, d ports.Delivery) {
			msg, err := domain.DecodeJobMessage(d.Data())
			if assert.NoError(t, err) {
				seen = msg.ID
			}
			_ = d.Ack(ctx)
			cancel()
		})
	}()
	<-qctx.Done()
	require.Eventually(t, func() bool { return queue.Counts().Acks == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, job.ID, seen)
}

func TestJobService_RejectsInvalidInput(t *testing.T) {
	svc, _, _ := newJobServiceFixture(t)

	_, err := svc.SubmitTransform(context.Background(), domain.TransformInput{
		Documents: []domain.Document{{ID: "d1", Parts: []domain.Part{{SourceFile: "nope"}}}},
	}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.SubmitPreview(context.Background(), domain.PreviewInput{}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestJobService_PublishFailure(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	store := memory.NewJobStore(time.Hour)
	svc := NewJobService(logger, store, store, failingPublisher{})

	_, err := svc.SubmitPreview(context.Background(), domain.PreviewInput{SourceURI: "http://files.local/a.pdf"}, nil)
	assert.ErrorContains(t, err, "failed to enqueue job")
}

func TestJobService_GetChecksKindAndToken(t *testing.T) {
	svc, _, _ := newJobServiceFixture(t)
	ctx := context.Background()

	job, err := svc.SubmitPreview(ctx, domain.PreviewInput{SourceURI: "http://files.local/a.pdf"}, nil)
	require.NoError(t, err)

	dto, err := svc.Get(ctx, domain.JobKindPreview, job.ID, job.Token)
	require.NoError(t, err)
	assert.Equal(t, job.ID, dto.ID)
	assert.Equal(t, domain.JobStatusPending, dto.Status)
	assert.Equal(t, domain.SelfRoute(domain.JobKindPreview, job.ID, job.Token), dto.Links.Self)

	_, err = svc.Get(ctx, domain.JobKindPreview, job.ID, "wrong")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = svc.Get(ctx, domain.JobKindTransform, job.ID, job.Token)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = svc.Get(ctx, domain.JobKindPreview, "missing", job.Token)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobService_Health(t *testing.T) {
	svc, store, _ := newJobServiceFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	store.SetClock(func() time.Time { return clock })
	svc.now = func() time.Time { return base }

	a, err := svc.SubmitPreview(ctx, domain.PreviewInput{SourceURI: "http://x/a.pdf"}, nil)
	require.NoError(t, err)
	_, err = svc.SubmitPreview(ctx, domain.PreviewInput{SourceURI: "http://x/b.pdf"}, nil)
	require.NoError(t, err)

	clock = base.Add(2 * time.Second)
	require.NoError(t, store.MarkInProgress(ctx, a.ID))
	clock = base.Add(4 * time.Second)
	require.NoError(t, store.SetError(ctx, a.ID, "boom"))

	metrics, err := svc.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.StatusMetric{
		{Status: domain.JobStatusError, AvgTimeMillis: 4000, Count: 1},
		{Status: domain.JobStatusPending, AvgTimeMillis: 0, Count: 1},
	}, metrics)
}
