package memory

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
)

func TestJobStore_TransitionsAndRetention(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewJobStore(time.Hour)
	store.SetClock(func() time.Time { return clock })

	job := domain.NewTransformJob("t-1", "tok", clock, nil, domain.TransformInput{
		SourceFiles: []domain.SourceFile{{ID: "s", URI: "http://files.local/a.pdf"}},
		Documents:   []domain.Document{{ID: "d"}},
	})
	require.NoError(t, store.Put(ctx, job))

	err := store.SetReady(ctx, "t-1", domain.JobResult{Transform: domain.TransformResult{}})
	assert.ErrorIs(t, err, domain.ErrJobNotFound, "pending cannot finish")

	clock = clock.Add(2 * time.Second)
	require.NoError(t, store.MarkInProgress(ctx, "t-1"))
	require.NoError(t, store.SetError(ctx, "t-1", "Could not download source file s."))

	got, err := store.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, got.Status)
	require.NotNil(t, got.Message)
	assert.Equal(t, "Could not download source file s.", *got.Message)

	assert.ErrorIs(t, store.MarkInProgress(ctx, "t-1"), domain.ErrJobNotFound)

	metrics, err := store.StatusMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.StatusMetric{{Status: domain.JobStatusError, AvgTimeMillis: 2000, Count: 1}}, metrics)

	clock = clock.Add(time.Hour)
	_, err = store.Get(ctx, "t-1")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobStore_Malformed(t *testing.T) {
	store := NewJobStore(0)
	store.PutRaw("bad", []byte(`{"id":`))
	_, err := store.Get(context.Background(), "bad")
	assert.ErrorIs(t, err, domain.ErrMalformedJob)

	_, err = store.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestBlobStore_Store(t *testing.T) {
	store := NewBlobStore("bucket", 25*time.Hour)

	raw, err := store.Store(context.Background(), "job-1", "report.pdf", "", []byte("%PDF"))
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "memory", u.Scheme)
	assert.Equal(t, `attachment; filename="report.pdf"`, u.Query().Get("response-content-disposition"))
	assert.Equal(t, "90000", u.Query().Get("X-Amz-Expires"))

	blob, ok := store.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, domain.MimeOctetStream, blob.ContentType)
	assert.Equal(t, []string{"job-1"}, store.Keys())

	store.FailWith(errors.New("s3 down"))
	_, err = store.Store(context.Background(), "job-2", "x", "", nil)
	assert.EqualError(t, err, "s3 down")
}

func TestQueue_RedeliveryAndDeadLetters(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := NewQueue(2)
	require.NoError(t, q.Publish(ctx, domain.JobKindPreview, "p-1"))
	require.NoError(t, q.PublishRaw(ctx, domain.JobKindPreview, []byte("junk")))

	var attempts []uint64
	handler := func(ctx context.Context, d ports.Delivery) {
		attempts = append(attempts, d.NumDelivered())
		assert.NoError(t, d.Progress(ctx))
		if string(d.Data()) == "junk" {
			assert.NoError(t, d.Term(ctx))
			return
		}
		assert.NoError(t, d.Nak(ctx))
		assert.Error(t, d.Ack(ctx), "settles once")
	}

	// p-1 is delivered twice, junk once.
	subCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- q.Subscribe(subCtx, domain.JobKindPreview, handler) }()
	require.Eventually(t, func() bool { return q.DeadLetters().Pending() == 2 }, 2*time.Second, 5*time.Millisecond)
	stop()
	require.NoError(t, <-done)

	assert.ElementsMatch(t, []uint64{1, 1, 2}, attempts)
	assert.Equal(t, Counts{Acks: 0, Naks: 2, Terms: 1, Progress: 3}, q.Counts())

	payloads := make(chan string, 2)
	lane := q.DeadLetters()
	go func() {
		_ = lane.Subscribe(ctx, func(ctx context.Context, dl ports.DeadLetter) {
			data, err := dl.Payload(ctx)
			assert.NoError(t, err)
			payloads <- string(data)
			assert.NoError(t, dl.Ack(ctx))
		})
	}()
	require.Eventually(t, func() bool { return lane.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	q.Close()

	want, _ := json.Marshal(domain.JobMessage{ID: "p-1"})
	got := []string{<-payloads, <-payloads}
	assert.ElementsMatch(t, []string{string(want), "junk"}, got)
}

func TestQueue_CloseStopsSubscribers(t *testing.T) {
	q := NewQueue(1)
	done := make(chan error, 1)
	go func() {
		done <- q.Subscribe(context.Background(), domain.JobKindTransform, func(context.Context, ports.Delivery) {})
	}()
	q.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not return after close")
	}
}
