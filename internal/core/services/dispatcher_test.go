package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/manthysbr/pdfmill/internal/adapters/memory"
	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_ConcurrencyLimit(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	queue := memory.NewQueue(5)
	dispatcher := NewDispatcher(logger, queue, DispatcherConfig{
		Kinds:             []domain.JobKind{domain.JobKindTransform},
		PullersPerKind:    4,
		MaxConcurrentJobs: 2,
	})

	var running, peak int32
	var wg sync.WaitGroup
	totalJobs := 6
	wg.Add(totalJobs)

	handler := func(ctx context.Context, d ports.Delivery) {
		current := atomic.AddInt32(&running, 1)
		for {
			max := atomic.LoadInt32(&peak)
			if current <= max || atomic.CompareAndSwapInt32(&peak, max, current) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		assert.NoError(t, d.Ack(ctx))
		wg.Done()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- dispatcher.Run(ctx, func(domain.JobKind) ports.MessageHandler { return handler })
	}()

	for i := 0; i < totalJobs; i++ {
		require.NoError(t, queue.Publish(ctx, domain.JobKindTransform, domain.JobID(fmt.Sprintf("job-%d", i))))
	}
	wg.Wait()
	cancel()
	require.NoError(t, <-done)

	got := atomic.LoadInt32(&peak)
	assert.LessOrEqual(t, got, int32(2), "should not exceed max concurrency")
	assert.Greater(t, got, int32(0))
	assert.Equal(t, int64(totalJobs), queue.Counts().Acks)
}

func TestDispatcher_StopsWhenTransportCloses(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	queue := memory.NewQueue(5)
	dispatcher := NewDispatcher(logger, queue, DispatcherConfig{PullersPerKind: 2})

	var kinds sync.Map
	done := make(chan error, 1)
	go func() {
		done <- dispatcher.Run(context.Background(), func(kind domain.JobKind) ports.MessageHandler {
			kinds.Store(kind, true)
			return func(ctx context.Context, d ports.Delivery) { _ = d.Ack(ctx) }
		})
	}()

	time.Sleep(20 * time.Millisecond)
	queue.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after the queue closed")
	}

	_, preview := kinds.Load(domain.JobKindPreview)
	_, transform := kinds.Load(domain.JobKindTransform)
	assert.True(t, preview)
	assert.True(t, transform)
}
