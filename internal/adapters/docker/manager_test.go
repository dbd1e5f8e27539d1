package docker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConverter_Classify(t *testing.T) {
	c := &Converter{timeout: 30 * time.Second}
	boom := errors.New("boom")

	t.Run("converter deadline", func(t *testing.T) {
		run, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-run.Done()
		err := c.classify(context.Background(), run, boom)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("caller cancelled", func(t *testing.T) {
		parent, cancel := context.WithCancel(context.Background())
		cancel()
		err := c.classify(parent, parent, boom)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("other failure", func(t *testing.T) {
		err := c.classify(context.Background(), context.Background(), boom)
		assert.Equal(t, boom, err)
	})
}

// TestConverter_Integration needs a reachable Docker daemon and the
// converter image.
func TestConverter_Integration(t *testing.T) {
	image := os.Getenv("PDFMILL_DOCKER_IMAGE")
	if image == "" {
		t.Skip("PDFMILL_DOCKER_IMAGE not set")
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	conv, err := NewConverter(logger, image, time.Minute)
	require.NoError(t, err)

	dir := t.TempDir()
	src := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	out, err := conv.ConvertToPDF(context.Background(), src, t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, len(data) > 4 && string(data[:4]) == "%PDF")
}
