package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/pdfmill/internal/adapters/memory"
	"github.com/manthysbr/pdfmill/internal/config"
	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/services"
)

// setupCommand points the CLI at an in-memory job service.
func setupCommand(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	store := memory.NewJobStore(time.Hour)
	jobs := services.NewJobService(logger, store, store, memory.NewQueue(5))

	original := openJobs
	openJobs = func(context.Context) (jobsAPI, func(), error) {
		return jobs, func() {}, nil
	}
	t.Cleanup(func() { openJobs = original })

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	return out
}

func run(t *testing.T, out *bytes.Buffer, args ...string) error {
	t.Helper()
	out.Reset()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestSubmitAndGet(t *testing.T) {
	out := setupCommand(t)

	input := filepath.Join(t.TempDir(), "preview.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"sourceUri":"http://files.local/a.pdf","png":true}`), 0o600))

	require.NoError(t, run(t, out, "submit", "preview", "-f", input, "-c", "http://hooks.local/done"))
	var submitted submitOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &submitted))
	assert.NotEmpty(t, submitted.ID)
	assert.NotEmpty(t, submitted.Token)
	assert.Equal(t, domain.JobStatusPending, submitted.Status)
	assert.True(t, strings.HasPrefix(submitted.Self, "/preview/"+string(submitted.ID)))

	require.NoError(t, run(t, out, "get", "preview", string(submitted.ID), "--token", submitted.Token))
	var dto map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &dto))
	assert.Equal(t, string(submitted.ID), dto["id"])
	assert.Equal(t, "PENDING", dto["status"])

	err := run(t, out, "get", "preview", string(submitted.ID), "--token", "wrong")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	require.NoError(t, run(t, out, "health"))
	var metrics []domain.StatusMetric
	require.NoError(t, json.Unmarshal(out.Bytes(), &metrics))
	require.Len(t, metrics, 1)
	assert.Equal(t, 1, metrics[0].Count)
}

func TestSubmit_Rejects(t *testing.T) {
	out := setupCommand(t)
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"sourceFiles":`), 0o600))
	assert.Error(t, run(t, out, "submit", "transform", "-f", bad))

	dup := filepath.Join(dir, "dup.json")
	require.NoError(t, os.WriteFile(dup, []byte(`{"sourceFiles":[{"id":"a","uri":"http://x/a"},{"id":"a","uri":"http://x/b"}],"documents":[]}`), 0o600))
	err := run(t, out, "submit", "transform", "-f", dup)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Error(t, run(t, out, "submit", "merge", "-f", dup))
	assert.Error(t, run(t, out, "submit", "preview", "-f", filepath.Join(dir, "missing.json")))
}

func TestSecretEncrypt(t *testing.T) {
	out := setupCommand(t)
	t.Setenv("PDFMILL_SECRET_KEY", "passphrase")

	require.NoError(t, run(t, out, "secret", "encrypt", "s3-secret"))
	sealed := strings.TrimSpace(out.String())
	assert.True(t, strings.HasPrefix(sealed, "enc:"))

	plain, err := config.NewSecretKey("passphrase").Reveal(sealed)
	require.NoError(t, err)
	assert.Equal(t, "s3-secret", plain)

	t.Setenv("PDFMILL_SECRET_KEY", "")
	assert.Error(t, run(t, out, "secret", "encrypt", "x"))
}
