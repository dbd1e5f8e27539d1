package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/pdfmill/internal/adapters/memory"
	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/services"
)

func TestServer_E2E_SubmitAndGet(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	store := memory.NewJobStore(time.Hour)
	queue := memory.NewQueue(5)
	jobs := services.NewJobService(logger, store, store, queue)
	handler := NewServer(logger, jobs).Handler()
	ctx := context.Background()

	job, err := jobs.SubmitPreview(ctx, domain.PreviewInput{SourceURI: "http://files.local/a.pdf"}, nil)
	require.NoError(t, err)

	// 1. Read with the token
	req := httptest.NewRequest(http.MethodGet, domain.SelfRoute(domain.JobKindPreview, job.ID, job.Token), nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var dto map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dto))
	assert.Equal(t, string(job.ID), dto["id"])
	assert.Equal(t, "PENDING", dto["status"])

	// 2. Wrong token, wrong kind and unknown kind all look missing
	for _, path := range []string{
		domain.SelfRoute(domain.JobKindPreview, job.ID, "nope"),
		domain.SelfRoute(domain.JobKindTransform, job.ID, job.Token),
		"/merge/" + string(job.ID) + "?token=" + job.Token,
		"/preview/" + string(job.ID),
	} {
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	// 3. Health
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var metrics []domain.StatusMetric
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metrics))
	require.Len(t, metrics, 1)
	assert.Equal(t, domain.JobStatusPending, metrics[0].Status)
	assert.Equal(t, 1, metrics[0].Count)

	// 4. Only reads are served
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/preview/x", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

type brokenReader struct{}

func (brokenReader) Get(context.Context, domain.JobKind, domain.JobID, string) (domain.JobDTO, error) {
	return domain.JobDTO{}, errors.New("kv timeout")
}

func (brokenReader) Health(context.Context) ([]domain.StatusMetric, error) {
	return nil, errors.New("kv timeout")
}

func TestServer_StoreFailures(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	handler := NewServer(logger, brokenReader{}).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/transform/abc?token=t", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"job store unavailable"}`, w.Body.String())
}
