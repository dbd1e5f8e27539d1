package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/manthysbr/pdfmill/internal/core/domain"
)

const defaultCallbackAttempts = 5

type CallbackConfig struct {
	Attempts   int
	BackoffMin time.Duration
	BackoffMax time.Duration
	Timeout    time.Duration
}

// CallbackEmitter posts the terminal job DTO to the caller's callback URI.
// Delivery is best effort: receivers must be idempotent by job id.
type CallbackEmitter struct {
	logger *slog.Logger
	client *retryablehttp.Client
}

func NewCallbackEmitter(logger *slog.Logger, cfg CallbackConfig) *CallbackEmitter {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = defaultCallbackAttempts
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := retryablehttp.NewClient()
	client.RetryMax = attempts - 1
	client.RetryWaitMin = cfg.BackoffMin
	client.RetryWaitMax = cfg.BackoffMax
	client.HTTPClient.Timeout = timeout
	client.Logger = logger
	client.CheckRetry = retryUnlessSuccess

	return &CallbackEmitter{logger: logger, client: client}
}

// retryUnlessSuccess retries transport errors and every non-2xx response.
func retryUnlessSuccess(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return resp.StatusCode < 200 || resp.StatusCode > 299, nil
}

// Send posts job.DTO(). It is a no-op without a callback URI. Failures are
// logged and swallowed.
func (c *CallbackEmitter) Send(ctx context.Context, job domain.Job) {
	if job.CallbackURI == nil || *job.CallbackURI == "" {
		return
	}
	logger := c.logger.With("job_id", job.ID, "callback_uri", *job.CallbackURI)

	if err := c.post(ctx, *job.CallbackURI, job.DTO()); err != nil {
		logger.Warn("callback delivery failed", "error", err)
		return
	}
	logger.Info("callback delivered", "status", job.Status)
}

func (c *CallbackEmitter) post(ctx context.Context, uri string, dto domain.JobDTO) error {
	body, err := json.Marshal(dto)
	if err != nil {
		return fmt.Errorf("failed to marshal job dto: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, uri, body)
	if err != nil {
		return fmt.Errorf("invalid callback uri: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
