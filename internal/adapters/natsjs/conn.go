package natsjs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// streamMaxMsgs caps the job stream, its mirror and the DLQ stream.
const streamMaxMsgs = 10_000

type Config struct {
	URI        string
	Stream     string
	Bucket     string
	MaxAge     time.Duration
	MaxDeliver int
	AckWait    time.Duration
	// FetchWait bounds each pull; it is also the shutdown latency of a
	// subscribe loop.
	FetchWait time.Duration
}

// Client owns the NATS connection shared by the job store, the job queue and
// the dead letter source.
type Client struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
	cfg    Config
}

func Connect(logger *slog.Logger, cfg Config) (*Client, error) {
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = 5 * time.Second
	}

	nc, err := nats.Connect(cfg.URI,
		nats.Name("pdfmill-worker"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Warn("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.URI, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open jetstream: %w", err)
	}

	return &Client{nc: nc, js: js, logger: logger, cfg: cfg}, nil
}

func (c *Client) Close() {
	c.nc.Close()
}

// pull fetches one message at a time and hands it to handle. It returns nil
// once ctx ends or the connection is closed for good.
func (c *Client) pull(ctx context.Context, cons jetstream.Consumer, handle func(jetstream.Msg)) error {
	for {
		if ctx.Err() != nil || c.nc.IsClosed() {
			return nil
		}

		batch, err := cons.Fetch(1, jetstream.FetchMaxWait(c.cfg.FetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrConnectionClosed) {
				return nil
			}
			c.logger.Warn("fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for msg := range batch.Messages() {
			handle(msg)
		}
		if err := batch.Error(); err != nil && !isIdle(err) {
			c.logger.Warn("fetch ended with error", "error", err)
		}
	}
}

// isIdle reports errors that only mean no message arrived in time.
func isIdle(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, jetstream.ErrNoMessages)
}
