package natsjs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
)

// Queue publishes job ids on <stream>.<kind> and pulls them through one
// durable consumer per kind.
type Queue struct {
	client *Client
	stream jetstream.Stream
}

// JobQueue creates or updates the job stream. Messages leave the stream once
// every interested consumer acknowledged them.
func (c *Client) JobQueue(ctx context.Context) (*Queue, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  []string{c.cfg.Stream + ".*"},
		Retention: jetstream.InterestPolicy,
		MaxMsgs:   streamMaxMsgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stream %s: %w", c.cfg.Stream, err)
	}
	return &Queue{client: c, stream: stream}, nil
}

var _ ports.JobQueue = (*Queue)(nil)

func Subject(stream string, kind domain.JobKind) string {
	return stream + "." + string(kind)
}

func (q *Queue) Publish(ctx context.Context, kind domain.JobKind, id domain.JobID) error {
	data, err := json.Marshal(domain.JobMessage{ID: id})
	if err != nil {
		return err
	}
	if _, err := q.client.js.Publish(ctx, Subject(q.client.cfg.Stream, kind), data); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", id, err)
	}
	return nil
}

func (q *Queue) Subscribe(ctx context.Context, kind domain.JobKind, handler ports.MessageHandler) error {
	cfg := q.client.cfg
	cons, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       string(kind),
		FilterSubject: Subject(cfg.Stream, kind),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer %s: %w", kind, err)
	}

	q.client.logger.Info("subscribed", "subject", Subject(cfg.Stream, kind), "consumer", kind)
	return q.client.pull(ctx, cons, func(msg jetstream.Msg) {
		handler(ctx, newDelivery(msg))
	})
}
