package natsjs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/manthysbr/pdfmill/internal/core/ports"
)

const (
	dlqConsumer = "dlq"
	dlqNakDelay = 5 * time.Second
	// An advisory the store keeps rejecting is dropped after this many tries.
	dlqMaxDeliver = 20
)

// DeadLetters captures max-delivery and termination advisories of every
// consumer on the job stream, and resolves them through a mirror of it.
type DeadLetters struct {
	client *Client
	dlq    jetstream.Stream
	mirror jetstream.Stream
}

// DeadLetters creates or updates <stream>-mirror and <stream>-dlq.
func (c *Client) DeadLetters(ctx context.Context) (*DeadLetters, error) {
	source := c.cfg.Stream
	mirror, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:    source + "-mirror",
		MaxMsgs: streamMaxMsgs,
		MaxAge:  c.cfg.MaxAge,
		Mirror:  &jetstream.StreamSource{Name: source},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mirror of %s: %w", source, err)
	}

	dlq, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      source + "-dlq",
		Subjects:  AdvisorySubjects(source),
		Retention: jetstream.WorkQueuePolicy,
		MaxMsgs:   streamMaxMsgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dlq of %s: %w", source, err)
	}

	return &DeadLetters{client: c, dlq: dlq, mirror: mirror}, nil
}

var _ ports.DeadLetterSource = (*DeadLetters)(nil)

// AdvisorySubjects match the advisories of any consumer of stream.
func AdvisorySubjects(stream string) []string {
	return []string{
		"$JS.EVENT.ADVISORY.CONSUMER.MAX_DELIVERIES." + stream + ".*",
		"$JS.EVENT.ADVISORY.CONSUMER.MSG_TERMINATED." + stream + ".*",
	}
}

func (d *DeadLetters) Subscribe(ctx context.Context, handler func(context.Context, ports.DeadLetter)) error {
	cons, err := d.dlq.CreateOrUpdateConsumer(ctx, dlqConsumerConfig(d.client.cfg.AckWait))
	if err != nil {
		return fmt.Errorf("failed to create dlq consumer: %w", err)
	}

	return d.client.pull(ctx, cons, func(msg jetstream.Msg) {
		handler(ctx, &deadLetter{msg: msg, mirror: d.mirror, advisory: parseAdvisory(msg.Data())})
	})
}

func dlqConsumerConfig(ackWait time.Duration) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:    dlqConsumer,
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    ackWait,
		MaxDeliver: dlqMaxDeliver,
	}
}

// advisory is the part of a JetStream consumer advisory the drainer needs.
type advisory struct {
	Type      string `json:"type"`
	Stream    string `json:"stream"`
	Consumer  string `json:"consumer"`
	StreamSeq uint64 `json:"stream_seq"`
}

func parseAdvisory(data []byte) advisory {
	var a advisory
	_ = json.Unmarshal(data, &a)
	return a
}

type deadLetter struct {
	msg      jetstream.Msg
	mirror   jetstream.Stream
	advisory advisory
}

func (d *deadLetter) StreamSeq() uint64 { return d.advisory.StreamSeq }

// Payload reads the original message from the mirror; mirrors keep the
// source's sequence numbers.
func (d *deadLetter) Payload(ctx context.Context) ([]byte, error) {
	if d.advisory.StreamSeq == 0 {
		return nil, fmt.Errorf("advisory %q from consumer %q has no stream sequence", d.advisory.Type, d.advisory.Consumer)
	}
	raw, err := d.mirror.GetMsg(ctx, d.advisory.StreamSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to read message %d from mirror: %w", d.advisory.StreamSeq, err)
	}
	return raw.Data, nil
}

func (d *deadLetter) Ack(ctx context.Context) error { return d.msg.DoubleAck(ctx) }
func (d *deadLetter) Nak(context.Context) error     { return d.msg.NakWithDelay(dlqNakDelay) }
