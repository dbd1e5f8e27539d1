package natsjs

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/manthysbr/pdfmill/internal/core/ports"
)

type delivery struct {
	msg       jetstream.Msg
	delivered uint64
}

func newDelivery(msg jetstream.Msg) *delivery {
	d := &delivery{msg: msg, delivered: 1}
	if meta, err := msg.Metadata(); err == nil {
		d.delivered = meta.NumDelivered
	}
	return d
}

var _ ports.Delivery = (*delivery)(nil)

func (d *delivery) Data() []byte         { return d.msg.Data() }
func (d *delivery) NumDelivered() uint64 { return d.delivered }

func (d *delivery) Progress(context.Context) error { return d.msg.InProgress() }

// Ack waits for the server to confirm so a lost ack surfaces as an error.
func (d *delivery) Ack(ctx context.Context) error { return d.msg.DoubleAck(ctx) }

func (d *delivery) Nak(context.Context) error  { return d.msg.Nak() }
func (d *delivery) Term(context.Context) error { return d.msg.Term() }
