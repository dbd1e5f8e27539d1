package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
)

const laneCapacity = 10_000

var errAlreadySettled = errors.New("message already settled")

// Queue is an in-process job queue with JetStream-like delivery semantics:
// one message per puller at a time, bounded redelivery on Nak, and dead
// letter advisories on exhaustion or Term.
type Queue struct {
	mu         sync.Mutex
	maxDeliver int
	seq        uint64
	lanes      map[domain.JobKind]chan *message
	mirror     map[uint64][]byte
	dead       chan *deadLetter
	closed     chan struct{}
	closeOnce  sync.Once

	acks, naks, terms, progress atomic.Int64
}

type message struct {
	seq       uint64
	data      []byte
	delivered uint64
}

func NewQueue(maxDeliver int) *Queue {
	if maxDeliver <= 0 {
		maxDeliver = 1
	}
	return &Queue{
		maxDeliver: maxDeliver,
		lanes:      make(map[domain.JobKind]chan *message),
		mirror:     make(map[uint64][]byte),
		dead:       make(chan *deadLetter, laneCapacity),
		closed:     make(chan struct{}),
	}
}

var _ ports.JobQueue = (*Queue)(nil)

// Counts reports how deliveries were settled.
type Counts struct {
	Acks, Naks, Terms, Progress int64
}

func (q *Queue) Counts() Counts {
	return Counts{
		Acks:     q.acks.Load(),
		Naks:     q.naks.Load(),
		Terms:    q.terms.Load(),
		Progress: q.progress.Load(),
	}
}

// Close ends every subscribe loop, like a dropped transport.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

func (q *Queue) lane(kind domain.JobKind) chan *message {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.lanes[kind]
	if !ok {
		ch = make(chan *message, laneCapacity)
		q.lanes[kind] = ch
	}
	return ch
}

func (q *Queue) Publish(ctx context.Context, kind domain.JobKind, id domain.JobID) error {
	data, err := json.Marshal(domain.JobMessage{ID: id})
	if err != nil {
		return err
	}
	return q.PublishRaw(ctx, kind, data)
}

// PublishRaw enqueues an arbitrary payload.
func (q *Queue) PublishRaw(ctx context.Context, kind domain.JobKind, data []byte) error {
	ch := q.lane(kind)

	q.mu.Lock()
	q.seq++
	msg := &message{seq: q.seq, data: data}
	q.mirror[msg.seq] = data
	q.mu.Unlock()

	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("lane %s is full", kind)
	}
}

func (q *Queue) Subscribe(ctx context.Context, kind domain.JobKind, handler ports.MessageHandler) error {
	ch := q.lane(kind)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.closed:
			return nil
		case msg := <-ch:
			msg.delivered++
			d := &delivery{queue: q, msg: msg}
			handler(ctx, d)
			q.settle(ch, msg, d.outcome())
		}
	}
}

func (q *Queue) settle(ch chan *message, msg *message, o outcome) {
	switch o {
	case outcomeAck:
		return
	case outcomeTerm:
		q.advise(msg.seq)
	default:
		// Nak, or a handler that never settled and let the ack deadline pass.
		if msg.delivered >= uint64(q.maxDeliver) {
			q.advise(msg.seq)
			return
		}
		select {
		case ch <- msg:
		default:
			q.advise(msg.seq)
		}
	}
}

func (q *Queue) advise(seq uint64) {
	select {
	case q.dead <- &deadLetter{queue: q, seq: seq}:
	default:
	}
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeAck
	outcomeNak
	outcomeTerm
)

type delivery struct {
	queue *Queue
	msg   *message
	mu    sync.Mutex
	state outcome
}

func (d *delivery) Data() []byte         { return d.msg.data }
func (d *delivery) NumDelivered() uint64 { return d.msg.delivered }

func (d *delivery) Progress(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != outcomeNone {
		return errAlreadySettled
	}
	d.queue.progress.Add(1)
	return nil
}

func (d *delivery) Ack(context.Context) error  { return d.set(outcomeAck, &d.queue.acks) }
func (d *delivery) Nak(context.Context) error  { return d.set(outcomeNak, &d.queue.naks) }
func (d *delivery) Term(context.Context) error { return d.set(outcomeTerm, &d.queue.terms) }

func (d *delivery) set(o outcome, counter *atomic.Int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != outcomeNone {
		return errAlreadySettled
	}
	d.state = o
	counter.Add(1)
	return nil
}

func (d *delivery) outcome() outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// DeadLetters returns the advisory lane of the queue.
func (q *Queue) DeadLetters() *DeadLetterLane {
	return &DeadLetterLane{queue: q}
}

// DeadLetterLane delivers advisories raised by the queue.
type DeadLetterLane struct {
	queue *Queue
}

var _ ports.DeadLetterSource = (*DeadLetterLane)(nil)

func (l *DeadLetterLane) Subscribe(ctx context.Context, handler func(context.Context, ports.DeadLetter)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.queue.closed:
			return nil
		case dl := <-l.queue.dead:
			handler(ctx, dl)
			if !dl.acked() {
				l.queue.advise(dl.seq)
			}
		}
	}
}

// Pending reports how many advisories wait in the lane.
func (l *DeadLetterLane) Pending() int {
	return len(l.queue.dead)
}

type deadLetter struct {
	queue *Queue
	seq   uint64
	mu    sync.Mutex
	done  bool
}

func (d *deadLetter) StreamSeq() uint64 { return d.seq }

func (d *deadLetter) Payload(context.Context) ([]byte, error) {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	data, ok := d.queue.mirror[d.seq]
	if !ok {
		return nil, fmt.Errorf("message %d not in mirror", d.seq)
	}
	return data, nil
}

func (d *deadLetter) Ack(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.done = true
	return nil
}

func (d *deadLetter) Nak(context.Context) error {
	return nil
}

func (d *deadLetter) acked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}
