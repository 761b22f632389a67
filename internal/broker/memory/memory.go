// Package memory is an in-process broker transport.
//
// Queues are FIFO lists of message bodies. Each subscription has a prefetch
// of one, requeued messages go back to the head of their queue, and
// deliveries left unsettled when a connection drops are requeued, the way
// an AMQP broker redelivers them. Tests use the failure controls to drive a
// consumer through reconnects.
package memory

import (
	"context"
	"errors"
	"sync"

	"harvest/internal/broker"
)

var (
	// ErrUnavailable is returned by Connect while connect failures are
	// scheduled.
	ErrUnavailable = errors.New("memory broker: unavailable")
	// ErrClosed is returned when settling a delivery of a closed connection.
	ErrClosed = errors.New("memory broker: connection closed")
	// ErrSettled is returned when a delivery is settled twice.
	ErrSettled = errors.New("memory broker: delivery already settled")
)

type queue struct {
	msgs     [][]byte
	notify   chan struct{}
	acked    int
	requeued int
}

// Broker holds named queues. The zero value is not usable; call New.
type Broker struct {
	mu           sync.Mutex
	queues       map[string]*queue
	conns        map[*conn]struct{}
	failConnects int
	connects     int
}

// New creates an empty broker.
func New() *Broker {
	return &Broker{
		queues: make(map[string]*queue),
		conns:  make(map[*conn]struct{}),
	}
}

// queue returns the named queue, creating it. Caller holds b.mu.
func (b *Broker) queue(name string) *queue {
	q, ok := b.queues[name]
	if !ok {
		q = &queue{notify: make(chan struct{}, 1)}
		b.queues[name] = q
	}
	return q
}

func (q *queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Publish appends a message to queue.
func (b *Broker) Publish(queue string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queue)
	q.msgs = append(q.msgs, body)
	q.signal()
}

// FailConnects makes the next n Connect calls fail.
func (b *Broker) FailConnects(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failConnects = n
}

// Drop closes every open connection as if the network failed.
func (b *Broker) Drop() {
	b.mu.Lock()
	conns := make([]*conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Pending returns the number of undelivered messages in queue.
func (b *Broker) Pending(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue(queue).msgs)
}

// Acked returns the number of acknowledged messages of queue.
func (b *Broker) Acked(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue(queue).acked
}

// Requeued returns the number of requeued messages of queue.
func (b *Broker) Requeued(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue(queue).requeued
}

// Connects returns the number of successful connects.
func (b *Broker) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

// Connect implements broker.Transport.
func (b *Broker) Connect(ctx context.Context) (broker.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failConnects > 0 {
		b.failConnects--
		return nil, ErrUnavailable
	}
	b.connects++
	c := &conn{broker: b, closed: make(chan struct{})}
	b.conns[c] = struct{}{}
	return c, nil
}

type conn struct {
	broker *Broker
	closed chan struct{}
	// down is guarded by broker.mu.
	down bool
	wg   sync.WaitGroup
}

func (c *conn) Closed() <-chan struct{} { return c.closed }

func (c *conn) Close() error {
	b := c.broker
	b.mu.Lock()
	if c.down {
		b.mu.Unlock()
		return nil
	}
	c.down = true
	delete(b.conns, c)
	close(c.closed)
	b.mu.Unlock()
	c.wg.Wait()
	return nil
}

func (c *conn) Consume(ctx context.Context, name string) (<-chan broker.Delivery, error) {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.down {
		return nil, ErrClosed
	}
	q := b.queue(name)
	out := make(chan broker.Delivery)
	c.wg.Go(func() { c.deliver(ctx, q, out) })
	return out, nil
}

// deliver hands out one message at a time and waits for it to be settled.
func (c *conn) deliver(ctx context.Context, q *queue, out chan<- broker.Delivery) {
	defer close(out)
	b := c.broker
	for {
		b.mu.Lock()
		if len(q.msgs) == 0 {
			b.mu.Unlock()
			select {
			case <-q.notify:
				continue
			case <-c.closed:
				return
			case <-ctx.Done():
				return
			}
		}
		body := q.msgs[0]
		q.msgs = q.msgs[1:]
		b.mu.Unlock()

		d := &delivery{conn: c, queue: q, body: body, done: make(chan struct{})}
		select {
		case out <- d:
		case <-c.closed:
			d.abandon()
			return
		case <-ctx.Done():
			d.abandon()
			return
		}

		select {
		case <-d.done:
		case <-c.closed:
			d.abandon()
			return
		case <-ctx.Done():
			d.abandon()
			return
		}
	}
}

type delivery struct {
	conn  *conn
	queue *queue
	body  []byte
	done  chan struct{}
	// settled is guarded by broker.mu.
	settled bool
}

func (d *delivery) Body() []byte { return d.body }

func (d *delivery) Ack() error { return d.settle(false) }

func (d *delivery) Requeue() error { return d.settle(true) }

func (d *delivery) settle(requeue bool) error {
	b := d.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if d.settled {
		return ErrSettled
	}
	if d.conn.down {
		return ErrClosed
	}
	d.settled = true
	if requeue {
		d.queue.msgs = append([][]byte{d.body}, d.queue.msgs...)
		d.queue.requeued++
		d.queue.signal()
	} else {
		d.queue.acked++
	}
	close(d.done)
	return nil
}

// abandon returns an unsettled delivery to the head of its queue.
func (d *delivery) abandon() {
	b := d.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if d.settled {
		return
	}
	d.settled = true
	d.queue.msgs = append([][]byte{d.body}, d.queue.msgs...)
	d.queue.signal()
}
