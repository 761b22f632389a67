// Package broker consumes the service queues.
//
// A Consumer owns the connection lifecycle. It connects through a Transport,
// opens one prefetch-1 subscription per queue, dispatches every delivery to
// the queue's Handler and settles the delivery with the returned Outcome.
// Lost connections are re-established forever until the context ends.
//
// Transports live in subpackages: amqp (RabbitMQ), kafka and memory.
package broker

import (
	"context"
	"errors"
)

// Outcome is a handler's decision for a delivery.
type Outcome int

const (
	// Ack removes the message from the queue.
	Ack Outcome = iota
	// Requeue returns the message to the queue for redelivery.
	Requeue
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	default:
		return "unknown"
	}
}

var (
	// ErrConnectionLost is returned by a subscription whose delivery
	// channel closed while the consumer was running.
	ErrConnectionLost = errors.New("broker: connection lost")
	// ErrMalformed marks payloads that cannot be decoded.
	ErrMalformed = errors.New("broker: malformed message")
)

// Delivery is one received message. Exactly one of Ack or Requeue should be
// called.
type Delivery interface {
	Body() []byte
	Ack() error
	Requeue() error
}

// Conn is an established broker connection.
type Conn interface {
	// Consume subscribes to queue with a prefetch of one: the next message
	// is not delivered until the previous one is settled. The returned
	// channel is closed when the subscription ends.
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)

	// Closed is closed when the connection is lost or closed.
	Closed() <-chan struct{}

	Close() error
}

// Transport opens connections.
type Transport interface {
	Connect(ctx context.Context) (Conn, error)
}

// Handler processes one message body.
type Handler func(ctx context.Context, body []byte) Outcome
