package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"harvest/internal/logging"
	"harvest/internal/metrics"
)

// DefaultReconnectDelay is the wait between connection attempts.
const DefaultReconnectDelay = 10 * time.Second

// State is the connection state of a Consumer.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Consuming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Consuming:
		return "consuming"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Queue binds a queue name to its handler.
type Queue struct {
	Name    string
	Handler Handler
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Transport Transport
	Queues    []Queue

	// ReconnectDelay defaults to DefaultReconnectDelay.
	ReconnectDelay time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Consumer runs one receive loop per queue over a shared connection.
type Consumer struct {
	transport Transport
	queues    []Queue
	delay     time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	changed chan struct{}
}

// NewConsumer creates a Consumer in the Disconnected state.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Consumer{
		transport: cfg.Transport,
		queues:    cfg.Queues,
		delay:     cfg.ReconnectDelay,
		metrics:   cfg.Metrics,
		logger:    logging.Default(cfg.Logger).With("component", "broker"),
		changed:   make(chan struct{}),
	}
}

// State returns the current state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Changed returns a channel that is closed on the next state change.
func (c *Consumer) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// WaitState blocks until the consumer is in state s or ctx is done.
func (c *Consumer) WaitState(ctx context.Context, s State) error {
	for {
		c.mu.Lock()
		cur, ch := c.state, c.changed
		c.mu.Unlock()
		if cur == s {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Consumer) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == s {
		return
	}
	c.logger.Debug("state change", "from", c.state, "to", s)
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
}

// Run connects and consumes until ctx is cancelled. Connection failures
// and losses are retried after the reconnect delay without limit. Run
// returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.queues) == 0 {
		return errors.New("broker: no queues to consume")
	}
	defer c.setState(Disconnected)

	for {
		c.setState(Connecting)
		conn, err := c.transport.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.metrics.ConnectFailed()
			c.logger.Warn("could not connect to broker", "error", err, "retry_in", c.delay)
			if !wait(ctx, c.delay) {
				return nil
			}
			continue
		}
		c.setState(Connected)
		c.logger.Info("connected to broker")

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			c.logger.Info("broker consumer stopped")
			return nil
		}
		c.metrics.ConnectFailed()
		c.logger.Warn("broker connection lost", "error", err, "retry_in", c.delay)
		c.setState(Connecting)
		if !wait(ctx, c.delay) {
			return nil
		}
	}
}

// consume subscribes to every queue and runs the receive loops until one
// of them fails, the connection closes or ctx ends.
func (c *Consumer) consume(ctx context.Context, conn Conn) error {
	g, gctx := errgroup.WithContext(ctx)

	subs := make([]<-chan Delivery, len(c.queues))
	for i, q := range c.queues {
		ch, err := conn.Consume(gctx, q.Name)
		if err != nil {
			return fmt.Errorf("consume %s: %w", q.Name, err)
		}
		subs[i] = ch
	}
	c.setState(Consuming)

	for i, q := range c.queues {
		g.Go(func() error {
			return c.loop(gctx, q, subs[i])
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-conn.Closed():
			return ErrConnectionLost
		}
	})
	return g.Wait()
}

func (c *Consumer) loop(ctx context.Context, q Queue, deliveries <-chan Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%s: %w", q.Name, ErrConnectionLost)
			}
			c.dispatch(ctx, q, d)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, q Queue, d Delivery) {
	outcome := q.Handler(ctx, d.Body())

	var err error
	switch outcome {
	case Ack:
		err = d.Ack()
		c.metrics.Message(q.Name, metrics.OutcomeAck)
	default:
		err = d.Requeue()
		c.metrics.Message(q.Name, metrics.OutcomeRequeue)
	}
	if err != nil {
		c.logger.Warn("could not settle message", "queue", q.Name, "outcome", outcome, "error", err)
	}
}

// wait sleeps for d and reports whether ctx is still live.
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
