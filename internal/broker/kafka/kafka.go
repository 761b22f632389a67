// Package kafka is the Kafka broker transport, built on franz-go.
//
// Each queue is a topic consumed by its own client in the configured
// consumer group. Offsets are committed only when a record is
// acknowledged. Kafka cannot put a record back, so a requeued record is
// produced again at the tail of its topic before its offset is committed.
package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"harvest/internal/broker"
	"harvest/internal/logging"
)

// DefaultGroup is the consumer group used when none is configured.
const DefaultGroup = "harvest"

// SASLConfig holds SASL authentication parameters.
type SASLConfig struct {
	Mechanism string // "plain", "scram-sha-256", "scram-sha-512"
	User      string
	Password  string //nolint:gosec // G117: config field, not a hardcoded credential
}

// Config holds Kafka transport configuration.
type Config struct {
	Brokers []string
	Group   string
	TLS     bool
	SASL    *SASLConfig
	Logger  *slog.Logger
}

// Transport creates Kafka clients.
type Transport struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and creates a Transport.
func New(cfg Config) (*Transport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: brokers are required")
	}
	for i := range cfg.Brokers {
		cfg.Brokers[i] = strings.TrimSpace(cfg.Brokers[i])
	}
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.SASL != nil {
		cfg.SASL.Mechanism = strings.ToLower(cfg.SASL.Mechanism)
		if _, err := buildSASLMechanism(cfg.SASL); err != nil {
			return nil, err
		}
	}
	return &Transport{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "broker", "type", "kafka"),
	}, nil
}

func (t *Transport) opts() ([]kgo.Opt, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(t.cfg.Brokers...),
	}
	if t.cfg.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		}))
	}
	if t.cfg.SASL != nil {
		mech, err := buildSASLMechanism(t.cfg.SASL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.SASL(mech))
	}
	return opts, nil
}

// Connect checks that the cluster is reachable.
func (t *Transport) Connect(ctx context.Context) (broker.Conn, error) {
	opts, err := t.opts()
	if err != nil {
		return nil, err
	}
	admin, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	if err := admin.Ping(ctx); err != nil {
		admin.Close()
		return nil, fmt.Errorf("kafka ping: %w", err)
	}
	t.logger.Info("kafka connected", "brokers", t.cfg.Brokers, "group", t.cfg.Group)
	return &conn{t: t, base: opts, producer: admin, closed: make(chan struct{})}, nil
}

type conn struct {
	t        *Transport
	base     []kgo.Opt
	producer *kgo.Client
	closed   chan struct{}

	mu      sync.Mutex
	down    bool
	clients []*kgo.Client
	wg      sync.WaitGroup
}

func (c *conn) Closed() <-chan struct{} { return c.closed }

func (c *conn) Close() error {
	c.mu.Lock()
	if c.down {
		c.mu.Unlock()
		return nil
	}
	c.down = true
	close(c.closed)
	clients := c.clients
	c.mu.Unlock()

	for _, cl := range clients {
		cl.Close()
	}
	c.wg.Wait()
	c.producer.Close()
	return nil
}

// Consume starts a group member for topic that polls one record at a time.
func (c *conn) Consume(ctx context.Context, topic string) (<-chan broker.Delivery, error) {
	opts := append([]kgo.Opt{}, c.base...)
	opts = append(opts,
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup(c.t.cfg.Group),
		kgo.DisableAutoCommit(),
	)
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	c.mu.Lock()
	if c.down {
		c.mu.Unlock()
		cl.Close()
		return nil, errors.New("kafka: connection closed")
	}
	c.clients = append(c.clients, cl)
	c.mu.Unlock()

	out := make(chan broker.Delivery)
	c.wg.Go(func() { c.poll(ctx, cl, topic, out) })
	return out, nil
}

func (c *conn) poll(ctx context.Context, cl *kgo.Client, topic string, out chan<- broker.Delivery) {
	defer close(out)
	logger := c.t.logger.With("topic", topic)
	for {
		fetches := cl.PollRecords(ctx, 1)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		for _, e := range fetches.Errors() {
			logger.Warn("kafka fetch error", "partition", e.Partition, "error", e.Err)
		}

		var stop bool
		fetches.EachRecord(func(rec *kgo.Record) {
			if stop {
				return
			}
			d := &delivery{ctx: ctx, consumer: cl, producer: c.producer, rec: rec, done: make(chan struct{})}
			select {
			case out <- d:
			case <-ctx.Done():
				stop = true
				return
			case <-c.closed:
				stop = true
				return
			}
			select {
			case <-d.done:
			case <-ctx.Done():
				stop = true
			case <-c.closed:
				stop = true
			}
		})
		if stop {
			return
		}
	}
}

type delivery struct {
	ctx      context.Context
	consumer *kgo.Client
	producer *kgo.Client
	rec      *kgo.Record
	once     sync.Once
	done     chan struct{}
}

func (d *delivery) Body() []byte { return d.rec.Value }

func (d *delivery) Ack() error {
	defer d.settle()
	return d.consumer.CommitRecords(context.WithoutCancel(d.ctx), d.rec)
}

func (d *delivery) Requeue() error {
	defer d.settle()
	again := &kgo.Record{
		Topic:   d.rec.Topic,
		Key:     d.rec.Key,
		Value:   d.rec.Value,
		Headers: d.rec.Headers,
	}
	ctx := context.WithoutCancel(d.ctx)
	if err := d.producer.ProduceSync(ctx, again).FirstErr(); err != nil {
		return fmt.Errorf("kafka requeue: %w", err)
	}
	return d.consumer.CommitRecords(ctx, d.rec)
}

func (d *delivery) settle() {
	d.once.Do(func() { close(d.done) })
}

// buildSASLMechanism constructs the appropriate SASL mechanism.
func buildSASLMechanism(cfg *SASLConfig) (sasl.Mechanism, error) {
	switch cfg.Mechanism {
	case "plain":
		return plain.Auth{
			User: cfg.User,
			Pass: cfg.Password,
		}.AsMechanism(), nil
	case "scram-sha-256":
		return scram.Auth{
			User: cfg.User,
			Pass: cfg.Password,
		}.AsSha256Mechanism(), nil
	case "scram-sha-512":
		return scram.Auth{
			User: cfg.User,
			Pass: cfg.Password,
		}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %q", cfg.Mechanism)
	}
}
