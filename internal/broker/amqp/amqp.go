// Package amqp is the RabbitMQ broker transport.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"harvest/internal/broker"
	"harvest/internal/logging"
)

const dialTimeout = 30 * time.Second

// Config holds RabbitMQ connection settings.
type Config struct {
	// Hosts are host:port addresses, tried in order.
	Hosts       []string
	User        string
	Password    string //nolint:gosec // G117: config field, not a hardcoded credential
	VirtualHost string

	// Name is reported to the broker as the connection name.
	Name string

	Logger *slog.Logger
}

// Transport dials RabbitMQ.
type Transport struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Transport.
func New(cfg Config) *Transport {
	return &Transport{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "broker", "type", "rabbitmq"),
	}
}

// URI returns the AMQP URI for host.
func (t *Transport) URI(host string) (string, error) {
	h, p, err := net.SplitHostPort(host)
	if err != nil {
		return "", fmt.Errorf("rabbitmq host %q: %w", host, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return "", fmt.Errorf("rabbitmq host %q: bad port", host)
	}
	u := amqp091.URI{
		Scheme:   "amqp",
		Host:     h,
		Port:     port,
		Username: t.cfg.User,
		Password: t.cfg.Password,
		Vhost:    t.cfg.VirtualHost,
	}
	if u.Username == "" {
		u.Username = "guest"
		u.Password = "guest"
	}
	if u.Vhost == "" {
		u.Vhost = "/"
	}
	return u.String(), nil
}

// Connect dials the first reachable host.
func (t *Transport) Connect(ctx context.Context) (broker.Conn, error) {
	if len(t.cfg.Hosts) == 0 {
		return nil, errors.New("rabbitmq: no hosts configured")
	}
	props := amqp091.NewConnectionProperties()
	if t.cfg.Name != "" {
		props.SetClientConnectionName(t.cfg.Name)
	}

	var errs []error
	for _, host := range t.cfg.Hosts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		uri, err := t.URI(host)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c, err := amqp091.DialConfig(uri, amqp091.Config{
			Heartbeat:  10 * time.Second,
			Locale:     "en_US",
			Properties: props,
			Dial:       amqp091.DefaultDial(dialTimeout),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", host, err))
			continue
		}
		t.logger.Info("rabbitmq connected", "host", host, "vhost", t.cfg.VirtualHost)
		return newConn(c, t.logger), nil
	}
	return nil, errors.Join(errs...)
}

type conn struct {
	c      *amqp091.Connection
	closed chan struct{}
	logger *slog.Logger
}

func newConn(c *amqp091.Connection, logger *slog.Logger) *conn {
	cn := &conn{c: c, closed: make(chan struct{}), logger: logger}
	notify := c.NotifyClose(make(chan *amqp091.Error, 1))
	go func() {
		if err, ok := <-notify; ok && err != nil {
			logger.Warn("rabbitmq connection closed", "code", err.Code, "reason", err.Reason)
		}
		close(cn.closed)
	}()
	return cn
}

func (cn *conn) Closed() <-chan struct{} { return cn.closed }

func (cn *conn) Close() error {
	err := cn.c.Close()
	if errors.Is(err, amqp091.ErrClosed) {
		return nil
	}
	return err
}

// Consume opens a dedicated channel with a prefetch of one and manual
// acknowledgements. The queue is declared durable.
func (cn *conn) Consume(ctx context.Context, queue string) (<-chan broker.Delivery, error) {
	ch, err := cn.c.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare %s: %w", queue, err)
	}
	tag := "harvest-" + uuid.NewString()
	msgs, err := ch.ConsumeWithContext(ctx, queue, tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	out := make(chan broker.Delivery)
	go func() {
		defer close(out)
		for m := range msgs {
			select {
			case out <- delivery{m}:
			case <-ctx.Done():
				_ = m.Nack(false, true)
				return
			}
		}
	}()
	return out, nil
}

type delivery struct {
	m amqp091.Delivery
}

func (d delivery) Body() []byte   { return d.m.Body }
func (d delivery) Ack() error     { return d.m.Ack(false) }
func (d delivery) Requeue() error { return d.m.Nack(false, true) }
