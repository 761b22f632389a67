// Package orchestrator wires the harvest service together.
//
// An Orchestrator is built once from the validated configuration. It owns
// the registry client, the process-wide schema cache and dictionary state,
// the three message pipelines and the broker consumer that feeds them, plus
// a scheduler for maintenance jobs. It holds no business logic of its own.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"harvest/internal/broker"
	"harvest/internal/config"
	"harvest/internal/registry"
	"harvest/internal/schema"
)

var (
	// ErrAlreadyRunning is returned by Start on a running orchestrator.
	ErrAlreadyRunning = errors.New("orchestrator already running")
	// ErrNotRunning is returned by Stop on a stopped orchestrator.
	ErrNotRunning = errors.New("orchestrator not running")
)

// SchemaRefreshJob is the scheduler name of the schema cache refresh.
const SchemaRefreshJob = "schema-refresh"

// Config configures New.
type Config struct {
	// Service is the validated service configuration.
	Service config.Config

	// Transport replaces the broker transport selected by Service.Broker.
	Transport broker.Transport

	// HTTPClient replaces the registry and dictionary HTTP clients.
	HTTPClient *http.Client

	// Registerer receives the service metrics. Nil disables metrics.
	Registerer prometheus.Registerer

	Logger *slog.Logger
}

// Orchestrator is the running service.
type Orchestrator struct {
	cfg    config.Config
	logger *slog.Logger

	client    *registry.Client
	cache     *schema.Cache
	types     *schema.TypeMap
	consumer  *broker.Consumer
	scheduler *Scheduler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	runErr  error
}

// Client returns the registry client.
func (o *Orchestrator) Client() *registry.Client { return o.client }

// Cache returns the schema cache.
func (o *Orchestrator) Cache() *schema.Cache { return o.cache }

// Consumer returns the broker consumer.
func (o *Orchestrator) Consumer() *broker.Consumer { return o.consumer }

// Scheduler returns the maintenance scheduler.
func (o *Orchestrator) Scheduler() *Scheduler { return o.scheduler }
