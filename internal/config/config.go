// Package config loads the harvest service configuration.
//
// Configuration is read once at startup from, in increasing priority:
// built-in defaults, an optional TOML/YAML file, HARVEST_* environment
// variables and command-line flags. The result is a plain Config value that
// is handed to the orchestrator; nothing in the service reads viper or the
// environment after that.
//
// Keys use dotted section names ("registry.url", "broker.queues.products").
// The matching environment variable replaces dots and dashes with
// underscores: HARVEST_REGISTRY_URL, HARVEST_BROKER_QUEUES_PRODUCTS.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"harvest/internal/logging"

	"github.com/go-co-op/gocron/v2"
)

// Broker types.
const (
	BrokerRabbitMQ = "rabbitmq"
	BrokerKafka    = "kafka"
	BrokerMemory   = "memory"
)

// Mapping-update failure policies.
const (
	OnFailureRequeue = "requeue"
	OnFailureDrop    = "drop"
)

// Config describes the whole service.
type Config struct {
	Broker   BrokerConfig   `mapstructure:"broker"`
	Registry RegistryConfig `mapstructure:"registry"`
	Schema   SchemaConfig   `mapstructure:"schema"`
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// BrokerConfig selects and configures the message broker.
type BrokerConfig struct {
	// Type is one of rabbitmq, kafka or memory.
	Type string `mapstructure:"type"`

	// Hosts are host:port addresses. RabbitMQ uses the first reachable one;
	// Kafka treats them as seed brokers.
	Hosts []string `mapstructure:"hosts"`

	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	VirtualHost string `mapstructure:"vhost"`

	// ReconnectDelay is the wait between connection attempts.
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`

	Queues QueueConfig `mapstructure:"queues"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
}

// QueueConfig names the queues (or topics) the service consumes.
type QueueConfig struct {
	Products    string `mapstructure:"products"`
	Collections string `mapstructure:"collections"`
	Commands    string `mapstructure:"commands"`
}

// KafkaConfig holds Kafka-only settings.
type KafkaConfig struct {
	Group string `mapstructure:"group"`
	TLS   bool   `mapstructure:"tls"`

	// SASLMechanism is one of plain, scram-sha-256, scram-sha-512, or empty.
	SASLMechanism string `mapstructure:"sasl_mechanism"`
}

// RegistryConfig points at the search index that backs the registry.
type RegistryConfig struct {
	URL   string `mapstructure:"url"`
	Index string `mapstructure:"index"`

	// AuthFile holds "user" and "password" for basic authentication.
	AuthFile string `mapstructure:"auth_file"`

	Timeout         time.Duration `mapstructure:"timeout"`
	TrustSelfSigned bool          `mapstructure:"trust_self_signed"`

	// RequestsPerSecond throttles index requests. Zero disables throttling.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// Gzip compresses bulk request bodies.
	Gzip bool `mapstructure:"gzip"`

	// RetryMax is the transport-level retry count for a single request.
	// Component retry budgets (idempotency queries, bulk loads) are separate.
	RetryMax int `mapstructure:"retry_max"`
}

// SchemaConfig controls schema evolution.
type SchemaConfig struct {
	// Update enables reconciliation of unknown fields before loading.
	Update bool `mapstructure:"update"`

	// DownloadDictionaries enables fetching data dictionaries for unknown namespaces.
	DownloadDictionaries bool `mapstructure:"download_dictionaries"`

	// DataTypesFile optionally overrides the dictionary -> index type map.
	DataTypesFile string `mapstructure:"data_types_file"`

	// OnUpdateFailure is requeue or drop.
	OnUpdateFailure string `mapstructure:"on_update_failure"`

	// RefreshCron periodically re-reads the index mapping into the schema
	// cache. Empty disables the refresh.
	RefreshCron string `mapstructure:"refresh_cron"`
}

// HarvestConfig holds identity settings.
type HarvestConfig struct {
	// NodeName is used when a message does not carry one.
	NodeName string `mapstructure:"node_name"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

// Validate fills in missing values with defaults and rejects values that
// cannot work. Defaults applied to values that an operator normally sets
// explicitly are reported as warnings.
func (c *Config) Validate(logger *slog.Logger) error {
	logger = logging.Default(logger).With("component", "config")
	var errs []error

	c.Broker.Type = strings.ToLower(strings.TrimSpace(c.Broker.Type))
	switch c.Broker.Type {
	case "":
		c.Broker.Type = BrokerRabbitMQ
	case BrokerRabbitMQ, BrokerKafka, BrokerMemory:
	default:
		errs = append(errs, fmt.Errorf("broker.type: unknown broker %q", c.Broker.Type))
	}

	if c.Broker.Type != BrokerMemory {
		if len(c.Broker.Hosts) == 0 {
			logger.Warn("broker hosts not set, using default", "hosts", DefaultBrokerHost)
			c.Broker.Hosts = []string{DefaultBrokerHost}
		}
		for _, h := range c.Broker.Hosts {
			if _, _, err := net.SplitHostPort(h); err != nil {
				errs = append(errs, fmt.Errorf("broker.hosts: %q is not host:port: %w", h, err))
			}
		}
	}
	if c.Broker.ReconnectDelay <= 0 {
		c.Broker.ReconnectDelay = DefaultReconnectDelay
	}
	switch strings.ToLower(c.Broker.Kafka.SASLMechanism) {
	case "", "plain", "scram-sha-256", "scram-sha-512":
	default:
		errs = append(errs, fmt.Errorf("broker.kafka.sasl_mechanism: unsupported mechanism %q", c.Broker.Kafka.SASLMechanism))
	}

	if c.Registry.URL == "" {
		logger.Warn("registry url not set, using default", "url", DefaultRegistryURL)
		c.Registry.URL = DefaultRegistryURL
	}
	if c.Registry.Index == "" {
		logger.Warn("registry index not set, using default", "index", DefaultRegistryIndex)
		c.Registry.Index = DefaultRegistryIndex
	}
	if c.Registry.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("registry.requests_per_second must not be negative"))
	}
	if c.Registry.RetryMax < 0 {
		errs = append(errs, errors.New("registry.retry_max must not be negative"))
	}

	c.Schema.OnUpdateFailure = strings.ToLower(strings.TrimSpace(c.Schema.OnUpdateFailure))
	switch c.Schema.OnUpdateFailure {
	case "":
		c.Schema.OnUpdateFailure = OnFailureRequeue
	case OnFailureRequeue, OnFailureDrop:
	default:
		errs = append(errs, fmt.Errorf("schema.on_update_failure: unknown policy %q", c.Schema.OnUpdateFailure))
	}
	if err := ValidateCron(c.Schema.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("schema.refresh_cron: %w", err))
	}

	return errors.Join(errs...)
}

// ValidateCron checks whether expr is a valid cron expression.
// Supports both 5-field (minute-level) and 6-field (second-level) syntax.
// An empty expression is valid and means "disabled".
func ValidateCron(expr string) error {
	if expr == "" {
		return nil
	}
	cr := gocron.NewDefaultCron(true)
	if err := cr.IsValid(expr, time.UTC, time.Now()); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
