package orchestrator

import (
	"fmt"
	"log/slog"

	"harvest/internal/broker"
	"harvest/internal/broker/amqp"
	"harvest/internal/broker/kafka"
	"harvest/internal/broker/memory"
	"harvest/internal/config"
	"harvest/internal/dictionary"
	"harvest/internal/label"
	"harvest/internal/logging"
	"harvest/internal/metrics"
	"harvest/internal/pipeline"
	"harvest/internal/refs"
	"harvest/internal/registry"
	"harvest/internal/schema"
)

// New builds the service from cfg. Nothing connects until Start.
func New(cfg Config) (*Orchestrator, error) {
	svc := cfg.Service
	logger := logging.Default(cfg.Logger)

	var m *metrics.Metrics
	if cfg.Registerer != nil {
		m = metrics.New(cfg.Registerer)
	}

	rc := registry.Config{
		URL:               svc.Registry.URL,
		Index:             svc.Registry.Index,
		Timeout:           svc.Registry.Timeout,
		TrustSelfSigned:   svc.Registry.TrustSelfSigned,
		RequestsPerSecond: svc.Registry.RequestsPerSecond,
		Gzip:              svc.Registry.Gzip,
		RetryMax:          svc.Registry.RetryMax,
		HTTPClient:        cfg.HTTPClient,
		Logger:            logger,
	}
	if svc.Registry.AuthFile != "" {
		creds, err := config.ReadCredentials(svc.Registry.AuthFile)
		if err != nil {
			return nil, err
		}
		rc.User, rc.Password = creds.User, creds.Password
	}
	client, err := registry.New(rc)
	if err != nil {
		return nil, err
	}

	types := schema.NewTypeMap()
	if svc.Schema.DataTypesFile != "" {
		if err := types.Reload(svc.Schema.DataTypesFile); err != nil {
			return nil, err
		}
	}

	cache := schema.NewCache()
	loader := registry.NewLoader(client, logger)
	resolver := dictionary.NewResolver(dictionary.ResolverConfig{
		State:    dictionary.NewState(),
		Searcher: client,
		Loader:   loader,
		Fetcher: dictionary.NewDownloader(dictionary.DownloaderConfig{
			HTTPClient: cfg.HTTPClient,
			Logger:     logger,
		}),
		Types:    types,
		Index:    client.DictionaryIndex(),
		Download: svc.Schema.DownloadDictionaries,
		Metrics:  m,
		Logger:   logger,
	})

	pc := pipeline.ProductsConfig{
		Checker:             registry.NewChecker(registry.CheckerConfig{Client: client, Logger: logger}),
		Extractor:           label.NewXMLExtractor(),
		Cache:               cache,
		Loader:              loader,
		Index:               client.Index(),
		NodeName:            svc.Harvest.NodeName,
		DropOnSchemaFailure: svc.Schema.OnUpdateFailure == config.OnFailureDrop,
		Metrics:             m,
		Logger:              logger,
	}
	if svc.Schema.Update {
		pc.Reconciler = schema.NewEngine(schema.EngineConfig{
			Index:           client,
			Cache:           cache,
			Resolver:        resolver,
			RegistryIndex:   client.Index(),
			DictionaryIndex: client.DictionaryIndex(),
			Logger:          logger,
		})
	}
	products := pipeline.NewProducts(pc)
	collections := pipeline.NewCollections(pipeline.CollectionsConfig{
		Writer: refs.NewBatcher(refs.BatcherConfig{
			Loader:  loader,
			Index:   client.RefsIndex(),
			Metrics: m,
			Logger:  logger,
		}),
		Logger: logger,
	})
	commands := pipeline.NewCommands(pipeline.CommandsConfig{Store: client, Logger: logger})

	transport := cfg.Transport
	if transport == nil {
		transport, err = newTransport(svc, logger)
		if err != nil {
			return nil, err
		}
	}
	decodeLogger := logger.With("component", "broker")
	consumer := broker.NewConsumer(broker.ConsumerConfig{
		Transport:      transport,
		ReconnectDelay: svc.Broker.ReconnectDelay,
		Queues: []broker.Queue{
			{Name: svc.Broker.Queues.Products, Handler: broker.Decode(products.Process, decodeLogger)},
			{Name: svc.Broker.Queues.Collections, Handler: broker.Decode(collections.Process, decodeLogger)},
			{Name: svc.Broker.Queues.Commands, Handler: broker.Decode(commands.Process, decodeLogger)},
		},
		Metrics: m,
		Logger:  logger,
	})

	scheduler, err := newScheduler(logger.With("component", "scheduler"))
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:       svc,
		logger:    logger.With("component", "orchestrator"),
		client:    client,
		cache:     cache,
		types:     types,
		consumer:  consumer,
		scheduler: scheduler,
	}, nil
}

// newTransport creates the broker transport selected by the configuration.
func newTransport(svc config.Config, logger *slog.Logger) (broker.Transport, error) {
	b := svc.Broker
	switch b.Type {
	case config.BrokerRabbitMQ:
		name := "harvest"
		if svc.Harvest.NodeName != "" {
			name += " " + svc.Harvest.NodeName
		}
		return amqp.New(amqp.Config{
			Hosts:       b.Hosts,
			User:        b.User,
			Password:    b.Password,
			VirtualHost: b.VirtualHost,
			Name:        name,
			Logger:      logger,
		}), nil
	case config.BrokerKafka:
		kc := kafka.Config{
			Brokers: b.Hosts,
			Group:   b.Kafka.Group,
			TLS:     b.Kafka.TLS,
			Logger:  logger,
		}
		if b.Kafka.SASLMechanism != "" {
			kc.SASL = &kafka.SASLConfig{Mechanism: b.Kafka.SASLMechanism, User: b.User, Password: b.Password}
		}
		return kafka.New(kc)
	case config.BrokerMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown broker type %q", b.Type)
	}
}
