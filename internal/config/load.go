package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultBrokerHost      = "localhost:5672"
	DefaultReconnectDelay  = 10 * time.Second
	DefaultRegistryURL     = "http://localhost:9200"
	DefaultRegistryIndex   = "registry"
	DefaultRegistryTimeout = 30 * time.Second

	DefaultProductsQueue    = "harvest.products"
	DefaultCollectionsQueue = "harvest.collections"
	DefaultCommandsQueue    = "harvest.manager"
)

// EnvPrefix is prepended to environment variable names.
const EnvPrefix = "HARVEST"

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"broker-type":        "broker.type",
	"broker-hosts":       "broker.hosts",
	"registry-url":       "registry.url",
	"registry-index":     "registry.index",
	"registry-auth-file": "registry.auth_file",
	"schema-update":      "schema.update",
	"node-name":          "harvest.node_name",
	"metrics-addr":       "metrics.addr",
}

// RegisterFlags defines the configuration flags on fs. Flags have no
// defaults of their own: an unset flag never overrides file or env values.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("broker-type", "", "message broker: rabbitmq, kafka or memory")
	fs.StringSlice("broker-hosts", nil, "broker host:port addresses")
	fs.String("registry-url", "", "search index URL")
	fs.String("registry-index", "", "registry index name")
	fs.String("registry-auth-file", "", "index credentials file (user, password)")
	fs.Bool("schema-update", true, "reconcile unknown fields before loading")
	fs.String("node-name", "", "harvest node name used when a message has none")
	fs.String("metrics-addr", "", "prometheus listen address (empty disables)")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.type", BrokerRabbitMQ)
	v.SetDefault("broker.reconnect_delay", DefaultReconnectDelay)
	v.SetDefault("broker.queues.products", DefaultProductsQueue)
	v.SetDefault("broker.queues.collections", DefaultCollectionsQueue)
	v.SetDefault("broker.queues.commands", DefaultCommandsQueue)
	v.SetDefault("broker.kafka.group", "harvest")
	v.SetDefault("registry.timeout", DefaultRegistryTimeout)
	v.SetDefault("schema.update", true)
	v.SetDefault("schema.download_dictionaries", true)
	v.SetDefault("schema.on_update_failure", OnFailureRequeue)
}

// Load reads the configuration. file may be empty, in which case only
// defaults, the environment and flags apply. fs may be nil.
//
// The result is not validated; call Validate.
func Load(file string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if ext := strings.TrimPrefix(filepath.Ext(file), "."); ext == "" || ext == "cfg" || ext == "conf" {
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	// AutomaticEnv only answers Get for keys viper already knows about, so
	// every section key must be known before Unmarshal sees the environment.
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// envOnlyKeys lists keys without a default or flag that may still be set
// from the environment.
var envOnlyKeys = []string{
	"broker.user",
	"broker.password",
	"broker.vhost",
	"broker.kafka.tls",
	"broker.kafka.sasl_mechanism",
	"registry.trust_self_signed",
	"registry.requests_per_second",
	"registry.gzip",
	"registry.retry_max",
	"schema.data_types_file",
	"schema.refresh_cron",
}

// Credentials are the basic-auth values of the index.
type Credentials struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// ReadCredentials reads an index credentials file. TOML, YAML and JSON files
// are recognized by extension; anything else is read as "key = value" lines.
func ReadCredentials(path string) (Credentials, error) {
	v := viper.New()
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", ".yaml", ".yml", ".json":
	default:
		v.SetConfigType("dotenv")
	}
	if err := v.ReadInConfig(); err != nil {
		return Credentials{}, fmt.Errorf("read credentials %s: %w", path, err)
	}
	var c Credentials
	if err := v.Unmarshal(&c); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials %s: %w", path, err)
	}
	if c.User == "" {
		return Credentials{}, fmt.Errorf("credentials %s: missing user", path)
	}
	return c, nil
}
