package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(nil); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Broker.Type != BrokerRabbitMQ {
		t.Errorf("broker type: got %q", cfg.Broker.Type)
	}
	if len(cfg.Broker.Hosts) != 1 || cfg.Broker.Hosts[0] != DefaultBrokerHost {
		t.Errorf("broker hosts: got %v", cfg.Broker.Hosts)
	}
	if cfg.Broker.ReconnectDelay != 10*time.Second {
		t.Errorf("reconnect delay: got %v", cfg.Broker.ReconnectDelay)
	}
	if cfg.Registry.URL != "http://localhost:9200" || cfg.Registry.Index != "registry" {
		t.Errorf("registry: got %s / %s", cfg.Registry.URL, cfg.Registry.Index)
	}
	if !cfg.Schema.Update || !cfg.Schema.DownloadDictionaries {
		t.Error("schema update and dictionary download should default to enabled")
	}
	if cfg.Schema.OnUpdateFailure != OnFailureRequeue {
		t.Errorf("on_update_failure: got %q", cfg.Schema.OnUpdateFailure)
	}
	if cfg.Broker.Queues.Products != DefaultProductsQueue {
		t.Errorf("products queue: got %q", cfg.Broker.Queues.Products)
	}
}

func TestLoadFileEnvFlagPriority(t *testing.T) {
	file := writeFile(t, "harvest.toml", `
[broker]
type = "kafka"
hosts = ["k1:9092", "k2:9092"]
reconnect_delay = "2s"

[broker.kafka]
group = "registry-loaders"

[registry]
url = "http://file:9200"
index = "from-file"
gzip = true

[schema]
on_update_failure = "drop"
`)
	t.Setenv("HARVEST_REGISTRY_INDEX", "from-env")
	t.Setenv("HARVEST_REGISTRY_REQUESTS_PER_SECOND", "25")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse([]string{"--registry-url", "http://flag:9200"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(file, fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(nil); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Broker.Type != BrokerKafka {
		t.Errorf("broker type: got %q", cfg.Broker.Type)
	}
	if strings.Join(cfg.Broker.Hosts, ",") != "k1:9092,k2:9092" {
		t.Errorf("hosts: got %v", cfg.Broker.Hosts)
	}
	if cfg.Broker.ReconnectDelay != 2*time.Second {
		t.Errorf("reconnect delay: got %v", cfg.Broker.ReconnectDelay)
	}
	if cfg.Broker.Kafka.Group != "registry-loaders" {
		t.Errorf("kafka group: got %q", cfg.Broker.Kafka.Group)
	}
	if cfg.Registry.URL != "http://flag:9200" {
		t.Errorf("flag should win over file: got %q", cfg.Registry.URL)
	}
	if cfg.Registry.Index != "from-env" {
		t.Errorf("env should win over file: got %q", cfg.Registry.Index)
	}
	if cfg.Registry.RequestsPerSecond != 25 {
		t.Errorf("requests per second: got %v", cfg.Registry.RequestsPerSecond)
	}
	if !cfg.Registry.Gzip {
		t.Error("gzip should be enabled from file")
	}
	if cfg.Schema.OnUpdateFailure != OnFailureDrop {
		t.Errorf("on_update_failure: got %q", cfg.Schema.OnUpdateFailure)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml"), nil); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown broker", func(c *Config) { c.Broker.Type = "zeromq" }, "broker.type"},
		{"bad host", func(c *Config) { c.Broker.Hosts = []string{"localhost"} }, "broker.hosts"},
		{"bad policy", func(c *Config) { c.Schema.OnUpdateFailure = "ignore" }, "on_update_failure"},
		{"bad cron", func(c *Config) { c.Schema.RefreshCron = "every minute" }, "refresh_cron"},
		{"bad sasl", func(c *Config) { c.Broker.Kafka.SASLMechanism = "gssapi" }, "sasl_mechanism"},
		{"negative rate", func(c *Config) { c.Registry.RequestsPerSecond = -1 }, "requests_per_second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			tt.mutate(&cfg)
			err := cfg.Validate(nil)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateMemoryBrokerNeedsNoHosts(t *testing.T) {
	cfg := Config{Broker: BrokerConfig{Type: "Memory"}}
	if err := cfg.Validate(nil); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Broker.Type != BrokerMemory {
		t.Errorf("type should be normalized, got %q", cfg.Broker.Type)
	}
	if len(cfg.Broker.Hosts) != 0 {
		t.Errorf("memory broker should not get default hosts, got %v", cfg.Broker.Hosts)
	}
}

func TestValidateCron(t *testing.T) {
	for _, expr := range []string{"", "*/5 * * * *", "0 */10 * * * *"} {
		if err := ValidateCron(expr); err != nil {
			t.Errorf("ValidateCron(%q): %v", expr, err)
		}
	}
	if err := ValidateCron("not a cron"); err == nil {
		t.Error("expected error for invalid expression")
	}
}

func TestReadCredentials(t *testing.T) {
	t.Run("properties style", func(t *testing.T) {
		p := writeFile(t, "es-auth.cfg", "user = harvest\npassword = s3cret\n")
		c, err := ReadCredentials(p)
		if err != nil {
			t.Fatalf("ReadCredentials: %v", err)
		}
		if c.User != "harvest" || c.Password != "s3cret" {
			t.Errorf("got %+v", c)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		p := writeFile(t, "auth.yaml", "user: admin\npassword: pw\n")
		c, err := ReadCredentials(p)
		if err != nil {
			t.Fatalf("ReadCredentials: %v", err)
		}
		if c.User != "admin" || c.Password != "pw" {
			t.Errorf("got %+v", c)
		}
	})

	t.Run("missing user", func(t *testing.T) {
		p := writeFile(t, "auth.toml", "password = \"pw\"\n")
		if _, err := ReadCredentials(p); err == nil {
			t.Fatal("expected error for missing user")
		}
	})
}
