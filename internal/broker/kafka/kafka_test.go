package kafka

import (
	"testing"
)

func TestNewRequiresBrokers(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error when brokers are missing")
	}
}

func TestNewDefaults(t *testing.T) {
	tr, err := New(Config{Brokers: []string{" broker1:9092", "broker2:9092 "}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.cfg.Group != DefaultGroup {
		t.Errorf("default group: expected %q, got %q", DefaultGroup, tr.cfg.Group)
	}
	expected := []string{"broker1:9092", "broker2:9092"}
	for i, b := range tr.cfg.Brokers {
		if b != expected[i] {
			t.Errorf("broker %d: expected %q, got %q", i, expected[i], b)
		}
	}
	if tr.cfg.TLS {
		t.Error("TLS should be false by default")
	}
}

func TestNewSASL(t *testing.T) {
	for _, mech := range []string{"plain", "SCRAM-SHA-256", "scram-sha-512"} {
		_, err := New(Config{
			Brokers: []string{"localhost:9092"},
			SASL:    &SASLConfig{Mechanism: mech, User: "u", Password: "p"},
		})
		if err != nil {
			t.Errorf("%s: unexpected error: %v", mech, err)
		}
	}

	_, err := New(Config{
		Brokers: []string{"localhost:9092"},
		SASL:    &SASLConfig{Mechanism: "gssapi"},
	})
	if err == nil {
		t.Fatal("expected error for unsupported mechanism")
	}
}

func TestOpts(t *testing.T) {
	tr, err := New(Config{
		Brokers: []string{"localhost:9092"},
		TLS:     true,
		SASL:    &SASLConfig{Mechanism: "plain", User: "u", Password: "p"},
	})
	if err != nil {
		t.Fatal(err)
	}
	opts, err := tr.opts()
	if err != nil {
		t.Fatal(err)
	}
	if len(opts) != 3 {
		t.Errorf("opts = %d, want seed brokers, TLS and SASL", len(opts))
	}
}
