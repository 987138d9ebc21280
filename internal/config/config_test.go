package config

import (
	"testing"
	"time"
)

func TestLoadDefaultsToStrictSignature(t *testing.T) {
	t.Setenv("DOKU_SIGNATURE_MODE", "")
	cfg := Load()
	if !cfg.Doku.StrictSignature() {
		t.Fatalf("expected strict signature mode by default, got %q", cfg.Doku.SignatureMode)
	}
}

func TestLoadSignatureMode(t *testing.T) {
	cases := map[string]bool{
		"lenient": false,
		"LENIENT": false,
		"strict":  true,
		"bogus":   true,
	}
	for raw, strict := range cases {
		t.Setenv("DOKU_SIGNATURE_MODE", raw)
		cfg := Load()
		if cfg.Doku.StrictSignature() != strict {
			t.Fatalf("mode %q: expected strict=%v", raw, strict)
		}
	}
}

func TestLoadKafkaBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")
	cfg := Load()
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("expected 2 brokers, got %v", cfg.Kafka.Brokers)
	}
	if !cfg.Kafka.Enabled() {
		t.Fatalf("expected kafka enabled")
	}
}

func TestValidateCheckoutConfig(t *testing.T) {
	cfg := DefaultCheckoutConfig()
	if err := validateCheckoutConfig(cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cfg.StatusPoll.Interval = 0
	if err := validateCheckoutConfig(cfg); err == nil {
		t.Fatalf("expected error for zero interval")
	}

	cfg = DefaultCheckoutConfig()
	cfg.StatusPoll.MaxAttempts = -1
	if err := validateCheckoutConfig(cfg); err == nil {
		t.Fatalf("expected error for negative attempts")
	}
}

func TestNilHolderReturnsDefaults(t *testing.T) {
	var holder *CheckoutConfigHolder
	if got := holder.Get().StatusPoll.Interval; got != 3*time.Second {
		t.Fatalf("expected default interval, got %s", got)
	}
}
