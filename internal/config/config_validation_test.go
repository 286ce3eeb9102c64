package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected defaulted config to validate, got %v", err)
	}
}

func TestValidateRejectsZeroMaxEvents(t *testing.T) {
	cfg := validConfig()
	cfg.Batch.MaxEvents = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for max_events=0")
	}
}

func TestValidateRejectsNegativeMaxBytes(t *testing.T) {
	cfg := validConfig()
	cfg.Batch.MaxBytes = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative max_bytes")
	}
}

func TestValidateRejectsZeroTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Batch.Timeout = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for zero batch.timeout")
	}
}

func TestValidateRejectsKafkaEnabledWithoutBrokers(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for kafka.enabled without brokers")
	}
}

func TestValidateRejectsHTTPEnabledWithoutEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for http.enabled without endpoint")
	}
}

func TestValidateAcceptsKafkaWithBrokers(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.BreakerTimeout = 5 * time.Second
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid kafka config to pass, got %v", err)
	}
}
