package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Port int `env:"MASQUERADE_TEST_PORT" envDefault:"123"`
}

type prefixedTestConfig struct {
	Freshness time.Duration `env:"TEST_FRESHNESS" envDefault:"2h"`
	Origin    string        `env:"TEST_ORIGIN" envDefault:"https://masquerade.local"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("MASQUERADE_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParseEnvWithLookupUsesPrefix(t *testing.T) {
	values := map[string]string{
		"MASQUERADE_TEST_FRESHNESS": " 30m ",
	}
	var cfg prefixedTestConfig
	err := ParseEnvWithLookup(&cfg, func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	})
	if err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Freshness != 30*time.Minute {
		t.Fatalf("expected 30m freshness, got %v", cfg.Freshness)
	}
	if cfg.Origin != "https://masquerade.local" {
		t.Fatalf("expected default origin, got %q", cfg.Origin)
	}
}

func TestParseEnvWithNilLookupUsesDefaults(t *testing.T) {
	var cfg prefixedTestConfig
	if err := ParseEnvWithLookup(&cfg, nil); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Freshness != 2*time.Hour {
		t.Fatalf("expected 2h freshness, got %v", cfg.Freshness)
	}
}
