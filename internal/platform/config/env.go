package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces every variable the broker reads.
const EnvPrefix = "MASQUERADE_"

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ParseEnvWithLookup loads configuration using lookup instead of the process
// environment. Tag names are resolved relative to EnvPrefix.
func ParseEnvWithLookup(target any, lookup func(string) (string, bool)) error {
	environment := map[string]string{}
	if lookup != nil {
		keys, err := env.GetFieldParamsWithOptions(target, env.Options{Prefix: EnvPrefix})
		if err != nil {
			return fmt.Errorf("parse env: %w", err)
		}
		for _, key := range keys {
			if value, ok := lookup(key.Key); ok {
				environment[key.Key] = strings.TrimSpace(value)
			}
		}
	}
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix, Environment: environment}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
