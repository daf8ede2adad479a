// Package cyconfig loads translator configuration from environment
// variables, the way pkg/config.LoadFromEnv loads server configuration:
// one struct, one loader function, sane defaults when a variable is
// unset.
package cyconfig

import (
	"os"
	"strconv"
)

// Config holds translator-wide settings sourced from the environment.
type Config struct {
	// MaxHops bounds unbounded variable-length patterns.
	// CYPHERSQL_MAX_CTE_DEPTH.
	MaxHops int

	// SchemaPath is the default graph schema YAML file, used by the CLI
	// when no --schema flag is given. CYPHERSQL_SCHEMA_PATH.
	SchemaPath string
}

// LoadFromEnv builds a Config from environment variables, defaulting
// MaxHops to 15 and SchemaPath to "schema.yaml" when unset.
func LoadFromEnv() Config {
	cfg := Config{
		MaxHops:    15,
		SchemaPath: "schema.yaml",
	}
	if v := os.Getenv("CYPHERSQL_MAX_CTE_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxHops = n
		}
	}
	if v := os.Getenv("CYPHERSQL_SCHEMA_PATH"); v != "" {
		cfg.SchemaPath = v
	}
	return cfg
}
