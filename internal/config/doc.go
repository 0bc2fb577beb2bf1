// ABOUTME: Package documentation for the config package
// ABOUTME: Describes YAML configuration with env expansion

// Package config loads parley-server configuration from YAML files.
//
// Configuration supports environment variable expansion with ${VAR_NAME}
// syntax and human-readable duration strings (for example "60s", "5m") for
// timing fields. Load parses, expands, and validates in one step.
package config
