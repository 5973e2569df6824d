// Package config provides server configuration for the Diaryx sync relay.
//
// This package defines the server configuration structure and validation:
//
//   - spec.go: ServerConfig struct definition
//   - default.go: Default configuration values
//   - verify.go: Validation of required fields, value ranges and token
//     hash format; creates the data directory
//   - sanitize.go: Log sanitization (hide sensitive values)
//
// Configuration is loaded via internal/infra/confloader from a YAML
// file and environment variables.
package config
