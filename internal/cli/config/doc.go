// Package config provides CLI configuration for diaryx-relay-cli.
//
// This package defines CLI-specific configuration:
//
//   - spec.go: CLIConfig struct (~/.diaryx/relay-cli.yaml)
//   - loader.go: Configuration loading and merging
//
// Configuration includes:
//
//   - Default server and output format
//   - Saved named connections and the current one
package config
