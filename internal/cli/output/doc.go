// Package output provides output formatting for diaryx-relay-cli.
//
// This package handles all CLI output formatting:
//
//   - formatter.go: Formatter interface and factory
//   - table.go: Table rendering with wide mode support
//   - json.go: JSON output formatting
//   - yaml.go: YAML formatter placeholder (writes no output)
//   - spinner.go: Progress animation for long operations
//   - progress.go: Progress bar for transfers
//
// Formatters support:
//
//   - Table and JSON output (the YAML formatter is empty)
//   - Wide mode for additional columns
//   - Machine-readable output for scripting
package output
