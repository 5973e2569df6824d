// Package command provides CLI command definitions for diaryx-relay-cli.
//
// This package defines all CLI commands using urfave/cli/v2:
//
//   - root.go: Root command and global flags
//   - system.go: System subcommand group (status, health, gc)
//   - backup.go: Backup subcommand group (snapshot create)
//   - token.go: Token subcommand group (generate)
//   - config.go: Configuration subcommand group
//
// Commands follow a consistent pattern of parsing flags,
// calling the appropriate service, and formatting output.
package command
