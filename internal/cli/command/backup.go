// Package command provides CLI command definitions for
// diaryx-relay-cli.
package command

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/diaryx/syncd/internal/cli/connection"
	"github.com/diaryx/syncd/internal/cli/output"
)

// BackupCommand returns the backup subcommand group.
func BackupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Durable snapshot management",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Capture a durable snapshot for a workspace",
				ArgsUsage: "WORKSPACE_ID",
				Action:    backupCreate,
			},
		},
	}
}

func backupCreate(c *cli.Context) error {
	workspaceID := c.Args().First()
	if workspaceID == "" {
		return fmt.Errorf("workspace id is required")
	}

	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	resp, err := client.Post(ctx, "/admin/v1/backups/snapshots?workspace="+workspaceID, nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var result struct {
		ID            string `json:"id"`
		Path          string `json:"path"`
		DocCount      int64  `json:"doc_count"`
		WALLastOffset uint64 `json:"wal_last_offset"`
		Size          int64  `json:"size_bytes"`
	}
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}

	flags := ParseGlobalFlags(c)
	switch output.Format(flags.Output) {
	case output.FormatJSON:
		formatter := &output.JSONFormatter{}
		return formatter.Format(os.Stdout, result)
	default:
		fmt.Printf("Snapshot created:\n")
		fmt.Printf("  ID:        %s\n", result.ID)
		fmt.Printf("  Documents: %d\n", result.DocCount)
		fmt.Printf("  Size:      %.2f KB\n", float64(result.Size)/1024)
		return nil
	}
}
