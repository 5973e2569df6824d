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

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "System management commands",
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show relay status summary",
				Action: systemStatus,
			},
			{
				Name:   "health",
				Usage:  "Check relay health",
				Action: systemHealth,
			},
			{
				Name:   "gc",
				Usage:  "Trigger tombstone garbage collection",
				Action: systemGC,
			},
		},
	}
}

func systemStatus(c *cli.Context) error {
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.Get(ctx, "/admin/v1/status/summary")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var result struct {
		Version    string `json:"version"`
		Workspaces []struct {
			WorkspaceID string `json:"workspace_id"`
			Files       int    `json:"files"`
			Tombstoned  int    `json:"tombstoned"`
			LogEntries  int    `json:"log_entries"`
		} `json:"workspaces"`
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
		fmt.Printf("Relay Status\n")
		fmt.Printf("============\n\n")
		fmt.Printf("Version:    %s\n", result.Version)
		fmt.Printf("Workspaces: %d\n\n", len(result.Workspaces))
		for _, ws := range result.Workspaces {
			fmt.Printf("  %s: %d files (%d tombstoned, %d log entries)\n",
				ws.WorkspaceID, ws.Files, ws.Tombstoned, ws.LogEntries)
		}
		return nil
	}
}

func systemHealth(c *cli.Context) error {
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Check health endpoint (no auth required)
	resp, err := client.Get(ctx, "/health")
	if err != nil {
		PrintError("Health check failed: %v", err)
		return fmt.Errorf("server unhealthy")
	}

	var result struct {
		Status string `json:"status"`
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
		if result.Status == "healthy" {
			fmt.Printf("✓ Relay is healthy\n")
			fmt.Printf("  Target: %s\n", client.BaseURL())
		} else {
			fmt.Printf("✗ Relay is unhealthy: %s\n", result.Status)
		}
		return nil
	}
}

func systemGC(c *cli.Context) error {
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	fmt.Println("Triggering tombstone collection...")

	resp, err := client.Post(ctx, "/admin/v1/gc/trigger", map[string]any{})
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var result struct {
		Removed map[string][]string `json:"removed"`
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
		total := 0
		for _, paths := range result.Removed {
			total += len(paths)
		}
		fmt.Printf("\nCollection completed:\n")
		fmt.Printf("  Workspaces swept: %d\n", len(result.Removed))
		fmt.Printf("  Records removed:  %d\n", total)
		return nil
	}
}
