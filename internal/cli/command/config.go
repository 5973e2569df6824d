// Package command provides CLI command definitions for
// diaryx-relay-cli.
package command

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	cliconfig "github.com/diaryx/syncd/internal/cli/config"
	"github.com/diaryx/syncd/internal/infra/confloader"
	serverconfig "github.com/diaryx/syncd/internal/server/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration management",
		Subcommands: []*cli.Command{
			{
				Name:  "cli",
				Usage: "CLI local configuration",
				Subcommands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Show CLI configuration",
						Action: configCLIShow,
					},
					{
						Name:   "validate",
						Usage:  "Validate CLI configuration",
						Action: configCLIValidate,
					},
				},
			},
			{
				Name:    "server",
				Aliases: []string{"cfg"},
				Usage:   "Server configuration management",
				Subcommands: []*cli.Command{
					{
						Name:      "test",
						Usage:     "Validate a relay configuration file locally",
						ArgsUsage: "FILE",
						Action:    configServerTest,
					},
				},
			},
		},
	}
}

func configCLIShow(c *cli.Context) error {
	fmt.Printf("CLI Configuration\n")
	fmt.Printf("=================\n\n")

	configPath := cliconfig.DefaultConfigPath()
	fmt.Printf("Config file: %s\n\n", configPath)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("(No configuration file found)\n")
		fmt.Printf("\nDefault settings:\n")
		fmt.Printf("  Server:   localhost:5080\n")
		fmt.Printf("  Output:   table\n")
		fmt.Printf("  Timeout:  30s\n")
		return nil
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	fmt.Printf("%s\n", string(content))
	return nil
}

func configCLIValidate(c *cli.Context) error {
	configPath := cliconfig.DefaultConfigPath()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("No configuration file found at %s\n", configPath)
		fmt.Printf("Using default settings.\n")
		return nil
	}

	if _, err := cliconfig.Load(configPath); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Printf("✓ Configuration file is valid: %s\n", configPath)
	return nil
}

func configServerTest(c *cli.Context) error {
	filePath := c.Args().First()
	if filePath == "" {
		return fmt.Errorf("configuration file path required")
	}

	fmt.Printf("Testing configuration %s...\n", filePath)

	loader := confloader.NewLoader(confloader.WithConfigFile(filePath))
	cfg := serverconfig.Default()
	if err := loader.Load(cfg); err != nil {
		return fmt.Errorf("parse configuration: %w", err)
	}
	if err := serverconfig.Verify(cfg); err != nil {
		fmt.Printf("✗ Configuration validation failed:\n")
		fmt.Printf("  - %s\n", err)
		return fmt.Errorf("validation failed")
	}

	fmt.Printf("✓ Configuration is valid.\n")
	return nil
}
