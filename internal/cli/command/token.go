// Package command provides CLI command definitions for
// diaryx-relay-cli.
package command

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/diaryx/syncd/internal/cli/output"
	"github.com/diaryx/syncd/pkg/token"
)

// TokenCommand returns the token subcommand group.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Bearer token utilities",
		Subcommands: []*cli.Command{
			{
				Name:   "generate",
				Usage:  "Mint a bearer token and print the hash to configure on the relay",
				Action: tokenGenerate,
			},
		},
	}
}

func tokenGenerate(c *cli.Context) error {
	tok, err := token.Generate()
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	hash := token.Hash(tok)

	flags := ParseGlobalFlags(c)
	switch output.Format(flags.Output) {
	case output.FormatJSON:
		formatter := &output.JSONFormatter{}
		return formatter.Format(os.Stdout, map[string]string{
			"token": tok,
			"hash":  hash,
		})
	default:
		fmt.Printf("Token:  %s\n", tok)
		fmt.Printf("Hash:   %s\n\n", hash)
		fmt.Printf("Add the hash to the relay config under security.token_hashes;\n")
		fmt.Printf("hand the token itself to the client. The relay never stores it.\n")
		return nil
	}
}
