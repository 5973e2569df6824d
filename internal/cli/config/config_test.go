// Package config defines the CLI configuration structure.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.DefaultServer != "http://localhost:5080" {
		t.Errorf("DefaultServer = %q", cfg.DefaultServer)
	}
	if cfg.DefaultOutput != "table" {
		t.Errorf("DefaultOutput = %q", cfg.DefaultOutput)
	}
	if cfg.Connections == nil {
		t.Error("Connections map not initialized")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	if !strings.Contains(path, ".diaryx") {
		t.Errorf("config path %q not under .diaryx", path)
	}
	if filepath.Base(path) != "relay-cli.yaml" {
		t.Errorf("config file = %q", filepath.Base(path))
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultServer != Default().DefaultServer {
		t.Errorf("missing file did not yield defaults: %+v", cfg)
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	content := strings.Join([]string{
		"default_server: https://relay.example.com",
		"default_output: json",
		"current_connection: prod",
		"connections:",
		"  prod:",
		"    server: https://relay.example.com",
		"    token: tok-123",
		"    tls: true",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultServer != "https://relay.example.com" {
		t.Errorf("DefaultServer = %q", cfg.DefaultServer)
	}
	if cfg.DefaultOutput != "json" {
		t.Errorf("DefaultOutput = %q", cfg.DefaultOutput)
	}
	conn, ok := cfg.Connections["prod"]
	if !ok {
		t.Fatalf("prod connection missing: %+v", cfg.Connections)
	}
	if conn.Token != "tok-123" || !conn.TLS {
		t.Errorf("prod connection = %+v", conn)
	}
}
