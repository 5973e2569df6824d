package command

import (
	"strings"
	"testing"
)

func TestApp(t *testing.T) {
	app := App()

	if app.Name != "diaryx-relay-cli" {
		t.Errorf("Name = %q, want diaryx-relay-cli", app.Name)
	}
	if !strings.Contains(app.Version, Version) {
		t.Errorf("Version = %q, missing %q", app.Version, Version)
	}

	wantCommands := []string{"system", "backup", "token", "config"}
	for _, name := range wantCommands {
		found := false
		for _, cmd := range app.Commands {
			if cmd.Name == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("command %q missing", name)
		}
	}
}

func TestGlobalFlags(t *testing.T) {
	flags := globalFlags()

	wantFlags := []string{"server", "token", "output", "wide", "verbose"}
	for _, name := range wantFlags {
		found := false
		for _, f := range flags {
			for _, n := range f.Names() {
				if n == name {
					found = true
				}
			}
		}
		if !found {
			t.Errorf("global flag %q missing", name)
		}
	}
}

func TestParseGlobalFlags(t *testing.T) {
	srv := newMockServer()
	defer srv.Close()

	c := makeTestContext(srv, map[string]any{
		"token":  "secret",
		"output": "json",
	}, nil)

	flags := ParseGlobalFlags(c)
	if flags.Server != srv.URL {
		t.Errorf("Server = %q, want %q", flags.Server, srv.URL)
	}
	if flags.Token != "secret" {
		t.Errorf("Token = %q", flags.Token)
	}
	if flags.Output != "json" {
		t.Errorf("Output = %q", flags.Output)
	}
}

func TestEnsureConnected(t *testing.T) {
	srv := newMockServer()
	defer srv.Close()

	client, err := EnsureConnected(testContext(srv))
	if err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}
	if client.BaseURL() != srv.URL {
		t.Errorf("BaseURL = %q, want %q", client.BaseURL(), srv.URL)
	}
}

func TestGetConnectionManager(t *testing.T) {
	srv := newMockServer()
	defer srv.Close()

	c := testContext(srv)
	if GetConnectionManager(c) == nil {
		t.Error("connection manager missing from app metadata")
	}
}
