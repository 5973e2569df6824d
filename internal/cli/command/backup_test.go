package command

import (
	"net/http"
	"testing"
)

func TestBackupCommandStructure(t *testing.T) {
	cmd := BackupCommand()
	if cmd.Name != "backup" {
		t.Errorf("Name = %q", cmd.Name)
	}
	if len(cmd.Subcommands) == 0 || cmd.Subcommands[0].Name != "create" {
		t.Errorf("create subcommand missing")
	}
}

func TestBackupCreate(t *testing.T) {
	srv := newMockServer()
	defer srv.Close()

	srv.handle("/admin/v1/backups/snapshots", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("workspace"); got != "w1" {
			t.Errorf("workspace param = %q", got)
		}
		jsonResponse(w, http.StatusOK, map[string]any{
			"id":         "20260801-120000-abcd1234",
			"doc_count":  7,
			"size_bytes": 4096,
		})
	})

	if err := backupCreate(testContext(srv, "w1")); err != nil {
		t.Fatalf("backupCreate: %v", err)
	}
}

func TestBackupCreateRequiresWorkspace(t *testing.T) {
	srv := newMockServer()
	defer srv.Close()

	if err := backupCreate(testContext(srv)); err == nil {
		t.Fatal("missing workspace id accepted")
	}
}
