package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("file", "", "")
	return cmd
}

func TestGetSQLInput_FromArgs(t *testing.T) {
	sql, err := getSQLInput(newTestCmd(), []string{"SELECT 1"})
	if err != nil {
		t.Fatalf("getSQLInput error: %v", err)
	}
	if sql != "SELECT 1" {
		t.Errorf("sql = %q", sql)
	}
}

func TestGetSQLInput_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query.sql")
	if err := os.WriteFile(path, []byte("  SELECT id FROM dbo.T\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cmd := newTestCmd()
	if err := cmd.Flags().Set("file", path); err != nil {
		t.Fatal(err)
	}
	sql, err := getSQLInput(cmd, nil)
	if err != nil {
		t.Fatalf("getSQLInput error: %v", err)
	}
	if sql != "SELECT id FROM dbo.T" {
		t.Errorf("sql = %q", sql)
	}
}

func TestGetSQLInput_MissingFile(t *testing.T) {
	cmd := newTestCmd()
	if err := cmd.Flags().Set("file", "/nonexistent/query.sql"); err != nil {
		t.Fatal(err)
	}
	if _, err := getSQLInput(cmd, nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	want := map[string]bool{"review": false, "query": false, "explain": false, "schema": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
