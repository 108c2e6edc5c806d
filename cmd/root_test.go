package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestExecute_Version verifies --version prints a version string.
func TestExecute_Version(t *testing.T) {
	if err := Execute(context.Background(), []string{"--version"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestExecute_Help verifies --help returns without error.
func TestExecute_Help(t *testing.T) {
	if err := Execute(context.Background(), []string{"--help"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestExecute_DryRun verifies --dry-run validates and exits cleanly.
func TestExecute_DryRun(t *testing.T) {
	err := Execute(context.Background(), []string{
		"-b", "vdr.local", "--dry-run",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestExecute_DryRunPositional verifies the svdrpsend-style argument
// form.
func TestExecute_DryRunPositional(t *testing.T) {
	err := Execute(context.Background(), []string{
		"--dry-run", "vdr.local", "2001",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestExecute_DryRunInvalid verifies --dry-run still catches bad configs.
func TestExecute_DryRunInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no backend", []string{"--dry-run"}},
		{"bad ordering", []string{"-b", "vdr", "-o", "random", "--dry-run"}},
		{"flag and positional backend", []string{"-b", "vdr", "other", "--dry-run"}},
		{"too many arguments", []string{"a", "b", "c", "--dry-run"}},
		{"bad tunnel spec", []string{"-b", "vdr", "-T", "user@", "--dry-run"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Execute(context.Background(), tt.args); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

// TestExecute_InvalidFlags verifies unknown flags produce an error.
func TestExecute_InvalidFlags(t *testing.T) {
	if err := Execute(context.Background(), []string{"--nonexistent-flag"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

// TestExecute_ConfigFile verifies -C loads the file and flags still win.
func TestExecute_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	content := "backend = \"filehost:2001\"\nordering = \"fifo\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := Execute(context.Background(), []string{"-C", path, "--dry-run"}); err != nil {
		t.Fatalf("config file run: %v", err)
	}

	// A flag overrides the same setting from the file.
	err := Execute(context.Background(), []string{
		"-C", path, "-o", "lifo", "--dry-run",
	})
	if err != nil {
		t.Fatalf("flag override run: %v", err)
	}
}

// TestExecute_ConfigFileMissing verifies a bad -C path errors out.
func TestExecute_ConfigFileMissing(t *testing.T) {
	err := Execute(context.Background(), []string{"-C", "/nonexistent/relay.toml"})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestFindConfigFlag(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"short separate", []string{"-C", "a.toml"}, "a.toml"},
		{"long separate", []string{"-v", "--config", "b.toml"}, "b.toml"},
		{"long equals", []string{"--config=c.toml"}, "c.toml"},
		{"absent", []string{"-b", "vdr"}, ""},
		{"dangling", []string{"-C"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findConfigFlag(tt.args); got != tt.want {
				t.Errorf("findConfigFlag(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

// TestExecute_EnvOverlay verifies environment variables feed the config.
func TestExecute_EnvOverlay(t *testing.T) {
	t.Setenv("SVDRPMUX_BACKEND", "envhost:2001")
	if err := Execute(context.Background(), []string{"--dry-run"}); err != nil {
		t.Fatalf("env-configured run: %v", err)
	}
}

// TestUsageMentionsBackend keeps the usage text honest about the one
// required setting.
func TestUsageMentionsBackend(t *testing.T) {
	err := Execute(context.Background(), []string{"--dry-run"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "backend") {
		t.Errorf("error should mention the backend: %v", err)
	}
}
