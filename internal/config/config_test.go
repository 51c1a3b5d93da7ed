package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Account = Account{ProfileID: "0x01", Address: "0xabc"}
	cfg.Daemon.PersistTab = true
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadOrDefaultFillsGaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `default_session = "work"

[account]
profile_id = "0x01"

[ingestion]
batch_timeout = "3s"
max_attempts = 2
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadOrDefault(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ingestion.BatchTimeout.Duration != 3*time.Second || cfg.Ingestion.MaxAttempts != 2 {
		t.Errorf("ingestion = %+v", cfg.Ingestion)
	}
	if cfg.Ingestion.BaseBackoff != Default().Ingestion.BaseBackoff {
		t.Errorf("base_backoff = %s, want default", cfg.Ingestion.BaseBackoff)
	}
	if cfg.Network.MessagingURL == "" || cfg.Account.ProfileID != "0x01" {
		t.Errorf("config = %+v", cfg)
	}
}

func TestLoadOrDefaultRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad duration":     "[network]\nrequest_timeout = \"soon\"\n",
		"negative attempts": "[ingestion]\nmax_attempts = -1\n",
		"backoff inverted": "[ingestion]\nbase_backoff = \"10s\"\nmax_backoff = \"1s\"\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadOrDefault(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
