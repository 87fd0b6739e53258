package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		DefaultProfile: "work",
		Backend: Backend{
			URL:    "https://chat.example.dev",
			UserID: "u-100",
		},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Backend.URL != "https://chat.example.dev" {
		t.Errorf("Backend.URL = %q", loaded.Backend.URL)
	}
}

func TestLoadMissingFileUsesEnvOnly(t *testing.T) {
	t.Setenv("PARLEY_BACKEND_URL", "https://env.example.dev")
	t.Setenv("PARLEY_USER_ID", "u-env")

	cfg, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.URL != "https://env.example.dev" {
		t.Errorf("Backend.URL = %q, want env value", cfg.Backend.URL)
	}
	if cfg.Backend.UserID != "u-env" {
		t.Errorf("Backend.UserID = %q, want env value", cfg.Backend.UserID)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := Save(path, &Config{Backend: Backend{APIKey: "file-key"}}); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PARLEY_API_KEY", "env-key")

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.Backend.APIKey)
	}
}

func TestRequestTimeoutDefault(t *testing.T) {
	cfg := &Config{}
	if got := cfg.RequestTimeout(); got != 15*time.Second {
		t.Errorf("RequestTimeout() = %v, want 15s default", got)
	}
	cfg.Backend.RequestTimeoutSecs = 3
	if got := cfg.RequestTimeout(); got != 3*time.Second {
		t.Errorf("RequestTimeout() = %v, want 3s", got)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
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
