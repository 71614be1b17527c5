package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.Provider.BaseURL = "http://backend:3000/api"
	cfg.HTTP.Listen = "127.0.0.1:9000"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Provider.BaseURL != "http://backend:3000/api" {
		t.Errorf("Provider.BaseURL = %q, want http://backend:3000/api", loaded.Provider.BaseURL)
	}
	if loaded.HTTP.Listen != "127.0.0.1:9000" {
		t.Errorf("HTTP.Listen = %q, want 127.0.0.1:9000", loaded.HTTP.Listen)
	}
}

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Notify.TimeoutMs != 5000 {
		t.Errorf("Notify.TimeoutMs = %d, want default 5000", cfg.Notify.TimeoutMs)
	}
	if cfg.HTTP.Listen == "" {
		t.Error("HTTP.Listen should have a default")
	}
}

func TestLoadFillsNotifyTimeout(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte("[notify]\ntimeout_ms = 0\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Notify.TimeoutMs != 5000 {
		t.Errorf("Notify.TimeoutMs = %d, want 5000 for zero config value", cfg.Notify.TimeoutMs)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
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
