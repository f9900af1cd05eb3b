package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Path != "data/placedex.db" {
		t.Errorf("unexpected database path %q", cfg.Database.Path)
	}
	if cfg.Database.OpTimeout != 10*time.Second {
		t.Errorf("unexpected op timeout %v", cfg.Database.OpTimeout)
	}
	if !cfg.Cache.Enabled {
		t.Error("expected cache enabled by default")
	}
	if cfg.Cache.Sheet != "Places" {
		t.Errorf("unexpected sheet %q", cfg.Cache.Sheet)
	}
	if cfg.Cache.BackupCount != 5 {
		t.Errorf("unexpected backup count %d", cfg.Cache.BackupCount)
	}
	if cfg.Sync.FastMode {
		t.Error("expected fast mode off by default")
	}
	if cfg.Sync.StalenessThreshold != 5*time.Minute {
		t.Errorf("unexpected staleness threshold %v", cfg.Sync.StalenessThreshold)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("unexpected port %d", cfg.Server.Port)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	content := `
database:
  path: /tmp/custom.db
cache:
  enabled: false
  path: /tmp/custom.xlsx
sync:
  fast_mode: true
  staleness_threshold: 30s
server:
  port: 9090
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != "/tmp/custom.db" {
		t.Errorf("unexpected database path %q", cfg.Database.Path)
	}
	if cfg.Cache.Enabled {
		t.Error("expected cache disabled")
	}
	if !cfg.Sync.FastMode {
		t.Error("expected fast mode on")
	}
	if cfg.Sync.StalenessThreshold != 30*time.Second {
		t.Errorf("unexpected staleness threshold %v", cfg.Sync.StalenessThreshold)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("unexpected port %d", cfg.Server.Port)
	}
	// Unset keys keep their defaults.
	if cfg.Cache.Sheet != "Places" {
		t.Errorf("default sheet lost: %q", cfg.Cache.Sheet)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PLACEDEX_SERVER_PORT", "7001")
	t.Setenv("PLACEDEX_SYNC_FAST_MODE", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7001 {
		t.Errorf("env port override not applied: %d", cfg.Server.Port)
	}
	if !cfg.Sync.FastMode {
		t.Error("env fast mode override not applied")
	}
}
