package main

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_UsesConfigFlag(t *testing.T) {
	root := t.TempDir()
	if err := writeTestFile(filepath.Join(root, "custom.json"), `{
  "owner_id": 7,
  "devs": "8,9",
  "access": "public",
  "paths": {"sandbox": "box", "plugins": "mods"},
  "retention": {"keep_last": 10}
}`); err != nil {
		t.Fatalf("write config: %v", err)
	}

	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("config", "custom.json")

	cfg, err := loadConfig(root)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.OwnerID != 7 {
		t.Fatalf("owner_id = %d, want 7", cfg.OwnerID)
	}
	if len(cfg.Devs) != 2 || cfg.Devs[0] != 8 || cfg.Devs[1] != 9 {
		t.Fatalf("devs = %v, want [8 9]", cfg.Devs)
	}
	if cfg.Paths.Sandbox != filepath.Join(root, "box") {
		t.Fatalf("paths.sandbox = %q, want %q", cfg.Paths.Sandbox, filepath.Join(root, "box"))
	}
	if cfg.Retention.KeepLast != 10 {
		t.Fatalf("retention.keep_last = %d, want 10", cfg.Retention.KeepLast)
	}
}

func TestLoadConfig_RejectsUnknownKeys(t *testing.T) {
	root := t.TempDir()
	if err := writeTestFile(filepath.Join(root, defaultConfigPath), `{"paths": {"bogus": "x"}}`); err != nil {
		t.Fatalf("write config: %v", err)
	}

	viper.Reset()
	t.Cleanup(viper.Reset)

	if _, err := loadConfig(root); err == nil {
		t.Fatal("load config: expected schema error")
	}
}
