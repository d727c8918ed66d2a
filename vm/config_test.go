package vm

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.StackSize != 10000 || cfg.EnvFrames != 1024 || cfg.ContFrames != 1024 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.StorePath == "" {
		t.Fatal("empty default store path")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skim.toml")
	content := `
stack_size = 4096
env_frames = 256
store_path = "/tmp/images.db"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StackSize != 4096 || cfg.EnvFrames != 256 {
		t.Fatalf("cfg = %+v", cfg)
	}
	// Unset keys keep their defaults.
	if cfg.ContFrames != 1024 {
		t.Fatalf("ContFrames = %d, want default 1024", cfg.ContFrames)
	}
	if cfg.StorePath != "/tmp/images.db" {
		t.Fatalf("StorePath = %q", cfg.StorePath)
	}
}

func TestLoadConfigMissingExplicit(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("missing explicit config did not error")
	}
}

func TestLoadConfigRejectsTinyLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skim.toml")
	if err := os.WriteFile(path, []byte("stack_size = 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "too small") {
		t.Fatalf("err = %v, want a too-small complaint", err)
	}
}

func TestLoadConfigBadSyntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skim.toml")
	if err := os.WriteFile(path, []byte("stack_size = ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("malformed TOML did not error")
	}
}
