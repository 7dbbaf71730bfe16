package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.BaseURL != "http://127.0.0.1:8080" {
		t.Fatalf("default base_url = %q", cfg.API.BaseURL)
	}
	if cfg.Probe.IntervalSeconds != 5 {
		t.Fatalf("default probe interval = %d", cfg.Probe.IntervalSeconds)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	workspace := t.TempDir()
	raw := []byte("api:\n  base_url: https://tasks.example.com\n  token: abc123\nprobe:\n  interval_seconds: 30\n")
	if err := os.WriteFile(filepath.Join(workspace, "taskline.yml"), raw, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(workspace)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.BaseURL != "https://tasks.example.com" {
		t.Fatalf("base_url = %q", cfg.API.BaseURL)
	}
	if cfg.API.Token != "abc123" {
		t.Fatalf("token = %q", cfg.API.Token)
	}
	if cfg.Probe.IntervalSeconds != 30 {
		t.Fatalf("probe interval = %d", cfg.Probe.IntervalSeconds)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("server addr = %q", cfg.Server.Addr)
	}
}

func TestFromYAMLRejectsRelativeURL(t *testing.T) {
	if _, err := FromYAML([]byte("api:\n  base_url: not-a-url\n")); err == nil {
		t.Fatal("expected validation error for relative base_url")
	}
}

func TestFromYAMLRejectsGarbage(t *testing.T) {
	if _, err := FromYAML([]byte("api: [this is not\n a mapping")); err == nil {
		t.Fatal("expected parse error")
	}
}
