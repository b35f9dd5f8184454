package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Monitor.Symbols; len(got) != 1 || got[0] != "WHITEWHALEUSDT" {
		t.Fatalf("unexpected default symbols: %v", got)
	}
	if cfg.Monitor.Depth != 50 {
		t.Fatalf("unexpected default depth: %d", cfg.Monitor.Depth)
	}
	if cfg.Store.DBFile != filepath.Join("data", "depthwatch.db") {
		t.Fatalf("unexpected db file: %s", cfg.Store.DBFile)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	yml := "monitor:\n  depth: 25\n  symbols: [ethusdt]\nserver:\n  port: 8080\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("DEPTH", "10")
	t.Setenv("SYMBOLS", "btcusdt, solusdt")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Monitor.Depth != 10 {
		t.Fatalf("env should win over yaml, got depth %d", cfg.Monitor.Depth)
	}
	if len(cfg.Monitor.Symbols) != 2 || cfg.Monitor.Symbols[0] != "BTCUSDT" || cfg.Monitor.Symbols[1] != "SOLUSDT" {
		t.Fatalf("symbols not upper-cased/split: %v", cfg.Monitor.Symbols)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("yaml port lost: %d", cfg.Server.Port)
	}
}

func TestLoadMissingFileIsFine(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
}

func TestBasePathNormalization(t *testing.T) {
	cases := map[string]string{
		"":          "",
		"/":         "",
		"monitor":   "/monitor",
		"/monitor/": "/monitor",
	}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLiveMonitoringFalsy(t *testing.T) {
	t.Setenv("LIVE_MONITORING", "false")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Monitor.LiveMonitoring {
		t.Fatal("LIVE_MONITORING=false should disable feeds")
	}
}
