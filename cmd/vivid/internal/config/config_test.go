package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Listen != "localhost:8090" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.Root != "." {
		t.Errorf("root = %q", cfg.Root)
	}
	if !cfg.Metrics {
		t.Error("metrics should default on")
	}
	if cfg.ReloadInterval() != time.Second {
		t.Errorf("reload interval = %v", cfg.ReloadInterval())
	}
}

func TestParseOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Parse([]byte("listen: \"0.0.0.0:9000\"\nroot: \"" + dir + "\"\nreload: \"250ms\"\nminify: true\nmetrics: false\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.Root != dir {
		t.Errorf("root = %q", cfg.Root)
	}
	if cfg.BaseDir != dir {
		t.Errorf("base_dir should fall back to root, got %q", cfg.BaseDir)
	}
	if cfg.ReloadInterval() != 250*time.Millisecond {
		t.Errorf("reload interval = %v", cfg.ReloadInterval())
	}
	if !cfg.Minify || cfg.Metrics {
		t.Errorf("minify=%v metrics=%v", cfg.Minify, cfg.Metrics)
	}
}

func TestParseEmptyReloadDisablesPolling(t *testing.T) {
	cfg, err := Parse([]byte("listen: \"localhost:1234\"\nroot: \".\"\nreload: \"\"\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ReloadInterval() != 0 {
		t.Errorf("reload interval = %v, want 0", cfg.ReloadInterval())
	}
}

func TestParseRejectsBadListen(t *testing.T) {
	_, err := Parse([]byte("listen: \"not a listen address\"\nroot: \".\"\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "listen") {
		t.Errorf("error does not name the field: %v", err)
	}
}

func TestParseRejectsMissingRoot(t *testing.T) {
	_, err := Parse([]byte("listen: \"localhost:1234\"\nroot: \"/does/not/exist\"\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "root") {
		t.Errorf("error does not name the field: %v", err)
	}
}

func TestParseRejectsTinyReload(t *testing.T) {
	_, err := Parse([]byte("listen: \"localhost:1234\"\nroot: \".\"\nreload: \"5ms\"\n"))
	if err == nil {
		t.Fatal("expected reload floor error")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != Default().Listen {
		t.Errorf("listen = %q", cfg.Listen)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for explicit missing config")
	}
}

func TestLoadReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vivid.yaml")
	if err := os.WriteFile(path, []byte("listen: \"localhost:7777\"\nroot: \""+dir+"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "localhost:7777" {
		t.Errorf("listen = %q", cfg.Listen)
	}
}
