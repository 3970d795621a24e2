package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PageTimeout != 60*time.Second {
		t.Errorf("PageTimeout = %v, want 60s", cfg.PageTimeout)
	}
	if cfg.AuthTimeout != 5*time.Second {
		t.Errorf("AuthTimeout = %v, want 5s", cfg.AuthTimeout)
	}
	if len(cfg.Sources) != 2 {
		t.Errorf("Sources = %v, want two defaults", cfg.Sources)
	}
	if cfg.Selectors.EmailInput != `input[type="email"]` {
		t.Errorf("EmailInput = %q", cfg.Selectors.EmailInput)
	}
	if !cfg.Headless {
		t.Error("Headless should default to true")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORTAL_URL", "https://example.com/leads")
	t.Setenv("TABLE_SOURCES", "a.example, b.example")
	t.Setenv("PAGE_TIMEOUT", "30")
	t.Setenv("KEY_HASH_LEN", "16")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PortalURL != "https://example.com/leads" {
		t.Errorf("PortalURL = %q", cfg.PortalURL)
	}
	if len(cfg.Sources) != 2 || cfg.Sources[0] != "a.example" || cfg.Sources[1] != "b.example" {
		t.Errorf("Sources = %v", cfg.Sources)
	}
	if cfg.PageTimeout != 30*time.Second {
		t.Errorf("PageTimeout = %v, want 30s", cfg.PageTimeout)
	}
	if cfg.KeyHashLen != 16 {
		t.Errorf("KeyHashLen = %d, want 16", cfg.KeyHashLen)
	}
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	// WHAT: Env vars win over the YAML file; file wins over defaults.
	path := filepath.Join(t.TempDir(), "leadwatch.yaml")
	data := []byte("portal_url: https://file.example/leads\ndata_dir: /var/lib/lw\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORTAL_URL", "https://env.example/leads")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PortalURL != "https://env.example/leads" {
		t.Errorf("PortalURL = %q, env should win", cfg.PortalURL)
	}
	if cfg.DataDir != "/var/lib/lw" {
		t.Errorf("DataDir = %q, file should win over default", cfg.DataDir)
	}
	if cfg.StateFile != "/var/lib/lw/state.json" {
		t.Errorf("StateFile = %q, should derive from DataDir", cfg.StateFile)
	}
}

func TestHasCredentials(t *testing.T) {
	cfg := &Config{Email: "a@b", Password: "p", TOTPSecret: "s"}
	if !cfg.HasCredentials() {
		t.Error("full triple should report true")
	}
	cfg.TOTPSecret = ""
	if cfg.HasCredentials() {
		t.Error("partial triple should report false")
	}
}
