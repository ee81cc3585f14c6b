package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fujiraw.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
output_dir = "/tmp/jpegs"
poll_timeout_s = 120

[debug]
ptp = true
`)

	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OutputDir != "/tmp/jpegs" {
		t.Errorf("OutputDir %q", cfg.OutputDir)
	}
	if cfg.PollTimeout != 120 {
		t.Errorf("PollTimeout %d, want 120", cfg.PollTimeout)
	}
	if !cfg.Debug.PTP || cfg.Debug.USB {
		t.Errorf("debug flags %+v", cfg.Debug)
	}
	// Untouched keys keep their defaults.
	if cfg.PollInterval != Default().PollInterval {
		t.Errorf("PollInterval %d, want default", cfg.PollInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.toml")

	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("implicit missing file: %v", err)
	}
	if cfg != Default() {
		t.Errorf("got %+v, want defaults", cfg)
	}

	if _, err := Load(path, true); err == nil {
		t.Error("explicit missing file accepted")
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, `polling_interval = 5`)
	if _, err := Load(path, true); err == nil {
		t.Error("unknown key accepted")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := writeConfig(t, `poll_interval_ms = 0`)
	if _, err := Load(path, true); err == nil {
		t.Error("zero poll interval accepted")
	}
}
