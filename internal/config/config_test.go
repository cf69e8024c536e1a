package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWhenEmpty(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
log_level = " debug "
max_sockets = 16
metrics_addr = "127.0.0.1:9464"
backend = "Memory"
timeout = "2s"
dial_retry = "10ms"
inbox_size = 8
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	want := Config{
		LogLevel:    "debug",
		MaxSockets:  16,
		MetricsAddr: "127.0.0.1:9464",
		Backend:     BackendMemory,
		Timeout:     2 * time.Second,
		DialRetry:   10 * time.Millisecond,
		InboxSize:   8,
	}
	if cfg != want {
		t.Fatalf("unexpected config:\n got %+v\nwant %+v", cfg, want)
	}
}

func TestLoadTemplateMatchesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zmqport.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("template drifted from defaults: %+v", cfg)
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	path := writeConfig(t, "max_sockets = 1\n")
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected overwrite to be refused")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	if string(b) != Template() {
		t.Fatalf("unexpected template contents: %q", b)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad duration":    `timeout = "soon"`,
		"bad dial retry":  `dial_retry = "-1s"`,
		"zero sockets":    `max_sockets = 0`,
		"too many":        `max_sockets = 1000000`,
		"unknown backend": `backend = "czmq"`,
		"unknown key":     `linger = "1s"`,
		"bad syntax":      `max_sockets = `,
		"zero inbox":      `inbox_size = 0`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected load error for %q", body)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
