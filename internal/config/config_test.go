package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadValidConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
transport_url: wss://gateway.example.invalid/ws
workspace_id: ws-42
canonical_events: true
log_level: debug
memory:
  openai_api_key: sk-test
  summary_model: gpt-4.1-mini
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkspaceID != "ws-42" || !cfg.CanonicalEvents {
		t.Fatalf("cfg=%+v", cfg)
	}
	if !cfg.Memory.Enabled() {
		t.Fatalf("memory should be enabled")
	}
	if cfg.StateDir != dir {
		t.Fatalf("state dir=%q, want config dir default", cfg.StateDir)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()
	cases := []Config{
		{},
		{TransportURL: "https://not-websocket", WorkspaceID: "ws"},
		{TransportURL: "wss://ok/ws"},
		{TransportURL: "wss://ok/ws", WorkspaceID: "ws", LogFormat: "xml"},
		{TransportURL: "wss://ok/ws", WorkspaceID: "ws", LogLevel: "loud"},
	}
	for i, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected error for %+v", i, cfg)
		}
	}
	ok := Config{TransportURL: "ws://localhost:8080/ws", WorkspaceID: "ws"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{
		TransportURL: "wss://gw/ws",
		WorkspaceID:  "ws-7",
		SteerEnabled: true,
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.TransportURL != cfg.TransportURL || !got.SteerEnabled {
		t.Fatalf("round trip=%+v", got)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("perm=%v, want 0600", info.Mode().Perm())
	}
}
