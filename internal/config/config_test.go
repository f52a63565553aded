package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `{"moonraker_url": "http://127.0.0.1:7125"}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServiceURL != DefaultServiceURL {
		t.Errorf("service_url = %q, want default", cfg.ServiceURL)
	}
	if cfg.StateDir == "" {
		t.Error("state_dir not defaulted")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SERVICE_URL", "ws://localhost:8080/socket")
	path := writeConfig(t, `{"service_url": "wss://other.example", "moonraker_url": "http://127.0.0.1:7125"}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServiceURL != "ws://localhost:8080/socket" {
		t.Errorf("service_url = %q, want env override", cfg.ServiceURL)
	}
}

func TestValidateRejectsBadURLs(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"http service url", Config{ServiceURL: "https://x", MoonrakerURL: "http://y"}},
		{"missing moonraker", Config{ServiceURL: "wss://x"}},
		{"ws moonraker url", Config{ServiceURL: "wss://x", MoonrakerURL: "ws://y"}},
		{"bare snapshot url", Config{ServiceURL: "wss://x", MoonrakerURL: "http://y", SnapshotURL: "localhost/cam"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Error("Validate accepted invalid config")
			}
		})
	}
}

func TestStorePersistsSerial(t *testing.T) {
	path := writeConfig(t, `{"service_url": "wss://x", "moonraker_url": "http://127.0.0.1:7125"}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	store := NewStore(path, cfg)
	if err := store.SetSerial("PC400"); err != nil {
		t.Fatalf("SetSerial: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Serial != "PC400" {
		t.Errorf("persisted serial = %q, want PC400", reloaded.Serial)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config mode = %o, want 0600", perm)
	}
}
