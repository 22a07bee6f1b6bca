//go:build !darwin

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missionctl", "config.json")

	b := newFileBackend(path)
	if err := setKey(b, "mirror.port", "4300"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "sync.reconcile_interval", "90s"); err != nil {
		t.Fatalf("setKey: %v", err)
	}

	clearEnv(t)
	cfg, err := loadWith(newFileBackend(path), mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Mirror.Port != 4300 {
		t.Errorf("Mirror.Port = %d, want 4300", cfg.Mirror.Port)
	}
	if cfg.Sync.ReconcileInterval != 90*time.Second {
		t.Errorf("ReconcileInterval = %v, want 90s", cfg.Sync.ReconcileInterval)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestFileBackend_TypedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"stream.backoff_base": "250ms", "sync.reconcile_interval": 45, "stream.backoff_factor": 2.5, "stream.backoff_jitter": "0.3", "stream.backoff_max": "forever"}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	clearEnv(t)
	cfg, err := loadWith(newFileBackend(path), mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Stream.BackoffBase != 250*time.Millisecond {
		t.Errorf("BackoffBase = %v, want 250ms", cfg.Stream.BackoffBase)
	}
	if cfg.Sync.ReconcileInterval != 45*time.Second {
		t.Errorf("ReconcileInterval = %v, want 45s", cfg.Sync.ReconcileInterval)
	}
	if cfg.Stream.BackoffFactor != 2.5 {
		t.Errorf("BackoffFactor = %v, want 2.5", cfg.Stream.BackoffFactor)
	}
	if cfg.Stream.BackoffJitter != 0.3 {
		t.Errorf("BackoffJitter = %v, want 0.3", cfg.Stream.BackoffJitter)
	}
	if cfg.Stream.BackoffMax != defaults().Stream.BackoffMax {
		t.Errorf("BackoffMax = %v, want default", cfg.Stream.BackoffMax)
	}

	b := newFileBackend(path)
	if err := setKey(b, "stream.backoff_factor", "1.75"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "stream.backoff_max", "2m"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	var stored map[string]any
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatal(err)
	}
	if f, ok := stored["stream.backoff_factor"].(float64); !ok || f != 1.75 {
		t.Errorf("stored backoff_factor = %#v, want number 1.75", stored["stream.backoff_factor"])
	}
	if stored["stream.backoff_max"] != "2m0s" {
		t.Errorf("stored backoff_max = %#v, want \"2m0s\"", stored["stream.backoff_max"])
	}
}

func TestTokenStoreHint(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	got := tokenStoreHint(mirrorTokenAccount)
	if !strings.Contains(got, `"mirror_token"`) || !strings.Contains(got, "/data/missionctl/secrets.json") {
		t.Errorf("tokenStoreHint = %q", got)
	}
}

func TestReadSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(`{"missionctl":{"api_token":"tok-123"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := readSecret(path, secretService, tokenAccount)
	if err != nil {
		t.Fatalf("readSecret: %v", err)
	}
	if string(got) != "tok-123" {
		t.Errorf("secret = %q, want tok-123", got)
	}

	if _, err := readSecret(path, secretService, "other"); err == nil {
		t.Error("readSecret found a missing account")
	}
	if _, err := readSecret(filepath.Join(t.TempDir(), "none.json"), secretService, tokenAccount); err == nil {
		t.Error("readSecret succeeded without a file")
	}
}
