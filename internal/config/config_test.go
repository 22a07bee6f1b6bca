package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

// accountKeychain answers per account and fails for unknown ones.
type accountKeychain map[string]string

func (k accountKeychain) Get(service, account string) (string, error) {
	if v, ok := k[account]; ok && service == secretService {
		return v, nil
	}
	return "", errors.New("item not found")
}

// mapBackend is an in-memory ConfigBackend. Keys in errs fail to decode.
type mapBackend struct {
	strings   map[string]string
	ints      map[string]int
	floats    map[string]float64
	durations map[string]time.Duration
	errs      map[string]error
}

func newMapBackend() *mapBackend {
	return &mapBackend{
		strings:   map[string]string{},
		ints:      map[string]int{},
		floats:    map[string]float64{},
		durations: map[string]time.Duration{},
		errs:      map[string]error{},
	}
}

func (m *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *mapBackend) GetFloat(key string) (float64, bool, error) {
	if err, ok := m.errs[key]; ok {
		return 0, true, err
	}
	v, ok := m.floats[key]
	return v, ok, nil
}

func (m *mapBackend) GetDuration(key string) (time.Duration, bool, error) {
	if err, ok := m.errs[key]; ok {
		return 0, true, err
	}
	v, ok := m.durations[key]
	return v, ok, nil
}

func (m *mapBackend) SetString(key, val string) error {
	m.strings[key] = val
	return nil
}

func (m *mapBackend) SetInt(key string, val int) error {
	m.ints[key] = val
	return nil
}

func (m *mapBackend) SetFloat(key string, val float64) error {
	m.floats[key] = val
	return nil
}

func (m *mapBackend) SetDuration(key string, val time.Duration) error {
	m.durations[key] = val
	return nil
}

func (m *mapBackend) Delete(key string) error {
	delete(m.strings, key)
	delete(m.ints, key)
	delete(m.floats, key)
	delete(m.durations, key)
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied with an empty backend.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMapBackend(), mockKeychain{err: errors.New("no keychain")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.BaseURL != "http://localhost:8000" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.Stream.BackoffBase != time.Second || cfg.Stream.BackoffMax != 5*time.Minute {
		t.Errorf("backoff base/max = %v/%v, want 1s/5m", cfg.Stream.BackoffBase, cfg.Stream.BackoffMax)
	}
	if cfg.Stream.BackoffFactor != 2 || cfg.Stream.BackoffJitter != 0.2 {
		t.Errorf("backoff factor/jitter = %v/%v, want 2/0.2", cfg.Stream.BackoffFactor, cfg.Stream.BackoffJitter)
	}
	if cfg.Sync.ReconcileInterval != 5*time.Minute {
		t.Errorf("Sync.ReconcileInterval = %v", cfg.Sync.ReconcileInterval)
	}
	if cfg.Mirror.Port != 4100 {
		t.Errorf("Mirror.Port = %d, want 4100", cfg.Mirror.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.SignedIn() {
		t.Error("SignedIn = true without a token")
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := newMapBackend()
	b.strings["api.base_url"] = "https://mc.example.com/"
	b.durations["stream.backoff_base"] = 500 * time.Millisecond
	b.floats["stream.backoff_factor"] = 3
	b.durations["sync.reconcile_interval"] = 0
	b.strings["storage.data_dir"] = "/tmp/missionctl-test"
	b.ints["mirror.port"] = 5100

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.BaseURL != "https://mc.example.com" {
		t.Errorf("API.BaseURL = %q, want trailing slash trimmed", cfg.API.BaseURL)
	}
	if cfg.Stream.BackoffBase != 500*time.Millisecond {
		t.Errorf("BackoffBase = %v", cfg.Stream.BackoffBase)
	}
	if cfg.Stream.BackoffFactor != 3 {
		t.Errorf("BackoffFactor = %v", cfg.Stream.BackoffFactor)
	}
	if cfg.Sync.ReconcileInterval != 0 {
		t.Errorf("ReconcileInterval = %v, want 0", cfg.Sync.ReconcileInterval)
	}
	if cfg.Mirror.Port != 5100 {
		t.Errorf("Mirror.Port = %d", cfg.Mirror.Port)
	}
	if cfg.Storage.DataDir != "/tmp/missionctl-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}

	opts := cfg.Stream.Backoff()
	if opts.Base != 500*time.Millisecond || opts.Factor != 3 {
		t.Errorf("Backoff() = %+v", opts)
	}
}

func TestBackendValues_BadDurationKeepsDefault(t *testing.T) {
	clearEnv(t)

	b := newMapBackend()
	b.errs["stream.backoff_max"] = errors.New(`invalid duration "forever"`)
	b.errs["stream.backoff_jitter"] = errors.New(`invalid number "lots"`)

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Stream.BackoffMax != 5*time.Minute {
		t.Errorf("BackoffMax = %v, want default", cfg.Stream.BackoffMax)
	}
	if cfg.Stream.BackoffJitter != defaults().Stream.BackoffJitter {
		t.Errorf("BackoffJitter = %v, want default", cfg.Stream.BackoffJitter)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("MISSIONCTL_API_BASE_URL", "https://env.example.com")
	t.Setenv("MISSIONCTL_API_TOKEN", "env-token")
	t.Setenv("MISSIONCTL_MIRROR_PORT", "6000")
	t.Setenv("MISSIONCTL_STREAM_BACKOFF_JITTER", "0.1")
	t.Setenv("MISSIONCTL_SYNC_RECONCILE_INTERVAL", "30s")

	b := newMapBackend()
	b.strings["api.base_url"] = "https://file.example.com"
	b.ints["mirror.port"] = 5100

	cfg, err := loadWith(b, mockKeychain{value: "keychain-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.BaseURL != "https://env.example.com" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.Token != "env-token" {
		t.Errorf("API.Token = %q, want env-token", cfg.API.Token)
	}
	if cfg.Mirror.Port != 6000 {
		t.Errorf("Mirror.Port = %d", cfg.Mirror.Port)
	}
	if cfg.Stream.BackoffJitter != 0.1 {
		t.Errorf("BackoffJitter = %v", cfg.Stream.BackoffJitter)
	}
	if cfg.Sync.ReconcileInterval != 30*time.Second {
		t.Errorf("ReconcileInterval = %v", cfg.Sync.ReconcileInterval)
	}
}

func TestEnvOverride_InvalidIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("MISSIONCTL_MIRROR_PORT", "not-a-port")

	cfg, err := loadWith(newMapBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mirror.Port != 4100 {
		t.Errorf("Mirror.Port = %d, want default 4100", cfg.Mirror.Port)
	}
}

// TestKeychainFallback verifies the secret store is consulted when no token is in env.
func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMapBackend(), mockKeychain{value: "keychain-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.Token != "keychain-secret" {
		t.Errorf("API.Token = %q, want %q", cfg.API.Token, "keychain-secret")
	}
	if !cfg.SignedIn() {
		t.Error("SignedIn = false with a token")
	}
}

func TestKeychainFallback_MirrorToken(t *testing.T) {
	clearEnv(t)

	kc := accountKeychain{"mirror_token": "mirror-secret"}
	cfg, err := loadWith(newMapBackend(), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mirror.Token != "mirror-secret" {
		t.Errorf("Mirror.Token = %q, want mirror-secret", cfg.Mirror.Token)
	}
	if cfg.API.Token != "" {
		t.Errorf("API.Token = %q, want empty", cfg.API.Token)
	}

	t.Setenv("MISSIONCTL_MIRROR_TOKEN", "env-mirror")
	cfg, err = loadWith(newMapBackend(), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mirror.Token != "env-mirror" {
		t.Errorf("Mirror.Token = %q, want env-mirror", cfg.Mirror.Token)
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.API.Token = "super-secret"

	for _, k := range ShowAll(cfg) {
		if strings.Contains(k.Value, "super-secret") {
			t.Fatalf("secret leaked in %s", k.Key)
		}
		switch k.Key {
		case "api.token":
			if k.Value != "(set)" {
				t.Errorf("api.token = %q, want (set)", k.Value)
			}
		case "mirror.token":
			if k.Value != "(unset)" {
				t.Errorf("mirror.token = %q, want (unset)", k.Value)
			}
		case "stream.backoff_base":
			if k.Value != "1s" {
				t.Errorf("stream.backoff_base = %q, want 1s", k.Value)
			}
		}
	}
}

func TestSetKey(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    string
	}{
		{"mirror.port", "4200", ""},
		{"stream.backoff_max", "10m", ""},
		{"stream.backoff_factor", "1.5", ""},
		{"api.base_url", "https://mc.example.com", ""},
		{"mirror.port", "abc", "invalid value"},
		{"stream.backoff_max", "soon", "invalid value"},
		{"api.token", "secret", "cannot set secret"},
		{"nope.key", "x", "unknown config key"},
	}

	for _, tt := range tests {
		b := newMapBackend()
		err := setKey(b, tt.key, tt.value)
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("setKey(%s=%s) = %v, want error containing %q", tt.key, tt.value, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("setKey(%s=%s): %v", tt.key, tt.value, err)
		}
	}

	b := newMapBackend()
	if err := setKey(b, "mirror.port", "4200"); err != nil {
		t.Fatal(err)
	}
	if b.ints["mirror.port"] != 4200 {
		t.Errorf("stored mirror.port = %d", b.ints["mirror.port"])
	}
	if err := setKey(b, "stream.backoff_max", "10m"); err != nil {
		t.Fatal(err)
	}
	if b.durations["stream.backoff_max"] != 10*time.Minute {
		t.Errorf("stored stream.backoff_max = %v", b.durations["stream.backoff_max"])
	}
	if err := setKey(b, "stream.backoff_factor", "1.5"); err != nil {
		t.Fatal(err)
	}
	if b.floats["stream.backoff_factor"] != 1.5 {
		t.Errorf("stored stream.backoff_factor = %v", b.floats["stream.backoff_factor"])
	}
	if len(b.strings) != 0 {
		t.Errorf("typed keys stored as strings: %v", b.strings)
	}
}

func TestSetKey_SecretHintNamesAccount(t *testing.T) {
	err := setKey(newMapBackend(), "mirror.token", "x")
	if err == nil {
		t.Fatal("setKey accepted a secret")
	}
	for _, want := range []string{"MISSIONCTL_MIRROR_TOKEN", "mirror_token"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
	if strings.Contains(err.Error(), "api_token") {
		t.Errorf("error %q points at the API token account", err)
	}
}

func TestValidKeys_ExcludesSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		if k == "api.token" || k == "mirror.token" {
			t.Errorf("ValidKeys includes secret %s", k)
		}
	}
}
