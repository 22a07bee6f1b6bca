package config

import (
	"strings"
	"time"

	"github.com/missionctl/missionctl/internal/backoff"
)

type Config struct {
	API     APIConfig
	Stream  StreamConfig
	Sync    SyncConfig
	Mirror  MirrorConfig
	Storage StorageConfig
	Log     LogConfig
}

type APIConfig struct {
	BaseURL string
	Token   string
}

type StreamConfig struct {
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	BackoffFactor float64
	BackoffJitter float64
}

// Backoff returns the reconnect options for stream consumers.
func (c StreamConfig) Backoff() backoff.Options {
	return backoff.Options{
		Base:   c.BackoffBase,
		Max:    c.BackoffMax,
		Factor: c.BackoffFactor,
		Jitter: c.BackoffJitter,
	}
}

type SyncConfig struct {
	ReconcileInterval time.Duration
}

type MirrorConfig struct {
	Port  int
	Token string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000",
		},
		Stream: StreamConfig{
			BackoffBase:   backoff.DefaultBase,
			BackoffMax:    backoff.DefaultMax,
			BackoffFactor: backoff.DefaultFactor,
			BackoffJitter: backoff.DefaultJitter,
		},
		Sync: SyncConfig{
			ReconcileInterval: 5 * time.Minute,
		},
		Mirror: MirrorConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SignedIn reports whether an API token is configured. Without one every
// backend call is rejected and the client stays signed out.
func (c Config) SignedIn() bool {
	return c.API.Token != ""
}

// TokenHint tells the user where the API token can be provided.
func TokenHint() string {
	return "set MISSIONCTL_API_TOKEN" + tokenStoreHint(tokenAccount)
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.missionctl.cli) and the
// API and mirror tokens fall back to macOS Keychain (accounts api_token and
// mirror_token).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/missionctl/config.json
// and the tokens fall back to $XDG_DATA_HOME/missionctl/secrets.json.
//
// Environment variables (MISSIONCTL_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	applySecrets(&cfg, kc)

	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")
	return cfg, nil
}

const (
	secretService      = "missionctl"
	tokenAccount       = "api_token"
	mirrorTokenAccount = "mirror_token"
)

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
