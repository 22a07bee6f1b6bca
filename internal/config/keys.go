package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "api.base_url", typ: kString, env: "MISSIONCTL_API_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.API.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.API.BaseURL },
	},
	{
		key: "api.token", typ: kString, env: "MISSIONCTL_API_TOKEN",
		secret: true, account: tokenAccount,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
	{
		key: "stream.backoff_base", typ: kDuration, env: "MISSIONCTL_STREAM_BACKOFF_BASE",
		apply:   func(cfg *Config, v any) { cfg.Stream.BackoffBase = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Stream.BackoffBase },
	},
	{
		key: "stream.backoff_max", typ: kDuration, env: "MISSIONCTL_STREAM_BACKOFF_MAX",
		apply:   func(cfg *Config, v any) { cfg.Stream.BackoffMax = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Stream.BackoffMax },
	},
	{
		key: "stream.backoff_factor", typ: kFloat, env: "MISSIONCTL_STREAM_BACKOFF_FACTOR",
		apply:   func(cfg *Config, v any) { cfg.Stream.BackoffFactor = v.(float64) },
		extract: func(cfg Config) any { return cfg.Stream.BackoffFactor },
	},
	{
		key: "stream.backoff_jitter", typ: kFloat, env: "MISSIONCTL_STREAM_BACKOFF_JITTER",
		apply:   func(cfg *Config, v any) { cfg.Stream.BackoffJitter = v.(float64) },
		extract: func(cfg Config) any { return cfg.Stream.BackoffJitter },
	},
	{
		key: "sync.reconcile_interval", typ: kDuration, env: "MISSIONCTL_SYNC_RECONCILE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Sync.ReconcileInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sync.ReconcileInterval },
	},
	{
		key: "mirror.port", typ: kInt, env: "MISSIONCTL_MIRROR_PORT",
		apply:   func(cfg *Config, v any) { cfg.Mirror.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Mirror.Port },
	},
	{
		key: "mirror.token", typ: kString, env: "MISSIONCTL_MIRROR_TOKEN",
		secret: true, account: mirrorTokenAccount,
		apply:   func(cfg *Config, v any) { cfg.Mirror.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Mirror.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MISSIONCTL_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "MISSIONCTL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parse converts a raw string into the key's value type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		var (
			v   any
			ok  bool
			err error
		)
		switch s.typ {
		case kString:
			v, ok, err = b.GetString(s.key)
		case kInt:
			v, ok, err = b.GetInt(s.key)
		case kFloat:
			v, ok, err = b.GetFloat(s.key)
		case kDuration:
			v, ok, err = b.GetDuration(s.key)
		}
		if err != nil {
			if s.typ == kFloat || s.typ == kDuration {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s: %v. Using default value.\n", s.key, err)
				continue
			}
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if ok {
			s.apply(cfg, v)
		}
	}
	return nil
}

// applySecrets fills unset secrets from the platform secret store.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if tok, err := kc.Get(secretService, s.account); err == nil && tok != "" {
			s.apply(cfg, tok)
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
