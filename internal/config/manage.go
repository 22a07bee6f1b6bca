package config

import (
	"fmt"
	"time"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
// Secrets are reported as set or unset, never by value.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		value := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret {
			if value == "" {
				value = "(unset)"
			} else {
				value = "(set)"
			}
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  value,
		})
	}
	return result
}

// SetKey writes a config key to the platform backend.
func SetKey(key, value string) error {
	return setKey(newPlatformBackend(), key, value)
}

func setKey(b ConfigBackend, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return fmt.Errorf("cannot set secret %q via config; use environment variable %s%s", key, s.env, tokenStoreHint(s.account))
		}
		v, err := s.parse(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		switch s.typ {
		case kInt:
			return b.SetInt(key, v.(int))
		case kFloat:
			return b.SetFloat(key, v.(float64))
		case kDuration:
			return b.SetDuration(key, v.(time.Duration))
		}
		return b.SetString(key, value)
	}

	return fmt.Errorf("unknown config key: %q", key)
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
