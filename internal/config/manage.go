package config

import (
	"fmt"
	"strconv"
	"time"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
// Secret values are masked.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		v := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret && v != "" {
			v = "********"
		}
		result = append(result, KeyInfo{Key: s.key, EnvVar: s.env, Value: v})
	}
	return result
}

// SetKey writes a config key to the platform backend, or to the secret store
// for secret keys.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), NewKeychain(), key, value)
}

func setKeyWith(b ConfigBackend, kc Keychain, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return kc.Set(Service, secretAccount(key), value)
		}
		switch s.typ {
		case kString:
			if err := validateString(key, value); err != nil {
				return err
			}
			return b.SetString(key, value)
		case kInt:
			i, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid integer value for %s: %w", key, err)
			}
			return b.SetInt(key, i)
		case kFloat:
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				return fmt.Errorf("invalid number value for %s: %w", key, err)
			}
			return b.SetString(key, value)
		}
	}

	return fmt.Errorf("unknown config key: %q", key)
}

// UnsetKey removes key from the config backend so its default applies again.
// Secret keys are cleared in the secret store.
func UnsetKey(key string) error {
	return unsetKeyWith(newPlatformBackend(), NewKeychain(), key)
}

func unsetKeyWith(b ConfigBackend, kc Keychain, key string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return kc.Set(Service, secretAccount(key), "")
		}
		return b.Delete(key)
	}
	return fmt.Errorf("unknown config key: %q", key)
}

func validateString(key, value string) error {
	switch key {
	case "llm.backend":
		if !validBackends[value] {
			return fmt.Errorf("invalid value for %s: %q (want ollama, hosted or none)", key, value)
		}
	case "retry.backoff":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
	case "log.level":
		if value != "debug" && value != "info" && value != "warn" && value != "error" {
			return fmt.Errorf("invalid value for %s: %q", key, value)
		}
	}
	return nil
}

func secretAccount(key string) string {
	switch key {
	case "server.api_token":
		return accountAPIToken
	default:
		return accountHostedAPIKey
	}
}

// IsSecret reports whether key is kept in the secret store rather than the
// config backend.
func IsSecret(key string) bool {
	for _, s := range specs {
		if s.key == key {
			return s.secret
		}
	}
	return false
}

// ValidKeys returns the list of valid config key names.
func ValidKeys() []string {
	keys := make([]string, len(specs))
	for i, s := range specs {
		keys[i] = s.key
	}
	return keys
}
