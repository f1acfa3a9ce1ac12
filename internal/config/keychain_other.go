//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Without a system keychain, secrets (the API token and the hosted API key)
// live in an owner-only JSON file: {"nyaysaathi": {"api_token": "..."}}.
type secretFile map[string]map[string]string

func secretsFilePath() string {
	return xdgPath("XDG_DATA_HOME", filepath.Join(".local", "share"), "secrets.json")
}

func readSecrets() (secretFile, error) {
	data, err := os.ReadFile(secretsFilePath())
	if err != nil {
		return nil, err
	}
	var sf secretFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return sf, nil
}

func keychainGet(service, account string) (string, error) {
	sf, err := readSecrets()
	if err != nil {
		return "", fmt.Errorf("secrets not available: %w", err)
	}
	val, ok := sf[service][account]
	if !ok {
		return "", fmt.Errorf("secret %s/%s not found", service, account)
	}
	return val, nil
}

// keychainSet stores value; an empty value removes the entry.
func keychainSet(service, account, value string) error {
	sf, err := readSecrets()
	if err != nil || sf == nil {
		sf = secretFile{}
	}
	if value == "" {
		delete(sf[service], account)
	} else {
		if sf[service] == nil {
			sf[service] = map[string]string{}
		}
		sf[service][account] = value
	}

	out, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(secretsFilePath(), out, 0o600)
}
