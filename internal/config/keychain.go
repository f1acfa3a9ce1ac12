package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

// Keychain stores secrets outside the config backend.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain { return platformKeychain{} }

type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	return keychainGet(service, account)
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the bearer token that guards the HTTP API.
// NYAY_API_TOKEN wins; otherwise the stored token is used, and one is
// generated and stored on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok := os.Getenv("NYAY_API_TOKEN"); tok != "" {
		return tok, nil
	}
	if tok, err := kc.Get(Service, accountAPIToken); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(Service, accountAPIToken, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
