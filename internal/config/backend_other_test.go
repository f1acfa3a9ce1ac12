//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	b := newPlatformBackend()
	if err := b.SetInt("server.port", 4300); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := b.SetString("ollama.chat_model", "mistral"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	if _, err := os.Stat(configFilePath() + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}

	reloaded := newPlatformBackend()
	port, ok, err := reloaded.GetInt("server.port")
	if err != nil || !ok || port != 4300 {
		t.Errorf("GetInt = %d, %v, %v; want 4300", port, ok, err)
	}
	model, ok, err := reloaded.GetString("ollama.chat_model")
	if err != nil || !ok || model != "mistral" {
		t.Errorf("GetString = %q, %v, %v; want mistral", model, ok, err)
	}

	if err := reloaded.Delete("server.port"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := newPlatformBackend().GetInt("server.port"); ok {
		t.Error("server.port still present after Delete")
	}
}

func TestFileKeychain(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	kc := NewKeychain()
	if _, err := kc.Get(Service, "hosted_api_key"); err == nil {
		t.Error("expected error before any secret is stored")
	}
	if err := kc.Set(Service, "hosted_api_key", "sk-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := kc.Get(Service, "hosted_api_key")
	if err != nil || got != "sk-1" {
		t.Errorf("Get = %q, %v; want sk-1", got, err)
	}

	info, err := os.Stat(filepath.Join(dir, "nyaysaathi", "secrets.json"))
	if err != nil {
		t.Fatalf("stat secrets file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestFileKeychain_EmptyValueClears(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	kc := NewKeychain()
	if err := kc.Set(Service, "hosted_api_key", "sk-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kc.Set(Service, "hosted_api_key", ""); err != nil {
		t.Fatalf("Set empty: %v", err)
	}
	if _, err := kc.Get(Service, "hosted_api_key"); err == nil {
		t.Error("secret still present after clearing")
	}
}

func TestXDGPaths(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	t.Setenv("XDG_CONFIG_HOME", "/conf")

	if got := defaultDataDir(); got != filepath.Join("/data", "nyaysaathi") {
		t.Errorf("defaultDataDir = %q", got)
	}
	if got := configFilePath(); got != filepath.Join("/conf", "nyaysaathi", "config.json") {
		t.Errorf("configFilePath = %q", got)
	}
	if got := secretsFilePath(); got != filepath.Join("/data", "nyaysaathi", "secrets.json") {
		t.Errorf("secretsFilePath = %q", got)
	}
}
