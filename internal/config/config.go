package config

import (
	"fmt"
	"os"
	"time"
)

// Service is the secrets-store service name for every secret this program keeps.
const Service = "nyaysaathi"

const (
	accountAPIToken     = "api_token"
	accountHostedAPIKey = "hosted_api_key"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	LLM       LLMConfig
	Ollama    OllamaConfig
	Hosted    HostedConfig
	Retry     RetryConfig
	Retrieval RetrievalConfig
	Counsel   CounselConfig
}

type ServerConfig struct {
	Port int
	// APIToken is only set here from NYAY_API_TOKEN; GetAPIToken resolves
	// the stored token.
	APIToken string
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

// LLMConfig selects the chat backend: "ollama", "hosted" or "none".
type LLMConfig struct {
	Backend string
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

// HostedConfig points at an OpenAI-compatible chat API.
type HostedConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

type RetryConfig struct {
	MaxAttempts int
	Backoff     string
}

const defaultBackoff = 1500 * time.Millisecond

// BackoffDuration parses Backoff, falling back to 1.5s when it is invalid.
func (r RetryConfig) BackoffDuration() time.Duration {
	d, err := time.ParseDuration(r.Backoff)
	if err != nil || d < 0 {
		return defaultBackoff
	}
	return d
}

type RetrievalConfig struct {
	TopK int
}

type CounselConfig struct {
	MaxDocumentChars int
	Temperature      float64
}

var validBackends = map[string]bool{"ollama": true, "hosted": true, "none": true}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Log:     LogConfig{Level: "info"},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		LLM:     LLMConfig{Backend: "ollama"},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3.1",
			EmbedModel: "all-minilm",
		},
		Hosted: HostedConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "google/gemini-2.0-flash-001",
		},
		Retry:     RetryConfig{MaxAttempts: 3, Backoff: "1.5s"},
		Retrieval: RetrievalConfig{TopK: 3},
		Counsel:   CounselConfig{MaxDocumentChars: 4000, Temperature: 0.2},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.nyaysaathi.app) and
// secrets live in the Keychain. Elsewhere the backend is a JSON file at
// $XDG_CONFIG_HOME/nyaysaathi/config.json and secrets live in
// $XDG_DATA_HOME/nyaysaathi/secrets.json.
//
// Environment variables (NYAY_*) override backend values on all platforms.
// A missing hosted API key is not an error here.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Hosted.APIKey == "" {
		if key, err := kc.Get(Service, accountHostedAPIKey); err == nil && key != "" {
			cfg.Hosted.APIKey = key
		}
	}

	if !validBackends[cfg.LLM.Backend] {
		return Config{}, fmt.Errorf("invalid llm.backend %q: want ollama, hosted or none", cfg.LLM.Backend)
	}
	if _, err := time.ParseDuration(cfg.Retry.Backoff); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse retry.backoff=%q: %v. Using %s.\n", cfg.Retry.Backoff, err, defaultBackoff)
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}

	return cfg, nil
}
