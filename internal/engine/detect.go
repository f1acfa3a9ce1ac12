package engine

import "fmt"

// Backend names accepted by Detect.
const (
	BackendOllama = "ollama"
	BackendHosted = "hosted"
	BackendNone   = "none"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Backend       string
	OllamaBaseURL string
	HostedBaseURL string
	HostedAPIKey  string
	HostedModel   string
}

// Detect returns the chat engine named by cfg.Backend. An empty backend means
// Ollama. BackendNone returns a nil Engine; callers report the missing
// dependency when a chat is first needed.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Backend {
	case "", BackendOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case BackendHosted:
		return NewHostedEngine(cfg.HostedBaseURL, cfg.HostedAPIKey, cfg.HostedModel), nil
	case BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
}
