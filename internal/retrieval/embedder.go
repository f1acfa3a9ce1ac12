package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/nyaysaathi/internal/engine"
)

// Embedder turns query text into a vector using a local engine.
type Embedder struct {
	engine engine.Engine
	model  string
}

// NewEmbedder creates an Embedder for the given engine and embedding model.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model}
}

// Embed returns the embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}
