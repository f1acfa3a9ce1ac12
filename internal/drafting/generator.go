package drafting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/nyaysaathi/internal/composer"
	"github.com/kalambet/nyaysaathi/internal/document"
	"github.com/kalambet/nyaysaathi/internal/engine"
	"github.com/kalambet/nyaysaathi/internal/resilience"
)

// ErrNotConfigured is returned by Draft when no chat engine is available.
var ErrNotConfigured = errors.New("no chat engine configured")

const draftMaxTokens = 2048

var fenceReplacer = strings.NewReplacer("```html", "", "```", "")

// Draft is a generated document. Text is the HTML rendered to plain text.
type Draft struct {
	Kind string `json:"kind"`
	HTML string `json:"html"`
	Text string `json:"text"`
}

// Generator drafts documents with a chat engine.
type Generator struct {
	engine   engine.Engine
	model    string
	composer *composer.Composer
	retry    resilience.RetryOptions
}

// NewGenerator creates a Generator. A nil engine is allowed; Draft then
// returns ErrNotConfigured.
func NewGenerator(e engine.Engine, model string, c *composer.Composer, retry resilience.RetryOptions) *Generator {
	if retry.Retryable == nil {
		retry.Retryable = engine.IsTransient
	}
	return &Generator{engine: e, model: model, composer: c, retry: retry}
}

// Draft validates values against kind and asks the engine for an HTML draft.
func (g *Generator) Draft(ctx context.Context, kind *Kind, values map[string]string) (Draft, error) {
	if err := Validate(kind.Fields, values); err != nil {
		return Draft{}, err
	}
	if g.engine == nil {
		return Draft{}, ErrNotConfigured
	}

	details := make([]composer.Detail, 0, len(kind.Fields))
	for _, f := range kind.Fields {
		details = append(details, composer.Detail{Name: f.ID, Value: values[f.ID]})
	}
	msgs := g.composer.Draft(kind.Name, details)

	raw, err := resilience.Retry(ctx, func(ctx context.Context) (string, error) {
		return g.engine.Chat(ctx, g.model, msgs, engine.ChatOptions{Temperature: 0.3, MaxTokens: draftMaxTokens})
	}, g.retry)
	if err != nil {
		return Draft{}, fmt.Errorf("drafting %s: %w", kind.Name, err)
	}

	html := strings.TrimSpace(fenceReplacer.Replace(raw))
	text, err := document.HTMLText(strings.NewReader(html))
	if err != nil {
		return Draft{}, fmt.Errorf("rendering %s draft: %w", kind.Name, err)
	}
	return Draft{Kind: kind.Name, HTML: html, Text: text}, nil
}
