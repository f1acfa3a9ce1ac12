package composer

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/nyaysaathi/internal/engine"
	"github.com/kalambet/nyaysaathi/internal/retrieval"
)

//go:embed prompts/explain.md
var explainBase string

//go:embed prompts/ask.md
var askBase string

//go:embed prompts/draft.md
var draftBase string

const (
	defaultMaxContextTokens = 4000
	defaultMaxDocumentChars = 4000
	defaultPerPassageChars  = 1000

	truncatedMarker  = "\n\n...[truncated]..."
	truncatedReserve = 100
)

// Composer builds the chat messages for the explain, ask and draft flows.
type Composer struct {
	// MaxContextTokens bounds the guidance injected into an ask prompt.
	MaxContextTokens int
	// MaxDocumentChars bounds the uploaded document text in any prompt.
	MaxDocumentChars int
	// PerPassageChars bounds each guidance passage.
	PerPassageChars int
}

// New creates a Composer. Non-positive limits fall back to defaults.
func New(maxContextTokens, maxDocumentChars int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	if maxDocumentChars <= 0 {
		maxDocumentChars = defaultMaxDocumentChars
	}
	return &Composer{
		MaxContextTokens: maxContextTokens,
		MaxDocumentChars: maxDocumentChars,
		PerPassageChars:  defaultPerPassageChars,
	}
}

// Explain returns the messages asking for a plain-language explanation of
// documentText.
func (c *Composer) Explain(documentText string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: strings.TrimSpace(explainBase)},
		{Role: "user", Content: "[Document]\n" + TrimToChars(documentText, c.MaxDocumentChars)},
	}
}

// Ask returns the messages for a question. Passages are ranked by score and
// the lowest-scoring ones are dropped once the token budget is spent.
// history is placed between the system prompt and the question.
func (c *Composer) Ask(question, documentText string, passages []retrieval.Passage, history []engine.Message) []engine.Message {
	var sb strings.Builder
	if guidance := FormatPassages(c.selectPassages(passages), c.PerPassageChars); guidance != "" {
		sb.WriteString("[Guidance]\n")
		sb.WriteString(guidance)
		sb.WriteString("\n\n")
	}
	if documentText != "" {
		sb.WriteString("[Uploaded Document]\n")
		sb.WriteString(TrimToChars(documentText, c.MaxDocumentChars))
		sb.WriteString("\n\n")
	}
	sb.WriteString("[Question]\n")
	sb.WriteString(question)

	msgs := make([]engine.Message, 0, len(history)+2)
	msgs = append(msgs, engine.Message{Role: "system", Content: strings.TrimSpace(askBase)})
	msgs = append(msgs, history...)
	msgs = append(msgs, engine.Message{Role: "user", Content: sb.String()})
	return msgs
}

// Detail is one user-supplied field of a draft request.
type Detail struct {
	Name  string
	Value string
}

// Draft returns the messages asking for an HTML draft of a document of the
// given kind. Blank details are left out.
func (c *Composer) Draft(kind string, details []Detail) []engine.Message {
	var lines []string
	for _, d := range details {
		if strings.TrimSpace(d.Value) == "" {
			continue
		}
		lines = append(lines, d.Name+": "+d.Value)
	}

	system := fmt.Sprintf("You are an expert Indian legal drafter specializing in %s.\n\n%s", kind, strings.TrimSpace(draftBase))
	user := fmt.Sprintf("Document type: %s\n\nUser details:\n%s", kind, strings.Join(lines, "\n"))
	return []engine.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

func (c *Composer) selectPassages(passages []retrieval.Passage) []retrieval.Passage {
	if len(passages) == 0 {
		return nil
	}
	sorted := make([]retrieval.Passage, len(passages))
	copy(sorted, passages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	remaining := c.MaxContextTokens
	var selected []retrieval.Passage
	for _, p := range sorted {
		tokens := EstimateTokens(formatPassage(p, c.PerPassageChars))
		if tokens > remaining {
			continue
		}
		selected = append(selected, p)
		remaining -= tokens
	}
	return selected
}

// TrimToChars returns text unchanged when it fits in max characters.
// Otherwise it keeps the first max-100 characters and appends a truncation
// marker.
func TrimToChars(text string, max int) string {
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	keep := max - truncatedReserve
	if keep < 0 {
		keep = 0
	}
	return string(r[:keep]) + truncatedMarker
}

// FormatPassages renders passages as "SOURCE: name" blocks separated by a
// blank line. Each passage text is cut to perDoc characters.
func FormatPassages(passages []retrieval.Passage, perDoc int) string {
	parts := make([]string, len(passages))
	for i, p := range passages {
		parts[i] = formatPassage(p, perDoc)
	}
	return strings.Join(parts, "\n\n")
}

func formatPassage(p retrieval.Passage, perDoc int) string {
	name := p.Source
	if name == "" {
		name = p.Title
	}
	if name == "" {
		name = "guide"
	}
	text := p.Text
	if r := []rune(text); len(r) > perDoc {
		text = string(r[:perDoc])
	}
	return "SOURCE: " + name + "\n" + text + "..."
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
