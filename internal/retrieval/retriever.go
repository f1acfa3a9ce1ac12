package retrieval

import (
	"context"
	"errors"
	"strings"
	"unicode"
)

// keywordLimit caps RelevantDocuments, which has no caller-supplied limit.
const keywordLimit = 10

// minTermLen drops short words ("a", "of", "is") from keyword queries.
const minTermLen = 3

var errNoTextSearch = errors.New("vector store does not support keyword search")

// Passage is a retrieved piece of guidance text.
type Passage struct {
	ID     string  `json:"id"`
	Source string  `json:"source,omitempty"`
	Title  string  `json:"title,omitempty"`
	Text   string  `json:"text"`
	Score  float32 `json:"score"`
}

// Retriever answers questions with guidance passages.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds the query and returns the k nearest passages.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(vec, k)
	if err != nil {
		return nil, err
	}

	passages := make([]Passage, len(scored))
	for i, s := range scored {
		passages[i] = toPassage(s.Record)
		passages[i].Score = s.Score
	}
	return passages, nil
}

// RelevantDocuments matches passages by keyword. It needs no embedding
// engine, so it still works when the local engine is down.
func (r *Retriever) RelevantDocuments(ctx context.Context, query string) ([]Passage, error) {
	ts, ok := r.store.(TextSearcher)
	if !ok {
		return nil, errNoTextSearch
	}

	records, err := ts.SearchText(ctx, Terms(query), keywordLimit)
	if err != nil {
		return nil, err
	}
	passages := make([]Passage, len(records))
	for i, rec := range records {
		passages[i] = toPassage(rec)
	}
	return passages, nil
}

// Count returns the number of passages available for retrieval.
func (r *Retriever) Count() (int, error) {
	return r.store.Count()
}

// Terms splits a query into distinct lowercase words of at least three letters.
func Terms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsNumber(c)
	})
	seen := make(map[string]bool, len(fields))
	var terms []string
	for _, f := range fields {
		if len([]rune(f)) < minTermLen || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

func toPassage(r Record) Passage {
	return Passage{ID: r.ID, Source: r.Source, Title: r.Title, Text: r.Text}
}
