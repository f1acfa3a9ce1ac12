//go:build integration

package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/nyaysaathi/internal/engine"
)

// setupIntegrationRetriever creates an in-memory store and a retriever backed
// by a running Ollama instance. It skips the test if Ollama is not available.
func setupIntegrationRetriever(t *testing.T) (*Retriever, *Embedder, *SQLiteStore) {
	t.Helper()

	eng := engine.NewOllamaEngine("http://localhost:11434")
	if !eng.IsRunning(context.Background()) || !eng.HasModel(context.Background(), "all-minilm") {
		t.Skip("Ollama with all-minilm is not available, skipping integration test")
	}

	store := NewSQLiteStore(openTestDB(t))
	embedder := NewEmbedder(eng, "all-minilm")
	return NewRetriever(embedder, store), embedder, store
}

func insertPassage(t *testing.T, embedder *Embedder, store *SQLiteStore, source, text string) {
	t.Helper()

	vec, err := embedder.Embed(context.Background(), text)
	if err != nil {
		t.Fatalf("embedding passage: %v", err)
	}
	err = store.Insert([]Record{{
		ID:        uuid.New().String(),
		Source:    source,
		Text:      text,
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}})
	if err != nil {
		t.Fatalf("inserting passage: %v", err)
	}
}

func TestRetrieveSemanticMatch(t *testing.T) {
	retriever, embedder, store := setupIntegrationRetriever(t)

	deposit := "A landlord must refund the security deposit when the tenant vacates, less any unpaid rent."
	insertPassage(t, embedder, store, "tenancy.txt", deposit)
	insertPassage(t, embedder, store, "consumer.txt", "A consumer can file a complaint about a defective product before the district commission.")

	passages, err := retriever.Retrieve(context.Background(), "my landlord is keeping my deposit", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(passages) == 0 {
		t.Fatal("expected at least one result")
	}
	if passages[0].Text != deposit {
		t.Errorf("top passage = %q, want the deposit passage", passages[0].Text)
	}
	if passages[0].Source != "tenancy.txt" {
		t.Errorf("source = %q, want tenancy.txt", passages[0].Source)
	}
}
