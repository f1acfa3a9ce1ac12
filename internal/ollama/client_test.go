package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// tagsJSON builds a /api/tags response with the given model names.
func tagsJSON(names ...string) []byte {
	var r tagsResponse
	for _, n := range names {
		r.Models = append(r.Models, struct {
			Name string `json:"name"`
		}{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestIsRunning(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.1:latest"))
	}))
	defer up.Close()
	if !New(up.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()
	if New(down.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() on closed server = true, want false")
	}
}

func TestListModelsAndHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.1:latest", "all-minilm:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0] != "llama3.1:latest" {
		t.Errorf("models = %v", models)
	}
	if !c.HasModel(context.Background(), "all-minilm") {
		t.Error("HasModel(all-minilm) = false, want true")
	}
	if c.HasModel(context.Background(), "mistral") {
		t.Error("HasModel(mistral) = true, want false")
	}
}

func TestChat_SendsSchemaAndOptions(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(chatResponse{
			Message: Message{Role: "assistant", Content: `{"answer":"yes"}`},
		})
	}))
	defer srv.Close()

	schema := &Schema{
		Type:       "object",
		Properties: map[string]SchemaProperty{"answer": {Type: "string"}},
		Required:   []string{"answer"},
	}
	out, err := New(srv.URL).Chat(context.Background(), "llama3.1", []Message{
		{Role: "user", Content: "Is a rent agreement needed?"},
	}, schema, &Options{Temperature: 0.2})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if out != `{"answer":"yes"}` {
		t.Errorf("out = %q", out)
	}
	if got.Model != "llama3.1" || got.Stream {
		t.Errorf("request model/stream = %q/%v", got.Model, got.Stream)
	}
	format, ok := got.Format.(map[string]any)
	if !ok || format["type"] != "object" {
		t.Errorf("format = %#v, want schema object", got.Format)
	}
	if got.Options == nil || got.Options.Temperature != 0.2 {
		t.Errorf("options = %+v, want temperature 0.2", got.Options)
	}
}

func TestChat_PlainTextOmitsFormat(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		json.NewEncoder(w).Encode(chatResponse{Message: Message{Content: "plain"}})
	}))
	defer srv.Close()

	out, err := New(srv.URL).Chat(context.Background(), "m", []Message{{Role: "user", Content: "hi"}}, nil, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "plain" {
		t.Errorf("out = %q, want plain", out)
	}
	if _, ok := raw["format"]; ok {
		t.Error("format sent without a schema")
	}
	if _, ok := raw["options"]; ok {
		t.Error("options sent when nil")
	}
}

func TestChat_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("model is loading"))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Chat(context.Background(), "m", nil, nil, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", se.Code)
	}
	if !strings.Contains(se.Error(), "model is loading") {
		t.Errorf("error %q does not include the body", se.Error())
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.1, 0.2, 0.3}}})
	}))
	defer srv.Close()

	vec, err := New(srv.URL).Embed(context.Background(), "all-minilm", "security deposit")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	want := []float32{0.1, 0.2, 0.3}
	if len(vec) != len(want) {
		t.Fatalf("got %d floats, want %d", len(vec), len(want))
	}
	for i := range want {
		if vec[i] != want[i] {
			t.Errorf("vec[%d] = %f, want %f", i, vec[i], want[i])
		}
	}
}

func TestEmbed_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Embed(context.Background(), "m", "x"); err == nil {
		t.Error("expected error for empty embeddings")
	}
}

func TestPullModel_Progress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["name"] != "llama3.1" {
			t.Errorf("pull name = %v, want llama3.1", body["name"])
		}
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 500})
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 1000})
		enc.Encode(PullProgress{Status: "success"})
	}))
	defer srv.Close()

	var updates int
	err := New(srv.URL).PullModel(context.Background(), "llama3.1", func(PullProgress) { updates++ })
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if updates != 3 {
		t.Errorf("received %d progress updates, want 3", updates)
	}
}
