package counsel

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/nyaysaathi/internal/composer"
	"github.com/kalambet/nyaysaathi/internal/engine"
	"github.com/kalambet/nyaysaathi/internal/ollama"
	"github.com/kalambet/nyaysaathi/internal/resilience"
	"github.com/kalambet/nyaysaathi/internal/retrieval"
	"github.com/kalambet/nyaysaathi/internal/session"
	"github.com/kalambet/nyaysaathi/internal/storage"
)

// scriptedEngine returns replies and errors in order; the last reply repeats.
type scriptedEngine struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	last    []engine.Message
	opts    engine.ChatOptions
}

func (e *scriptedEngine) Chat(_ context.Context, _ string, msgs []engine.Message, opts engine.ChatOptions) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.calls
	e.calls++
	e.last, e.opts = msgs, opts
	if i < len(e.errs) && e.errs[i] != nil {
		return "", e.errs[i]
	}
	if i < len(e.replies) {
		return e.replies[i], nil
	}
	return e.replies[len(e.replies)-1], nil
}
func (e *scriptedEngine) Embed(context.Context, string, string) ([]float32, error) { return nil, nil }
func (e *scriptedEngine) IsRunning(context.Context) bool                            { return true }
func (e *scriptedEngine) ListModels(context.Context) ([]string, error)              { return nil, nil }
func (e *scriptedEngine) HasModel(context.Context, string) bool                     { return true }
func (e *scriptedEngine) PullModel(context.Context, string, func(engine.PullProgress)) error {
	return nil
}

type memStore struct {
	explanations  map[string]storage.Explanation
	consultations []storage.Consultation
	getErr        error
}

func newMemStore() *memStore {
	return &memStore{explanations: make(map[string]storage.Explanation)}
}

func (m *memStore) GetExplanation(h string) (storage.Explanation, error) {
	if m.getErr != nil {
		return storage.Explanation{}, m.getErr
	}
	e, ok := m.explanations[h]
	if !ok {
		return storage.Explanation{}, storage.ErrNotFound
	}
	return e, nil
}
func (m *memStore) SaveExplanation(e storage.Explanation) error {
	m.explanations[e.DocHash] = e
	return nil
}
func (m *memStore) SaveConsultation(c storage.Consultation) error {
	m.consultations = append(m.consultations, c)
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func testConfig() Config {
	return Config{Model: "llama3.1", Temperature: 0.2, Retry: resilience.RetryOptions{MaxAttempts: 3, Sleep: noSleep}}
}

const explanationReply = "Sure! Here is the explanation:\n```json\n" +
	`{"summary": "An 11-month lease.", "key_points": ["Rent Rs. 15,000"], "obligations": "Pay by the 5th", "risks": [], "next_steps": ["Ask for a receipt"]}` +
	"\n```"

func TestExplain_ParsesNoisyReply(t *testing.T) {
	e := &scriptedEngine{replies: []string{explanationReply}}
	store := newMemStore()
	svc := New(e, nil, store, composer.New(0, 0), testConfig())

	sess := session.NewManager().Create()
	sess.SetDocument(session.Document{Name: "lease.txt", Text: "The tenant shall pay rent."})

	exp, err := svc.Explain(context.Background(), sess)
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if exp.Summary != "An 11-month lease." || exp.Cached {
		t.Errorf("got %+v", exp)
	}
	if len(exp.Obligations) != 1 || exp.Obligations[0] != "Pay by the 5th" {
		t.Errorf("single-string list not accepted: %v", exp.Obligations)
	}
	if e.opts.Schema == nil || e.opts.Temperature != 0.2 {
		t.Errorf("chat options = %+v, want schema and temperature", e.opts)
	}

	raw, ok := sess.Explanation()
	if !ok || !strings.Contains(string(raw), "An 11-month lease.") {
		t.Errorf("explanation not recorded on session: %s", raw)
	}
	if _, ok := store.explanations[resilience.ContentHashString("The tenant shall pay rent.")]; !ok {
		t.Error("explanation not stored by content hash")
	}
}

func TestExplain_StoredExplanationSkipsEngine(t *testing.T) {
	e := &scriptedEngine{replies: []string{explanationReply}}
	store := newMemStore()
	svc := New(e, nil, store, composer.New(0, 0), testConfig())

	text := "Clause 1: the deposit is refundable."
	if _, err := svc.ExplainText(context.Background(), "a.txt", text); err != nil {
		t.Fatalf("first ExplainText: %v", err)
	}
	exp, err := svc.ExplainText(context.Background(), "copy-of-a.txt", text)
	if err != nil {
		t.Fatalf("second ExplainText: %v", err)
	}
	if e.calls != 1 {
		t.Errorf("engine called %d times, want 1", e.calls)
	}
	if !exp.Cached || exp.Summary != "An 11-month lease." {
		t.Errorf("got %+v, want cached explanation", exp)
	}
}

func TestExplain_RetriesUnparseableReply(t *testing.T) {
	e := &scriptedEngine{replies: []string{"I cannot produce JSON today.", explanationReply}}
	svc := New(e, nil, nil, composer.New(0, 0), testConfig())

	exp, err := svc.ExplainText(context.Background(), "a.txt", "text")
	if err != nil {
		t.Fatalf("ExplainText: %v", err)
	}
	if e.calls != 2 || exp.Summary == "" {
		t.Errorf("calls = %d, summary = %q", e.calls, exp.Summary)
	}
}

func TestExplain_ParseFailureSurfaces(t *testing.T) {
	e := &scriptedEngine{replies: []string{"still no json"}}
	svc := New(e, nil, nil, composer.New(0, 0), testConfig())

	_, err := svc.ExplainText(context.Background(), "a.txt", "text")
	var pe *resilience.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *resilience.ParseError", err)
	}
	if !strings.Contains(pe.Snippet, "still no json") {
		t.Errorf("snippet = %q", pe.Snippet)
	}
	if e.calls != 3 {
		t.Errorf("calls = %d, want 3", e.calls)
	}
}

func TestExplain_Errors(t *testing.T) {
	svc := New(&scriptedEngine{replies: []string{"{}"}}, nil, nil, composer.New(0, 0), testConfig())
	sess := session.NewManager().Create()
	if _, err := svc.Explain(context.Background(), sess); !errors.Is(err, ErrNoDocument) {
		t.Errorf("no document: err = %v, want ErrNoDocument", err)
	}
	if _, err := svc.ExplainText(context.Background(), "x", "   "); !errors.Is(err, ErrNoDocument) {
		t.Errorf("blank text: err = %v, want ErrNoDocument", err)
	}

	unconfigured := New(nil, nil, nil, composer.New(0, 0), testConfig())
	if _, err := unconfigured.ExplainText(context.Background(), "x", "text"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("no engine: err = %v, want ErrNotConfigured", err)
	}
}

func TestExplain_NonTransientFailsFast(t *testing.T) {
	e := &scriptedEngine{errs: []error{&ollama.StatusError{Op: "chat", Code: 404, Body: "model not found"}}, replies: []string{""}}
	svc := New(e, nil, nil, composer.New(0, 0), testConfig())

	_, err := svc.ExplainText(context.Background(), "a.txt", "text")
	var se *ollama.StatusError
	if !errors.As(err, &se) || se.Code != 404 {
		t.Errorf("err = %v, want the original 404", err)
	}
	if e.calls != 1 {
		t.Errorf("calls = %d, want 1", e.calls)
	}
}

func countingRetrieve(calls *int) session.RetrieveFunc {
	return func(_ context.Context, q string, k int) ([]retrieval.Passage, error) {
		*calls++
		return []retrieval.Passage{
			{ID: "p1", Source: "rent_guide.txt", Text: "A landlord must return the deposit.", Score: 0.9},
			{ID: "p2", Source: "rent_guide.txt", Text: "Deductions need proof of damage.", Score: 0.7},
		}, nil
	}
}

func TestAsk_StructuredAnswer(t *testing.T) {
	var retrieveCalls int
	e := &scriptedEngine{replies: []string{`{"answer": "Yes, ask for it back.", "action_plan": ["Send a written request", "Approach the Rent Authority"]}`}}
	store := newMemStore()
	svc := New(e, countingRetrieve(&retrieveCalls), store, composer.New(0, 0), testConfig())
	sess := session.NewManager().Create()

	ans, err := svc.Ask(context.Background(), sess, "  Can I get my deposit back?  ")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !ans.Structured || ans.Answer != "Yes, ask for it back." || len(ans.ActionPlan) != 2 {
		t.Errorf("got %+v", ans)
	}
	if len(ans.Sources) != 1 || ans.Sources[0] != "rent_guide.txt" {
		t.Errorf("Sources = %v, want passage sources when the model gives none", ans.Sources)
	}
	if len(ans.Passages) != 2 {
		t.Errorf("Passages = %d, want 2", len(ans.Passages))
	}

	h := sess.History(0)
	if len(h) != 2 || h[0].Content != "Can I get my deposit back?" || h[1].Role != "assistant" {
		t.Errorf("history = %+v", h)
	}
	if len(store.consultations) != 1 || store.consultations[0].SessionID != sess.ID {
		t.Errorf("consultations = %+v", store.consultations)
	}
	var sources []string
	if err := json.Unmarshal([]byte(store.consultations[0].Sources), &sources); err != nil || len(sources) != 1 {
		t.Errorf("stored sources = %q", store.consultations[0].Sources)
	}
}

func TestAsk_CachesRetrievalPerSession(t *testing.T) {
	var retrieveCalls int
	e := &scriptedEngine{replies: []string{`{"answer": "ok", "action_plan": []}`}}
	svc := New(e, countingRetrieve(&retrieveCalls), nil, composer.New(0, 0), testConfig())
	sess := session.NewManager().Create()

	for i := 0; i < 2; i++ {
		if _, err := svc.Ask(context.Background(), sess, "What is an FIR?"); err != nil {
			t.Fatalf("Ask: %v", err)
		}
	}
	if retrieveCalls != 1 {
		t.Errorf("retrieve called %d times, want 1", retrieveCalls)
	}
	if e.calls != 2 {
		t.Errorf("engine called %d times, want 2", e.calls)
	}
	// The second prompt carries the first exchange as history.
	if len(e.last) != 4 {
		t.Errorf("second prompt has %d messages, want 4", len(e.last))
	}
}

func TestAsk_RawTextFallback(t *testing.T) {
	e := &scriptedEngine{replies: []string{"You should file an FIR at the nearest police station."}}
	svc := New(e, nil, nil, composer.New(0, 0), testConfig())
	sess := session.NewManager().Create()

	ans, err := svc.Ask(context.Background(), sess, "Someone stole my phone")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Structured {
		t.Error("Structured = true for a plain-text reply")
	}
	if ans.Answer != "You should file an FIR at the nearest police station." {
		t.Errorf("Answer = %q", ans.Answer)
	}
}

func TestAsk_RetrievalErrorDegrades(t *testing.T) {
	failing := func(context.Context, string, int) ([]retrieval.Passage, error) {
		return nil, errors.New("index unavailable")
	}
	e := &scriptedEngine{replies: []string{`{"answer": "ok", "action_plan": []}`}}
	svc := New(e, failing, nil, composer.New(0, 0), testConfig())

	ans, err := svc.Ask(context.Background(), session.NewManager().Create(), "q?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(ans.Passages) != 0 {
		t.Errorf("Passages = %v, want none", ans.Passages)
	}
}

func TestAsk_UsesDocument(t *testing.T) {
	e := &scriptedEngine{replies: []string{`{"answer": "ok", "action_plan": []}`}}
	svc := New(e, nil, nil, composer.New(0, 0), testConfig())
	sess := session.NewManager().Create()
	sess.SetDocument(session.Document{Name: "notice.txt", Text: "You must vacate within 7 days."})

	if _, err := svc.Ask(context.Background(), sess, "Is 7 days legal?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if user := e.last[len(e.last)-1].Content; !strings.Contains(user, "You must vacate within 7 days.") {
		t.Errorf("document missing from prompt:\n%s", user)
	}
}

func TestAsk_Errors(t *testing.T) {
	sess := session.NewManager().Create()
	svc := New(&scriptedEngine{replies: []string{"x"}}, nil, nil, composer.New(0, 0), testConfig())
	if _, err := svc.Ask(context.Background(), sess, "  "); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("err = %v, want ErrEmptyQuestion", err)
	}

	unconfigured := New(nil, nil, nil, composer.New(0, 0), testConfig())
	if _, err := unconfigured.Ask(context.Background(), sess, "q"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}

	failing := &scriptedEngine{errs: []error{
		&ollama.StatusError{Op: "chat", Code: 503},
		&ollama.StatusError{Op: "chat", Code: 503},
		&ollama.StatusError{Op: "chat", Code: 503},
	}, replies: []string{""}}
	svc = New(failing, nil, nil, composer.New(0, 0), testConfig())
	_, err := svc.Ask(context.Background(), sess, "q")
	var se *ollama.StatusError
	if !errors.As(err, &se) {
		t.Errorf("err = %v, want the last *ollama.StatusError", err)
	}
	if failing.calls != 3 {
		t.Errorf("calls = %d, want 3", failing.calls)
	}
	if len(sess.History(0)) != 0 {
		t.Error("failed ask recorded in history")
	}
}

func TestList_UnmarshalJSON(t *testing.T) {
	var v struct {
		A List `json:"a"`
		B List `json:"b"`
		C List `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a": ["x", "y"], "b": "z", "c": ""}`), &v); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(v.A) != 2 || len(v.B) != 1 || v.B[0] != "z" || v.C != nil {
		t.Errorf("got %+v", v)
	}
	if err := json.Unmarshal([]byte(`{"a": 5}`), &v); err == nil {
		t.Error("expected error for a number")
	}
}
