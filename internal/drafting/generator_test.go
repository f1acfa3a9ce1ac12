package drafting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/nyaysaathi/internal/composer"
	"github.com/kalambet/nyaysaathi/internal/engine"
	"github.com/kalambet/nyaysaathi/internal/ollama"
	"github.com/kalambet/nyaysaathi/internal/resilience"
)

type mockEngine struct {
	replies []string
	errs    []error
	calls   int
	got     []engine.Message
}

func (m *mockEngine) Chat(_ context.Context, _ string, msgs []engine.Message, _ engine.ChatOptions) (string, error) {
	i := m.calls
	m.calls++
	m.got = msgs
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.replies) {
		return m.replies[i], nil
	}
	return m.replies[len(m.replies)-1], nil
}
func (m *mockEngine) Embed(context.Context, string, string) ([]float32, error) { return nil, nil }
func (m *mockEngine) IsRunning(context.Context) bool                            { return true }
func (m *mockEngine) ListModels(context.Context) ([]string, error)              { return nil, nil }
func (m *mockEngine) HasModel(context.Context, string) bool                     { return true }
func (m *mockEngine) PullModel(context.Context, string, func(engine.PullProgress)) error {
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func legalNotice(t *testing.T) *Kind {
	t.Helper()
	k, err := loadCatalog(t).Kind("Legal Notice")
	if err != nil {
		t.Fatalf("Kind: %v", err)
	}
	return k
}

func noticeValues() map[string]string {
	return map[string]string{
		"Sender Name":          "Asha Devi",
		"Recipient Name":       "R. K. Builders",
		"Recipient Address":    "12 MG Road, Pune",
		"Issue Description":    "Possession of flat delayed by 18 months",
		"Demand/Relief Sought": "Refund with interest",
	}
}

func TestGenerator_Draft(t *testing.T) {
	m := &mockEngine{replies: []string{"```html\n<h3>LEGAL NOTICE</h3><b>To:</b> R. K. Builders<br><br>Refund with interest.\n```"}}
	g := NewGenerator(m, "llama3.1", composer.New(0, 0), resilience.RetryOptions{MaxAttempts: 3, Sleep: noSleep})

	d, err := g.Draft(context.Background(), legalNotice(t), noticeValues())
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if strings.Contains(d.HTML, "```") {
		t.Errorf("fences not stripped: %q", d.HTML)
	}
	if !strings.HasPrefix(d.HTML, "<h3>LEGAL NOTICE</h3>") {
		t.Errorf("HTML = %q", d.HTML)
	}
	want := "LEGAL NOTICE\nTo: R. K. Builders\n\nRefund with interest."
	if d.Text != want {
		t.Errorf("Text = %q, want %q", d.Text, want)
	}
	if d.Kind != "Legal Notice" {
		t.Errorf("Kind = %q", d.Kind)
	}
	if user := m.got[len(m.got)-1].Content; !strings.Contains(user, "Sender Name: Asha Devi") {
		t.Errorf("details not sent to the engine:\n%s", user)
	}
}

func TestGenerator_RetriesTransient(t *testing.T) {
	m := &mockEngine{
		errs:    []error{&ollama.StatusError{Op: "chat", Code: 503}, nil},
		replies: []string{"", "<p>ok</p>"},
	}
	g := NewGenerator(m, "m", composer.New(0, 0), resilience.RetryOptions{MaxAttempts: 3, Sleep: noSleep})

	d, err := g.Draft(context.Background(), legalNotice(t), noticeValues())
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if m.calls != 2 || d.Text != "ok" {
		t.Errorf("calls = %d, text = %q; want 2 calls and ok", m.calls, d.Text)
	}
}

func TestGenerator_NonTransientFailsFast(t *testing.T) {
	m := &mockEngine{errs: []error{&ollama.StatusError{Op: "chat", Code: 400}}, replies: []string{""}}
	g := NewGenerator(m, "m", composer.New(0, 0), resilience.RetryOptions{MaxAttempts: 3, Sleep: noSleep})

	_, err := g.Draft(context.Background(), legalNotice(t), noticeValues())
	var se *ollama.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *ollama.StatusError", err)
	}
	if m.calls != 1 {
		t.Errorf("calls = %d, want 1", m.calls)
	}
}

func TestGenerator_ValidationBeforeEngine(t *testing.T) {
	m := &mockEngine{replies: []string{"x"}}
	g := NewGenerator(m, "m", composer.New(0, 0), resilience.RetryOptions{})

	_, err := g.Draft(context.Background(), legalNotice(t), map[string]string{"Sender Name": "Asha"})
	if !errors.Is(err, ErrMissingFields) {
		t.Errorf("err = %v, want ErrMissingFields", err)
	}
	if m.calls != 0 {
		t.Error("engine called for an invalid request")
	}
}

func TestGenerator_NoEngine(t *testing.T) {
	g := NewGenerator(nil, "m", composer.New(0, 0), resilience.RetryOptions{})
	if _, err := g.Draft(context.Background(), legalNotice(t), noticeValues()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}
