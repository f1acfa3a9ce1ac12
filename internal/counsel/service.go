// Package counsel runs the explain and ask flows: retrieval, prompt
// composition, retried chat calls and recovery of JSON replies.
package counsel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/nyaysaathi/internal/composer"
	"github.com/kalambet/nyaysaathi/internal/engine"
	"github.com/kalambet/nyaysaathi/internal/resilience"
	"github.com/kalambet/nyaysaathi/internal/retrieval"
	"github.com/kalambet/nyaysaathi/internal/session"
	"github.com/kalambet/nyaysaathi/internal/storage"
)

var (
	// ErrNoDocument is returned by Explain when there is no document text.
	ErrNoDocument = errors.New("no document to explain")
	// ErrEmptyQuestion is returned by Ask for a blank question.
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrNotConfigured is returned when no chat engine was configured.
	ErrNotConfigured = errors.New("no chat engine configured")
)

const (
	defaultTopK         = 3
	defaultHistoryTurns = 6
)

// Store persists explanations and consultations. *storage.Store implements it.
type Store interface {
	GetExplanation(docHash string) (storage.Explanation, error)
	SaveExplanation(e storage.Explanation) error
	SaveConsultation(c storage.Consultation) error
}

// Config tunes a Service.
type Config struct {
	Model        string
	TopK         int
	HistoryTurns int
	Temperature  float64
	Retry        resilience.RetryOptions
}

// Service answers questions and explains documents for a session.
type Service struct {
	engine   engine.Engine
	retrieve session.RetrieveFunc
	store    Store
	composer *composer.Composer
	cfg      Config
}

// New creates a Service. engine may be nil, in which case every flow fails
// with ErrNotConfigured. retrieve and store may be nil.
func New(e engine.Engine, retrieve session.RetrieveFunc, store Store, c *composer.Composer, cfg Config) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = defaultHistoryTurns
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = engine.IsTransient
	}
	return &Service{engine: e, retrieve: retrieve, store: store, composer: c, cfg: cfg}
}

// Explain explains the document attached to sess and records the result on
// the session.
func (s *Service) Explain(ctx context.Context, sess *session.Session) (Explanation, error) {
	doc, ok := sess.Document()
	if !ok {
		return Explanation{}, ErrNoDocument
	}
	exp, err := s.ExplainText(ctx, doc.Name, doc.Text)
	if err != nil {
		return Explanation{}, err
	}
	if raw, err := json.Marshal(exp); err == nil {
		sess.SetExplanation(raw)
	}
	return exp, nil
}

// ExplainText explains text. Explanations are stored by the content hash of
// text, so the same document is only sent to the engine once.
func (s *Service) ExplainText(ctx context.Context, name, text string) (Explanation, error) {
	if strings.TrimSpace(text) == "" {
		return Explanation{}, ErrNoDocument
	}
	hash := resilience.ContentHashString(text)

	if exp, ok := s.storedExplanation(hash); ok {
		return exp, nil
	}
	if s.engine == nil {
		return Explanation{}, ErrNotConfigured
	}

	msgs := s.composer.Explain(text)
	opts := engine.ChatOptions{Schema: explanationSchema, Temperature: s.cfg.Temperature}

	// A reply that cannot be parsed is asked for again, like a transient error.
	retry := s.cfg.Retry
	transient := retry.Retryable
	retry.Retryable = func(err error) bool {
		var pe *resilience.ParseError
		return errors.As(err, &pe) || transient(err)
	}

	exp, err := resilience.Retry(ctx, func(ctx context.Context) (Explanation, error) {
		raw, err := s.engine.Chat(ctx, s.cfg.Model, msgs, opts)
		if err != nil {
			return Explanation{}, err
		}
		var exp Explanation
		if err := resilience.DecodeJSON(raw, &exp); err != nil {
			return Explanation{}, err
		}
		return exp, nil
	}, retry)
	if err != nil {
		return Explanation{}, fmt.Errorf("explaining %s: %w", name, err)
	}

	if s.store != nil {
		body, _ := json.Marshal(exp)
		if err := s.store.SaveExplanation(storage.Explanation{
			DocHash: hash, DocName: name, Model: s.cfg.Model, Body: string(body),
		}); err != nil {
			slog.Warn("failed to store explanation", "hash", hash, "error", err)
		}
	}
	return exp, nil
}

func (s *Service) storedExplanation(hash string) (Explanation, bool) {
	if s.store == nil {
		return Explanation{}, false
	}
	rec, err := s.store.GetExplanation(hash)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("explanation lookup failed", "hash", hash, "error", err)
		}
		return Explanation{}, false
	}
	var exp Explanation
	if err := json.Unmarshal([]byte(rec.Body), &exp); err != nil {
		slog.Warn("stored explanation is corrupt", "hash", hash, "error", err)
		return Explanation{}, false
	}
	exp.Cached = true
	return exp, true
}

// Ask answers question using guidance passages, the session's document and
// its recent history. A reply that is not valid JSON is returned as plain
// text rather than failing the request.
func (s *Service) Ask(ctx context.Context, sess *session.Session, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, ErrEmptyQuestion
	}
	if s.engine == nil {
		return Answer{}, ErrNotConfigured
	}

	var passages []retrieval.Passage
	if s.retrieve != nil {
		var err error
		passages, err = sess.CachedRetrieve(ctx, s.retrieve, question, s.cfg.TopK)
		if err != nil {
			slog.Warn("retrieval failed, answering without guidance", "error", err)
			passages = nil
		}
	}

	var docText string
	if doc, ok := sess.Document(); ok {
		docText = doc.Text
	}

	turns := sess.History(s.cfg.HistoryTurns)
	history := make([]engine.Message, len(turns))
	for i, t := range turns {
		history[i] = engine.Message{Role: t.Role, Content: t.Content}
	}

	msgs := s.composer.Ask(question, docText, passages, history)
	opts := engine.ChatOptions{Schema: answerSchema, Temperature: s.cfg.Temperature}
	raw, err := resilience.Retry(ctx, func(ctx context.Context) (string, error) {
		return s.engine.Chat(ctx, s.cfg.Model, msgs, opts)
	}, s.cfg.Retry)
	if err != nil {
		return Answer{}, fmt.Errorf("answering question: %w", err)
	}

	ans := parseAnswer(raw)
	ans.Passages = passages
	if len(ans.Sources) == 0 {
		ans.Sources = passageSources(passages)
	}

	sess.AppendTurn("user", question)
	sess.AppendTurn("assistant", ans.Answer)
	s.recordConsultation(sess.ID, question, ans)
	return ans, nil
}

func parseAnswer(raw string) Answer {
	var ans Answer
	err := resilience.DecodeJSON(raw, &ans)
	if err == nil && strings.TrimSpace(ans.Answer) != "" {
		ans.Structured = true
		return ans
	}
	if err != nil {
		var pe *resilience.ParseError
		if errors.As(err, &pe) {
			slog.Warn("answer is not JSON, returning raw text", "stage", pe.Stage, "snippet", pe.Snippet)
		} else {
			slog.Warn("answer JSON has unexpected shape, returning raw text", "error", err)
		}
	}
	return Answer{Answer: strings.TrimSpace(resilience.StripFences(raw))}
}

func passageSources(passages []retrieval.Passage) List {
	seen := make(map[string]bool)
	var out List
	for _, p := range passages {
		name := p.Source
		if name == "" {
			name = p.Title
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func (s *Service) recordConsultation(sessionID, question string, ans Answer) {
	if s.store == nil {
		return
	}
	sources := []byte("[]")
	if len(ans.Sources) > 0 {
		sources, _ = json.Marshal(ans.Sources)
	}
	err := s.store.SaveConsultation(storage.Consultation{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Question:  question,
		Answer:    ans.Answer,
		Sources:   string(sources),
		CreatedAt: time.Now(),
	})
	if err != nil {
		slog.Warn("failed to record consultation", "error", err)
	}
}
