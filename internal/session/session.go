package session

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/nyaysaathi/internal/retrieval"
)

// ErrNotFound is returned when a session ID is unknown to the Manager.
var ErrNotFound = errors.New("session not found")

// Turn is one message of a session's conversation history.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Document is the uploaded document attached to a session.
type Document struct {
	Name string `json:"name"`
	Text string `json:"text"`
	Hash string `json:"hash"`
}

// Session carries one user's conversational and document context across
// interactions. It is safe for concurrent use.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu          sync.Mutex
	history     []Turn
	document    Document
	explanation json.RawMessage
	cache       map[string][]retrieval.Passage
	inflight    singleflight.Group
}

func newSession() *Session {
	return &Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		cache:     make(map[string][]retrieval.Passage),
	}
}

// SetDocument attaches an uploaded document, replacing any previous one and
// its explanation.
func (s *Session) SetDocument(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.document = doc
	s.explanation = nil
}

// SetExplanation records the explanation of the attached document.
func (s *Session) SetExplanation(raw json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.explanation = raw
}

// Explanation returns the last recorded explanation, if any.
func (s *Session) Explanation() (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.explanation, s.explanation != nil
}

// Document returns the attached document and whether one is set.
func (s *Session) Document() (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document, s.document.Text != ""
}

// AppendTurn records a message in the conversation history.
func (s *Session) AppendTurn(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Turn{Role: role, Content: content, At: time.Now().UTC()})
}

// History returns a copy of the last n turns, or all turns when n <= 0.
func (s *Session) History(n int) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	out := make([]Turn, len(h))
	copy(out, h)
	return out
}

// Reset clears history, the attached document and the retrieval cache.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.document = Document{}
	s.explanation = nil
	s.cache = make(map[string][]retrieval.Passage)
}

// Manager owns the lifecycle of in-memory sessions. Sessions are never
// persisted and are lost when the process exits.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create starts a new session.
func (m *Manager) Create() *Session {
	s := newSession()
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Reset clears the session with the given ID but keeps it alive.
func (m *Manager) Reset(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.Reset()
	return nil
}

// Delete ends a session and drops everything it holds.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
