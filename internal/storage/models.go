package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Explanation is a stored document explanation. Body holds the explanation
// as JSON; DocHash is the content hash of the explained text.
type Explanation struct {
	DocHash   string
	DocName   string
	Model     string
	Body      string
	CreatedAt time.Time
}

// Consultation is one answered question.
type Consultation struct {
	ID        string
	SessionID string
	Question  string
	Answer    string
	Sources   string // JSON array stored as text
	CreatedAt time.Time
}

// Draft is a generated or template-filled legal document.
type Draft struct {
	ID        string
	Kind      string
	Fields    string // JSON object stored as text
	HTML      string
	Text      string
	CreatedAt time.Time
}
