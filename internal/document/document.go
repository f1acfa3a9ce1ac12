// Package document turns uploaded files into plain text for explanation and
// question answering.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/nyaysaathi/internal/resilience"
)

var (
	// ErrUnsupported is returned for file types that cannot be read as text.
	ErrUnsupported = errors.New("unsupported document type")
	// ErrEmpty is returned when a file holds no extractable text, such as a
	// scanned PDF without a text layer.
	ErrEmpty = errors.New("document has no extractable text")
)

// Kind identifies how a document was read.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindHTML Kind = "html"
	KindText Kind = "text"
)

// Document is the extracted text of an upload. Hash is the content hash of
// the raw upload bytes.
type Document struct {
	Name  string `json:"name"`
	Kind  Kind   `json:"kind"`
	Text  string `json:"text"`
	Hash  string `json:"hash"`
	Pages int    `json:"pages,omitempty"`
}

// Extract reads data as the type implied by name, then contentType, then
// the content itself.
func Extract(name, contentType string, data []byte) (Document, error) {
	kind, err := detect(name, contentType, data)
	if err != nil {
		return Document{}, err
	}

	doc := Document{Name: name, Kind: kind, Hash: resilience.ContentHash(data)}
	switch kind {
	case KindPDF:
		doc.Text, doc.Pages, err = pdfText(data)
	case KindHTML:
		doc.Text, err = HTMLText(bytes.NewReader(data))
	case KindText:
		if !utf8.Valid(data) {
			return Document{}, fmt.Errorf("%s: %w: text is not valid UTF-8", name, ErrUnsupported)
		}
		doc.Text = string(data)
	}
	if err != nil {
		return Document{}, fmt.Errorf("extracting %s: %w", name, err)
	}

	doc.Text = strings.TrimSpace(doc.Text)
	if doc.Text == "" {
		return Document{}, fmt.Errorf("%s: %w", name, ErrEmpty)
	}
	return doc, nil
}

func detect(name, contentType string, data []byte) (Kind, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF, nil
	case ".html", ".htm":
		return KindHTML, nil
	case ".txt", ".md", ".markdown", ".text":
		return KindText, nil
	}

	if k, ok := kindFromMediaType(contentType); ok {
		return k, nil
	}
	if len(data) > 0 {
		if k, ok := kindFromMediaType(http.DetectContentType(data)); ok {
			return k, nil
		}
	}
	return "", fmt.Errorf("%s (%s): %w", name, contentType, ErrUnsupported)
}

func kindFromMediaType(contentType string) (Kind, bool) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", false
	}
	switch mt {
	case "application/pdf":
		return KindPDF, true
	case "text/html", "application/xhtml+xml":
		return KindHTML, true
	case "text/plain", "text/markdown":
		return KindText, true
	}
	return "", false
}
