package resilience

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Stage names the recovery step that was reached when parsing failed.
type Stage string

const (
	StageInput     Stage = "input"
	StageDirect    Stage = "direct"
	StageBlock     Stage = "block"
	StageNormalize Stage = "normalize"
)

// maxSnippet bounds the amount of offending text carried by a ParseError.
const maxSnippet = 1000

var errEmptyText = errors.New("no text to parse")

// ParseError is returned when no JSON object can be recovered from text.
type ParseError struct {
	Stage   Stage
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unable to parse JSON (stage %s): %v\nsnippet:\n%s", e.Stage, e.Err, e.Snippet)
}

func (e *ParseError) Unwrap() error { return e.Err }

// fencePattern matches markdown code fences. Only the lowercase "json" tag
// is consumed; other language tags are left in place.
var fencePattern = regexp.MustCompile("```(?:json)?")

var quoteReplacer = strings.NewReplacer(
	"''", `"`,
	"'", `"`,
	"‘", `"`,
	"’", `"`,
	"“", `"`,
	"”", `"`,
)

// ParseJSON recovers one JSON object from noisy model output. It strips code
// fences, then tries the whole text, then the first balanced {...} block,
// then a quote-normalized copy. The first success wins. Numbers come back as
// json.Number so large integers keep their exact digits.
func ParseJSON(text string) (map[string]any, error) {
	_, obj, err := recoverObject(text)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// DecodeJSON recovers a JSON object from text like ParseJSON and decodes it
// into v.
func DecodeJSON(text string, v any) error {
	raw, _, err := recoverObject(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return &ParseError{Stage: StageDirect, Snippet: snippet(raw), Err: err}
	}
	return nil
}

// StripFences removes every markdown fence marker and trims the result.
func StripFences(text string) string {
	return strings.TrimSpace(fencePattern.ReplaceAllString(text, ""))
}

func recoverObject(text string) (string, map[string]any, error) {
	cleaned := StripFences(text)
	if cleaned == "" {
		return "", nil, &ParseError{Stage: StageInput, Err: errEmptyText}
	}

	if obj, err := decodeObject(cleaned); err == nil {
		return cleaned, obj, nil
	}

	if block, ok := FirstObject(cleaned); ok {
		if obj, err := decodeObject(block); err == nil {
			return block, obj, nil
		}
	}

	normalized := quoteReplacer.Replace(cleaned)
	obj, err := decodeObject(normalized)
	if err == nil {
		return normalized, obj, nil
	}
	if block, ok := FirstObject(normalized); ok {
		if obj, berr := decodeObject(block); berr == nil {
			return block, obj, nil
		}
	}

	return "", nil, &ParseError{Stage: StageNormalize, Snippet: snippet(cleaned), Err: err}
}

// FirstObject returns the first balanced {...} region of s. Braces inside
// string literals are ignored, and backslash escapes inside strings are
// honoured. Later objects in s are never considered.
func FirstObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if start < 0 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level value")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", v)
	}
	return obj, nil
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= maxSnippet {
		return s
	}
	return string(r[:maxSnippet])
}
