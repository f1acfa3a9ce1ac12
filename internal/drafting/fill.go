package drafting

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout formats dates in filled documents, e.g. "March 05, 2026".
const DateLayout = "January 02, 2006"

const blank = "____________"

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// ErrMissingFields is wrapped by ValidationError.
var ErrMissingFields = errors.New("required fields missing")

// ValidationError lists the fields that stop a document from being filled.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "not a number: "+strings.Join(e.Invalid, ", "))
	}
	if len(parts) == 0 {
		return "no fields filled"
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrMissingFields }

// Validate requires at least one non-blank value, every required field, and
// numeric values for number fields.
func Validate(fields []Field, values map[string]string) error {
	var verr ValidationError
	filled := 0
	for _, f := range fields {
		v := strings.TrimSpace(values[f.ID])
		if v == "" {
			if f.Required {
				verr.Missing = append(verr.Missing, f.ID)
			}
			continue
		}
		filled++
		if f.Type == "number" {
			if _, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64); err != nil {
				verr.Invalid = append(verr.Invalid, f.ID)
			}
		}
	}
	if filled == 0 || len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return &verr
	}
	return nil
}

// Filled is a template rendered with user values. Preview keeps the <b>
// markers and shows each missing value as [FIELD NAME]; Text is print-ready
// with missing values left as a blank line.
type Filled struct {
	Template string   `json:"template"`
	Filename string   `json:"filename"`
	Preview  string   `json:"preview"`
	Text     string   `json:"text"`
	Missing  []string `json:"missing,omitempty"`
}

// Fill renders t. The {date} placeholder is always now; date fields left
// blank also default to now.
func Fill(t *Template, values map[string]string, now time.Time) Filled {
	today := now.Format(DateLayout)
	resolved := map[string]string{"date": today}
	var missing []string
	for _, f := range t.Fields() {
		v := strings.TrimSpace(values[f.ID])
		if v == "" && f.Type == "date" {
			v = today
		}
		if v == "" {
			missing = append(missing, f.ID)
			continue
		}
		resolved[f.ID] = v
	}

	preview := placeholderRe.ReplaceAllStringFunc(t.Body, func(m string) string {
		id := m[1 : len(m)-1]
		if v, ok := resolved[id]; ok {
			return v
		}
		return "[" + strings.ToUpper(strings.ReplaceAll(id, "_", " ")) + "]"
	})

	plain := strings.NewReplacer("<b>", "", "</b>", "").Replace(t.Body)
	text := placeholderRe.ReplaceAllStringFunc(plain, func(m string) string {
		if v, ok := resolved[m[1:len(m)-1]]; ok {
			return v
		}
		return blank
	})

	return Filled{
		Template: t.Name,
		Filename: fmt.Sprintf("%s.pdf", t.Filename),
		Preview:  preview,
		Text:     text,
		Missing:  missing,
	}
}
