// Package drafting fills fixed legal templates and asks the chat engine for
// free-form drafts.
package drafting

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var catalogYAML []byte

// ErrUnknownTemplate is returned when a template or draft kind name does not
// match the catalogue.
var ErrUnknownTemplate = errors.New("unknown template")

// Field is one input of a template or draft kind. Type is text, textarea,
// number or date; empty means text.
type Field struct {
	ID          string `yaml:"id" json:"id"`
	Label       string `yaml:"label" json:"label,omitempty"`
	Type        string `yaml:"type" json:"type,omitempty"`
	Placeholder string `yaml:"placeholder" json:"placeholder,omitempty"`
	Required    bool   `yaml:"required" json:"required,omitempty"`
}

// Section groups template fields for display.
type Section struct {
	Title  string  `yaml:"title" json:"title"`
	Fields []Field `yaml:"fields" json:"fields"`
}

// Template is fixed boilerplate with {field} placeholders and <b> markers.
type Template struct {
	Name     string    `yaml:"name" json:"name"`
	Filename string    `yaml:"filename" json:"filename"`
	Sections []Section `yaml:"sections" json:"sections"`
	Body     string    `yaml:"body" json:"-"`
}

// Fields returns the template's fields in section order.
func (t *Template) Fields() []Field {
	var fields []Field
	for _, s := range t.Sections {
		fields = append(fields, s.Fields...)
	}
	return fields
}

// Kind is a document type drafted by the chat engine.
type Kind struct {
	Name   string  `yaml:"name" json:"name"`
	Fields []Field `yaml:"fields" json:"fields"`
}

// Catalog holds the templates and draft kinds.
type Catalog struct {
	Templates []Template `yaml:"templates"`
	Kinds     []Kind     `yaml:"kinds"`
}

// LoadCatalog parses the built-in catalogue.
func LoadCatalog() (*Catalog, error) {
	return ParseCatalog(catalogYAML)
}

// ParseCatalog parses a YAML catalogue and checks that every placeholder in a
// template body names one of its fields or "date".
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing template catalogue: %w", err)
	}
	for i := range c.Templates {
		t := &c.Templates[i]
		known := map[string]bool{"date": true}
		for _, f := range t.Fields() {
			known[f.ID] = true
		}
		for _, m := range placeholderRe.FindAllStringSubmatch(t.Body, -1) {
			if !known[m[1]] {
				return nil, fmt.Errorf("template %q: placeholder {%s} has no field", t.Name, m[1])
			}
		}
	}
	return &c, nil
}

// Template returns the template with the given name, ignoring case.
func (c *Catalog) Template(name string) (*Template, error) {
	for i := range c.Templates {
		if strings.EqualFold(c.Templates[i].Name, name) {
			return &c.Templates[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
}

// Kind returns the draft kind with the given name, ignoring case.
func (c *Catalog) Kind(name string) (*Kind, error) {
	for i := range c.Kinds {
		if strings.EqualFold(c.Kinds[i].Name, name) {
			return &c.Kinds[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
}
