package counsel

import (
	"encoding/json"

	"github.com/kalambet/nyaysaathi/internal/engine"
	"github.com/kalambet/nyaysaathi/internal/retrieval"
)

// List is a JSON list of strings that also accepts a single string, which
// models often return for one-item lists.
type List []string

func (l *List) UnmarshalJSON(b []byte) error {
	var many []string
	if err := json.Unmarshal(b, &many); err == nil {
		*l = many
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	if one == "" {
		*l = nil
	} else {
		*l = List{one}
	}
	return nil
}

// Explanation is the plain-language reading of a document.
type Explanation struct {
	Summary     string `json:"summary"`
	KeyPoints   List   `json:"key_points"`
	Obligations List   `json:"obligations"`
	Risks       List   `json:"risks"`
	NextSteps   List   `json:"next_steps"`
	// Cached is set when the explanation came from storage.
	Cached bool `json:"cached,omitempty"`
}

// Answer is the reply to a legal question.
type Answer struct {
	Answer     string              `json:"answer"`
	ActionPlan List                `json:"action_plan"`
	Sources    List                `json:"sources"`
	Passages   []retrieval.Passage `json:"passages,omitempty"`
	// Structured is false when the reply could not be parsed and Answer holds
	// the raw model text.
	Structured bool `json:"structured"`
}

var stringList = &engine.SchemaProperty{Type: "string"}

var explanationSchema = &engine.Schema{
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"summary":     {Type: "string", Description: "What the document is and what it does"},
		"key_points":  {Type: "array", Items: stringList},
		"obligations": {Type: "array", Items: stringList},
		"risks":       {Type: "array", Items: stringList},
		"next_steps":  {Type: "array", Items: stringList},
	},
	Required: []string{"summary", "key_points", "obligations", "risks", "next_steps"},
}

var answerSchema = &engine.Schema{
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"answer":      {Type: "string"},
		"action_plan": {Type: "array", Items: stringList},
		"sources":     {Type: "array", Items: stringList},
	},
	Required: []string{"answer", "action_plan"},
}
