package drafting

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

func loadCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	return c
}

func TestLoadCatalog(t *testing.T) {
	c := loadCatalog(t)
	if len(c.Templates) != 2 {
		t.Errorf("got %d templates, want 2", len(c.Templates))
	}
	if len(c.Kinds) != 6 {
		t.Errorf("got %d draft kinds, want 6", len(c.Kinds))
	}

	tpl, err := c.Template("rental agreement")
	if err != nil {
		t.Fatalf("Template: %v", err)
	}
	if n := len(tpl.Fields()); n != 13 {
		t.Errorf("rental agreement has %d fields, want 13", n)
	}

	if _, err := c.Template("Sale Deed"); !errors.Is(err, ErrUnknownTemplate) {
		t.Errorf("err = %v, want ErrUnknownTemplate", err)
	}
	if _, err := c.Kind("legal notice"); err != nil {
		t.Errorf("Kind(legal notice): %v", err)
	}
	if _, err := c.Kind("Sale Deed"); !errors.Is(err, ErrUnknownTemplate) {
		t.Errorf("err = %v, want ErrUnknownTemplate", err)
	}
}

func TestParseCatalog_UnknownPlaceholder(t *testing.T) {
	data := []byte(`
templates:
  - name: Broken
    sections:
      - title: Only
        fields:
          - id: known
    body: "{known} and {unknown}"
`)
	if _, err := ParseCatalog(data); err == nil || !strings.Contains(err.Error(), "unknown") {
		t.Errorf("err = %v, want error naming the placeholder", err)
	}
}

func TestFill_NDA(t *testing.T) {
	tpl, _ := loadCatalog(t).Template("NDA")
	f := Fill(tpl, map[string]string{
		"disclosing_party": "Acme Pvt Ltd",
		"receiving_party":  "Ravi Kumar",
		"duration":         "2",
	}, fixedNow)

	if !strings.Contains(f.Preview, "entered into on <b>March 05, 2026</b>") {
		t.Error("preview does not carry today's date")
	}
	if !strings.Contains(f.Preview, "<b>1. Acme Pvt Ltd</b>") {
		t.Error("preview lost a filled value or the bold markers")
	}
	if !strings.Contains(f.Preview, "courts in <b>[JURISDICTION]</b>") {
		t.Error("missing field not shown as [JURISDICTION] in preview")
	}
	if !strings.Contains(f.Preview, "[CONFIDENTIAL INFO]") {
		t.Error("underscores not turned into spaces in the preview placeholder")
	}

	if strings.Contains(f.Text, "<b>") || strings.Contains(f.Text, "</b>") {
		t.Error("text still has <b> markers")
	}
	if !strings.Contains(f.Text, "courts in ____________ shall") {
		t.Error("missing field not blanked in text")
	}
	if !strings.Contains(f.Text, "period of 2 years") {
		t.Error("filled value missing from text")
	}
	if f.Filename != "Non_Disclosure_Agreement.pdf" {
		t.Errorf("Filename = %q", f.Filename)
	}

	want := []string{"confidential_info", "purpose", "jurisdiction"}
	if strings.Join(f.Missing, ",") != strings.Join(want, ",") {
		t.Errorf("Missing = %v, want %v", f.Missing, want)
	}
}

func TestFill_DateFieldsDefaultToToday(t *testing.T) {
	tpl, _ := loadCatalog(t).Template("Rental Agreement")
	f := Fill(tpl, map[string]string{"landlord_name": "Amit Sharma"}, fixedNow)
	if !strings.Contains(f.Text, "commencing from March 05, 2026") {
		t.Error("blank start_date did not default to today")
	}
	for _, id := range f.Missing {
		if id == "start_date" {
			t.Error("start_date reported missing")
		}
	}

	f = Fill(tpl, map[string]string{"start_date": "April 01, 2026"}, fixedNow)
	if !strings.Contains(f.Text, "commencing from April 01, 2026") {
		t.Error("explicit start_date not used")
	}
}

func TestValidate(t *testing.T) {
	fields := []Field{
		{ID: "name", Required: true},
		{ID: "rent", Type: "number"},
		{ID: "note"},
	}
	tests := []struct {
		name    string
		values  map[string]string
		missing []string
		invalid []string
		ok      bool
	}{
		{"all good", map[string]string{"name": "Asha", "rent": "15,000"}, nil, nil, true},
		{"nothing filled", map[string]string{"note": "  "}, []string{"name"}, nil, false},
		{"required missing", map[string]string{"note": "x"}, []string{"name"}, nil, false},
		{"bad number", map[string]string{"name": "Asha", "rent": "fifteen"}, nil, []string{"rent"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(fields, tt.values)
			if tt.ok {
				if err != nil {
					t.Errorf("Validate = %v, want nil", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if !errors.Is(err, ErrMissingFields) {
				t.Error("ValidationError does not wrap ErrMissingFields")
			}
			if strings.Join(verr.Missing, ",") != strings.Join(tt.missing, ",") {
				t.Errorf("Missing = %v, want %v", verr.Missing, tt.missing)
			}
			if strings.Join(verr.Invalid, ",") != strings.Join(tt.invalid, ",") {
				t.Errorf("Invalid = %v, want %v", verr.Invalid, tt.invalid)
			}
		})
	}
}

func TestValidate_NoRequiredFields(t *testing.T) {
	err := Validate([]Field{{ID: "a"}, {ID: "b"}}, map[string]string{})
	if err == nil || err.Error() != "no fields filled" {
		t.Errorf("err = %v, want no fields filled", err)
	}
}

func TestPrintSafe(t *testing.T) {
	in := "Rent ₹15,000 – “due” on the 5th… • it’s final — café 日本"
	want := `Rent Rs. 15,000 - "due" on the 5th... * it's final - café `
	if got := PrintSafe(in); got != want {
		t.Errorf("PrintSafe = %q, want %q", got, want)
	}
}
