package schema

import (
	"errors"
	"testing"
)

func f64(v float64) *float64 { return &v }

func sampleFields() []Field {
	return []Field{
		{Name: "beneficiaries", Label: "Beneficiaries served", Kind: KindNumber, Required: true,
			Number: &NumberConstraints{Min: f64(0), IntegerOnly: true}},
		{Name: "utilization_pct", Label: "Funds utilized (%)", Kind: KindNumber,
			Number: &NumberConstraints{Min: f64(0), Max: f64(100)}},
		{Name: "summary", Label: "Progress summary", Kind: KindTextarea, Required: true,
			Text: &TextConstraints{MinLength: 10}},
		{Name: "audit_done", Label: "Audit completed", Kind: KindCheckbox},
		{Name: "region", Label: "Region", Kind: KindSingleSelect, Required: true,
			Select: &SelectConstraints{Options: []string{"north", "south", "east", "west"}}},
		{Name: "programs", Label: "Active programs", Kind: KindMultiSelect,
			Select: &SelectConstraints{Options: []string{"health", "education", "water"}, MaxSelections: 2}},
		{Name: "report_date", Label: "Report date", Kind: KindDate, Required: true,
			Date: &DateConstraints{Min: "2024-01-01"}},
		{Name: "next_audit", Label: "Next audit date", Kind: KindDate,
			Date: &DateConstraints{FutureOnly: true}},
		{Name: "grant_code", Label: "Grant code", Kind: KindText,
			Text: &TextConstraints{Pattern: `^G-[0-9]+$`}},
		{Name: "receipts_total", Label: "Receipts total", Kind: KindNumber, Required: true,
			ProofRequired: true, ProofDescription: "Scanned receipts"},
	}
}

func TestValidateDefinition(t *testing.T) {
	if err := Validate(sampleFields()); err != nil {
		t.Fatalf("valid definition rejected: %v", err)
	}
}

func TestValidateDefinitionRejects(t *testing.T) {
	cases := []struct {
		name   string
		fields []Field
		field  string
	}{
		{"empty", nil, ""},
		{"bad name", []Field{{Name: "has space", Label: "x", Kind: KindText}}, "has space"},
		{"duplicate name case-insensitive", []Field{
			{Name: "amount", Label: "a", Kind: KindText},
			{Name: "Amount", Label: "b", Kind: KindText},
		}, "Amount"},
		{"missing label", []Field{{Name: "amount", Kind: KindText}}, "amount"},
		{"unknown kind", []Field{{Name: "amount", Label: "a", Kind: "slider"}}, "amount"},
		{"select without options", []Field{{Name: "region", Label: "r", Kind: KindSingleSelect}}, "region"},
		{"select duplicate option", []Field{{Name: "region", Label: "r", Kind: KindMultiSelect,
			Select: &SelectConstraints{Options: []string{"a", "a"}}}}, "region"},
		{"number min above max", []Field{{Name: "n", Label: "n", Kind: KindNumber,
			Number: &NumberConstraints{Min: f64(10), Max: f64(1)}}}, "n"},
		{"bad pattern", []Field{{Name: "code", Label: "c", Kind: KindText,
			Text: &TextConstraints{Pattern: `[unclosed`}}}, "code"},
		{"future and past", []Field{{Name: "d", Label: "d", Kind: KindDate,
			Date: &DateConstraints{FutureOnly: true, PastOnly: true}}}, "d"},
		{"selections min above max", []Field{{Name: "p", Label: "p", Kind: KindMultiSelect,
			Select: &SelectConstraints{Options: []string{"a", "b"}, MinSelections: 3, MaxSelections: 1}}}, "p"},
		{"default not an option", []Field{{Name: "r", Label: "r", Kind: KindSingleSelect,
			Select: &SelectConstraints{Options: []string{"a", "b"}, Default: "z"}}}, "r"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.fields)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("got %v, want ValidationError", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("blamed field %q, want %q", ve.Field, tc.field)
			}
		})
	}
}

func TestParseFieldsRoundTrip(t *testing.T) {
	raw := []byte(`[
		{"name":"beneficiaries","label":"Beneficiaries served","type":"number_field","required":true,"number":{"min":0,"integer_only":true}},
		{"name":"region","label":"Region","type":"single_select","select":{"options":["north","south"]}}
	]`)
	fields, err := ParseFields(raw)
	if err != nil {
		t.Fatalf("ParseFields: %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("got %d fields, want 2", len(fields))
	}
	if fields[0].Kind != KindNumber || !fields[0].Number.IntegerOnly {
		t.Fatalf("number constraints not decoded: %+v", fields[0])
	}
	if len(fields[1].Select.Options) != 2 {
		t.Fatalf("select options not decoded: %+v", fields[1])
	}
}

func goodAnswers() map[string]any {
	return map[string]any{
		"beneficiaries":        float64(1200),
		"utilization_pct":      float64(87.5),
		"summary":              "Distributed school kits across two districts.",
		"audit_done":           true,
		"region":               "north",
		"programs":             []any{"health", "water"},
		"report_date":          "2024-06-01",
		"next_audit":           "2100-01-01",
		"grant_code":           "G-4821",
		"receipts_total":       float64(125000),
		"receipts_total_proof": map[string]any{"name": "receipts.pdf"},
	}
}

func TestValidateAnswers(t *testing.T) {
	if err := ValidateAnswers(sampleFields(), goodAnswers()); err != nil {
		t.Fatalf("valid answers rejected: %v", err)
	}
}

func TestValidateAnswersRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(map[string]any)
		field  string
	}{
		{"missing required", func(a map[string]any) { delete(a, "summary") }, "summary"},
		{"unknown answer", func(a map[string]any) { a["extra"] = "x" }, "extra"},
		{"number below min", func(a map[string]any) { a["beneficiaries"] = float64(-1) }, "beneficiaries"},
		{"number above max", func(a map[string]any) { a["utilization_pct"] = float64(100.01) }, "utilization_pct"},
		{"integer only", func(a map[string]any) { a["beneficiaries"] = float64(3.5) }, "beneficiaries"},
		{"wrong type", func(a map[string]any) { a["audit_done"] = "yes" }, "audit_done"},
		{"text too short", func(a map[string]any) { a["summary"] = "short" }, "summary"},
		{"bad date", func(a map[string]any) { a["report_date"] = "June 1st" }, "report_date"},
		{"date before min", func(a map[string]any) { a["report_date"] = "2023-12-31" }, "report_date"},
		{"option not listed", func(a map[string]any) { a["region"] = "central" }, "region"},
		{"multi option not listed", func(a map[string]any) { a["programs"] = []any{"health", "roads"} }, "programs"},
		{"multi duplicate", func(a map[string]any) { a["programs"] = []any{"health", "health"} }, "programs"},
		{"too many selections", func(a map[string]any) { a["programs"] = []any{"health", "education", "water"} }, "programs"},
		{"pattern mismatch", func(a map[string]any) { a["grant_code"] = "4821" }, "grant_code"},
		{"future only in the past", func(a map[string]any) { a["next_audit"] = "1990-01-01" }, "next_audit"},
		{"missing proof", func(a map[string]any) { delete(a, "receipts_total_proof") }, "receipts_total_proof"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := goodAnswers()
			tc.mutate(a)
			err := ValidateAnswers(sampleFields(), a)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("got %v, want ValidationError", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("blamed field %q, want %q (%v)", ve.Field, tc.field, err)
			}
		})
	}
}

func TestBoundaryNumbersAccepted(t *testing.T) {
	a := goodAnswers()
	a["utilization_pct"] = float64(0)
	if err := ValidateAnswers(sampleFields(), a); err != nil {
		t.Fatalf("min boundary rejected: %v", err)
	}
	a["utilization_pct"] = float64(100)
	if err := ValidateAnswers(sampleFields(), a); err != nil {
		t.Fatalf("max boundary rejected: %v", err)
	}
}

func TestOptionalFieldsMayBeOmitted(t *testing.T) {
	a := map[string]any{
		"beneficiaries":        float64(10),
		"summary":              "Quarterly distribution completed on time.",
		"region":               "south",
		"report_date":          "2024-03-15",
		"receipts_total":       float64(5),
		"receipts_total_proof": map[string]any{"name": "receipts.pdf"},
	}
	if err := ValidateAnswers(sampleFields(), a); err != nil {
		t.Fatalf("omitting optional fields rejected: %v", err)
	}
}

func TestProofOptionalWhenFieldOptional(t *testing.T) {
	fields := []Field{{Name: "expenses", Label: "Expenses", Kind: KindNumber, ProofRequired: true}}
	if err := ValidateAnswers(fields, map[string]any{"expenses": float64(10)}); err != nil {
		t.Fatalf("optional field answered without proof rejected: %v", err)
	}
	if err := ValidateAnswers(fields, map[string]any{
		"expenses":       float64(10),
		"expenses_proof": map[string]any{"name": "e.pdf"},
	}); err != nil {
		t.Fatalf("optional field answered with proof rejected: %v", err)
	}
}

func TestDefaultsDecodedFromDefinition(t *testing.T) {
	raw := []byte(`[
		{"name":"audit_done","label":"Audit completed","type":"checkbox","checkbox":{"default":true}},
		{"name":"programs","label":"Programs","type":"multi_select",
			"select":{"options":["health","water"],"min_selections":1,"default_values":["health"]}}
	]`)
	fields, err := ParseFields(raw)
	if err != nil {
		t.Fatalf("ParseFields: %v", err)
	}
	if fields[0].Checkbox == nil || !fields[0].Checkbox.Default {
		t.Fatalf("checkbox default not decoded: %+v", fields[0])
	}
	if fields[1].Select.MinSelections != 1 || len(fields[1].Select.Defaults) != 1 {
		t.Fatalf("select defaults not decoded: %+v", fields[1])
	}
}
