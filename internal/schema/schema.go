// Package schema models compliance form definitions and validates both the
// definitions and the answers submitted against them.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Field kinds recognized in a form definition.
const (
	KindText         = "text_field"
	KindTextarea     = "textarea"
	KindNumber       = "number_field"
	KindDate         = "date_field"
	KindCheckbox     = "checkbox"
	KindSingleSelect = "single_select"
	KindMultiSelect  = "multi_select"
)

var nameRe = regexp.MustCompile(`(?i)^[a-z0-9_]+$`)

// ValidationError reports the first field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "schema: " + e.Reason
	}
	return fmt.Sprintf("schema: field %q: %s", e.Field, e.Reason)
}

// Field is one question in a compliance form. Description, Placeholder and
// ProofDescription are display guidance for the officer filling the form.
// Exactly the constraint block matching Kind is honored; the rest stay nil.
type Field struct {
	Name             string `json:"name"`
	Label            string `json:"label"`
	Kind             string `json:"type"`
	Required         bool   `json:"required,omitempty"`
	Description      string `json:"description,omitempty"`
	Placeholder      string `json:"placeholder,omitempty"`
	ProofRequired    bool   `json:"proof_required,omitempty"`
	ProofDescription string `json:"proof_description,omitempty"`

	Text     *TextConstraints     `json:"text,omitempty"`
	Number   *NumberConstraints   `json:"number,omitempty"`
	Date     *DateConstraints     `json:"date,omitempty"`
	Checkbox *CheckboxConstraints `json:"checkbox,omitempty"`
	Select   *SelectConstraints   `json:"select,omitempty"`
}

type TextConstraints struct {
	MinLength int    `json:"min_length,omitempty"`
	MaxLength int    `json:"max_length,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
}

type NumberConstraints struct {
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	IntegerOnly bool     `json:"integer_only,omitempty"`
}

type DateConstraints struct {
	Min        string `json:"min,omitempty"`
	Max        string `json:"max,omitempty"`
	FutureOnly bool   `json:"future_only,omitempty"`
	PastOnly   bool   `json:"past_only,omitempty"`
}

type CheckboxConstraints struct {
	Default bool `json:"default,omitempty"`
}

type SelectConstraints struct {
	Options       []string `json:"options"`
	MinSelections int      `json:"min_selections,omitempty"`
	MaxSelections int      `json:"max_selections,omitempty"`
	Default       string   `json:"default_value,omitempty"`
	Defaults      []string `json:"default_values,omitempty"`
}

// ProofFieldName returns the name of the file-upload companion field that
// accompanies a field with ProofRequired set.
func ProofFieldName(name string) string {
	return name + "_proof"
}

// ParseFields decodes and validates a form definition.
func ParseFields(raw []byte) ([]Field, error) {
	var fields []Field
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &ValidationError{Reason: "definition is not valid JSON: " + err.Error()}
	}
	if err := Validate(fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Validate checks a form definition for structural soundness.
func Validate(fields []Field) error {
	if len(fields) == 0 {
		return &ValidationError{Reason: "definition has no fields"}
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return &ValidationError{Reason: "field has no name"}
		}
		if !nameRe.MatchString(f.Name) {
			return &ValidationError{Field: f.Name, Reason: "name must contain only letters, digits and underscores"}
		}
		key := strings.ToLower(f.Name)
		if seen[key] {
			return &ValidationError{Field: f.Name, Reason: "duplicate field name"}
		}
		seen[key] = true
		if f.Label == "" {
			return &ValidationError{Field: f.Name, Reason: "field has no label"}
		}
		switch f.Kind {
		case KindText, KindTextarea:
			if f.Text != nil {
				if f.Text.MaxLength > 0 && f.Text.MinLength > f.Text.MaxLength {
					return &ValidationError{Field: f.Name, Reason: "min_length exceeds max_length"}
				}
				if f.Text.Pattern != "" {
					if _, err := regexp.Compile(f.Text.Pattern); err != nil {
						return &ValidationError{Field: f.Name, Reason: "pattern is not a valid regular expression"}
					}
				}
			}
		case KindNumber:
			if f.Number != nil && f.Number.Min != nil && f.Number.Max != nil && *f.Number.Min > *f.Number.Max {
				return &ValidationError{Field: f.Name, Reason: "min exceeds max"}
			}
		case KindDate:
			if f.Date != nil && f.Date.FutureOnly && f.Date.PastOnly {
				return &ValidationError{Field: f.Name, Reason: "future_only and past_only are mutually exclusive"}
			}
		case KindCheckbox:
		case KindSingleSelect, KindMultiSelect:
			if f.Select == nil || len(f.Select.Options) == 0 {
				return &ValidationError{Field: f.Name, Reason: "select field has no options"}
			}
			opts := make(map[string]bool, len(f.Select.Options))
			for _, o := range f.Select.Options {
				if o == "" {
					return &ValidationError{Field: f.Name, Reason: "select field has an empty option"}
				}
				if opts[o] {
					return &ValidationError{Field: f.Name, Reason: "select field has a duplicate option"}
				}
				opts[o] = true
			}
			if f.Select.MaxSelections > 0 && f.Select.MinSelections > f.Select.MaxSelections {
				return &ValidationError{Field: f.Name, Reason: "min_selections exceeds max_selections"}
			}
			if f.Select.Default != "" && !opts[f.Select.Default] {
				return &ValidationError{Field: f.Name, Reason: "default_value is not one of the options"}
			}
			for _, d := range f.Select.Defaults {
				if !opts[d] {
					return &ValidationError{Field: f.Name, Reason: "default_values contains a value that is not one of the options"}
				}
			}
		default:
			return &ValidationError{Field: f.Name, Reason: fmt.Sprintf("unknown field type %q", f.Kind)}
		}
	}
	return nil
}
