package schema

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// ValidateAnswers checks a submitted answer map against a form definition.
// Answers are the decoded JSON values: strings, numbers (float64), booleans
// and string slices. File companion fields are validated for presence only;
// their contents are handled by the upload path.
func ValidateAnswers(fields []Field, answers map[string]any) error {
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.Name] = true
		if f.ProofRequired {
			known[ProofFieldName(f.Name)] = true
		}
	}
	for name := range answers {
		if !known[name] {
			return &ValidationError{Field: name, Reason: "answer does not match any field"}
		}
	}
	for _, f := range fields {
		v, ok := answers[f.Name]
		if !ok || v == nil {
			if f.Required {
				return &ValidationError{Field: f.Name, Reason: "answer is required"}
			}
			continue
		}
		if err := validateValue(f, v); err != nil {
			return err
		}
		if f.ProofRequired && f.Required {
			proof, ok := answers[ProofFieldName(f.Name)]
			if !ok || proof == nil {
				return &ValidationError{Field: ProofFieldName(f.Name), Reason: "supporting document is required"}
			}
		}
	}
	return nil
}

func validateValue(f Field, v any) error {
	switch f.Kind {
	case KindText, KindTextarea:
		s, ok := v.(string)
		if !ok {
			return &ValidationError{Field: f.Name, Reason: "answer must be a string"}
		}
		if f.Required && strings.TrimSpace(s) == "" {
			return &ValidationError{Field: f.Name, Reason: "answer is required"}
		}
		if c := f.Text; c != nil {
			if c.MinLength > 0 && len(s) < c.MinLength {
				return &ValidationError{Field: f.Name, Reason: fmt.Sprintf("answer must be at least %d characters", c.MinLength)}
			}
			if c.MaxLength > 0 && len(s) > c.MaxLength {
				return &ValidationError{Field: f.Name, Reason: fmt.Sprintf("answer must be at most %d characters", c.MaxLength)}
			}
			if c.Pattern != "" {
				if re, err := regexp.Compile(c.Pattern); err == nil && !re.MatchString(s) {
					return &ValidationError{Field: f.Name, Reason: "answer does not match the required pattern"}
				}
			}
		}
	case KindNumber:
		n, ok := v.(float64)
		if !ok {
			return &ValidationError{Field: f.Name, Reason: "answer must be a number"}
		}
		if c := f.Number; c != nil {
			if c.IntegerOnly && n != math.Trunc(n) {
				return &ValidationError{Field: f.Name, Reason: "answer must be a whole number"}
			}
			if c.Min != nil && n < *c.Min {
				return &ValidationError{Field: f.Name, Reason: fmt.Sprintf("answer must be at least %v", *c.Min)}
			}
			if c.Max != nil && n > *c.Max {
				return &ValidationError{Field: f.Name, Reason: fmt.Sprintf("answer must be at most %v", *c.Max)}
			}
		}
	case KindDate:
		s, ok := v.(string)
		if !ok {
			return &ValidationError{Field: f.Name, Reason: "answer must be a date string"}
		}
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			return &ValidationError{Field: f.Name, Reason: "answer must be a date in YYYY-MM-DD form"}
		}
		if c := f.Date; c != nil {
			if c.Min != "" {
				if min, err := time.Parse("2006-01-02", c.Min); err == nil && d.Before(min) {
					return &ValidationError{Field: f.Name, Reason: "date is before the earliest allowed"}
				}
			}
			if c.Max != "" {
				if max, err := time.Parse("2006-01-02", c.Max); err == nil && d.After(max) {
					return &ValidationError{Field: f.Name, Reason: "date is after the latest allowed"}
				}
			}
			today := time.Now().UTC().Truncate(24 * time.Hour)
			if c.FutureOnly && d.Before(today) {
				return &ValidationError{Field: f.Name, Reason: "date must not be in the past"}
			}
			if c.PastOnly && d.After(today) {
				return &ValidationError{Field: f.Name, Reason: "date must not be in the future"}
			}
		}
	case KindCheckbox:
		if _, ok := v.(bool); !ok {
			return &ValidationError{Field: f.Name, Reason: "answer must be true or false"}
		}
	case KindSingleSelect:
		s, ok := v.(string)
		if !ok {
			return &ValidationError{Field: f.Name, Reason: "answer must be one of the options"}
		}
		if !hasOption(f, s) {
			return &ValidationError{Field: f.Name, Reason: fmt.Sprintf("%q is not one of the options", s)}
		}
	case KindMultiSelect:
		vals, err := stringSlice(v)
		if err != nil {
			return &ValidationError{Field: f.Name, Reason: "answer must be a list of options"}
		}
		if f.Required && len(vals) == 0 {
			return &ValidationError{Field: f.Name, Reason: "answer is required"}
		}
		if c := f.Select; c != nil {
			if c.MinSelections > 0 && len(vals) < c.MinSelections {
				return &ValidationError{Field: f.Name, Reason: fmt.Sprintf("at least %d options must be selected", c.MinSelections)}
			}
			if c.MaxSelections > 0 && len(vals) > c.MaxSelections {
				return &ValidationError{Field: f.Name, Reason: fmt.Sprintf("at most %d options may be selected", c.MaxSelections)}
			}
		}
		seen := make(map[string]bool, len(vals))
		for _, s := range vals {
			if !hasOption(f, s) {
				return &ValidationError{Field: f.Name, Reason: fmt.Sprintf("%q is not one of the options", s)}
			}
			if seen[s] {
				return &ValidationError{Field: f.Name, Reason: fmt.Sprintf("%q is selected twice", s)}
			}
			seen[s] = true
		}
	}
	return nil
}

func hasOption(f Field, s string) bool {
	if f.Select == nil {
		return false
	}
	for _, o := range f.Select.Options {
		if o == s {
			return true
		}
	}
	return false
}

func stringSlice(v any) ([]string, error) {
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("element is not a string")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not a list")
	}
}
