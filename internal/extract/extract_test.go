package extract

import (
	"errors"
	"testing"
)

func TestTextRejectsNonPDF(t *testing.T) {
	_, err := Text([]byte("just some text, not a pdf"))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("got %v, want ParseError", err)
	}
}

func TestTextRejectsEmptyInput(t *testing.T) {
	_, err := Text(nil)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("got %v, want ParseError", err)
	}
}
