// Package extract pulls plain text out of agreement PDFs so the schema
// deriver can work from text instead of binary documents.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ParseError means the document could not be read as a PDF.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("extract: not a readable pdf: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Text extracts the text of every page, pages separated by blank lines.
// Scanned pages without a text layer come out empty rather than failing.
func Text(doc []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return "", &ParseError{Err: err}
	}
	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(content))
	}
	return b.String(), nil
}
