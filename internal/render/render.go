// Package render produces the donor-facing compliance report: an HTML
// document built from the form answers, converted to PDF by a
// Gotenberg-compatible rendering service.
package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"complyline/internal/domain"
	"complyline/internal/schema"
)

const reportTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  body { font-family: Helvetica, Arial, sans-serif; margin: 48px; color: #1a1a2e; }
  h1 { font-size: 22px; border-bottom: 2px solid #1a1a2e; padding-bottom: 8px; }
  .meta { color: #555; font-size: 13px; margin-bottom: 32px; }
  .field { margin-bottom: 20px; }
  .label { font-weight: bold; font-size: 14px; }
  .answer { margin-top: 4px; font-size: 14px; white-space: pre-wrap; }
  .proof { margin-top: 4px; font-size: 12px; }
  .proof a { color: #0b5394; }
  .signature { margin-top: 80px; font-size: 13px; color: #555; }
</style>
</head>
<body>
<h1>Compliance Report</h1>
<div class="meta">
  <div>Organization: {{.AccountName}}</div>
  <div>Agreement: {{.EnvelopeID}}</div>
  <div>Reporting period ending: {{.DueDate}}</div>
  <div>Submitted: {{.FilledAt}}</div>
</div>
{{range .Entries}}
<div class="field">
  <div class="label">{{.Label}}</div>
  <div class="answer">{{.Answer}}</div>
  {{if .ProofURL}}<div class="proof">Supporting document: <a href="{{.ProofURL}}">{{.ProofName}}</a></div>{{end}}
</div>
{{end}}
<div class="signature">Please review and sign to acknowledge receipt of this report.</div>
</body>
</html>`

var tmpl = template.Must(template.New("report").Parse(reportTemplate))

type reportEntry struct {
	Label     string
	Answer    string
	ProofURL  string
	ProofName string
}

type reportData struct {
	AccountName string
	EnvelopeID  string
	DueDate     string
	FilledAt    string
	Entries     []reportEntry
}

// Report pairs a filled form with the display context the document needs.
type Report struct {
	AccountName string
	EnvelopeID  string
	DueDate     string
	FilledAt    string
	Fields      []schema.Field
	Answers     map[string]any
}

// HTML renders the report document.
func HTML(r Report) (string, error) {
	data := reportData{
		AccountName: r.AccountName,
		EnvelopeID:  r.EnvelopeID,
		DueDate:     r.DueDate,
		FilledAt:    r.FilledAt,
	}
	for _, f := range r.Fields {
		entry := reportEntry{Label: f.Label, Answer: formatAnswer(f, r.Answers[f.Name])}
		if f.ProofRequired {
			if fd, ok := fileDescriptor(r.Answers[schema.ProofFieldName(f.Name)]); ok {
				entry.ProofURL = fd.URL
				entry.ProofName = fd.Name
			}
		}
		data.Entries = append(data.Entries, entry)
	}
	var b bytes.Buffer
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	return b.String(), nil
}

func formatAnswer(f schema.Field, v any) string {
	if v == nil {
		return "Not provided"
	}
	switch f.Kind {
	case schema.KindCheckbox:
		if b, ok := v.(bool); ok {
			if b {
				return "Yes"
			}
			return "No"
		}
	case schema.KindNumber:
		if n, ok := v.(float64); ok {
			if n == float64(int64(n)) {
				return fmt.Sprintf("%d", int64(n))
			}
			return fmt.Sprintf("%g", n)
		}
	case schema.KindMultiSelect:
		if vals, ok := v.([]any); ok {
			parts := make([]string, 0, len(vals))
			for _, e := range vals {
				parts = append(parts, fmt.Sprint(e))
			}
			return strings.Join(parts, ", ")
		}
	}
	return fmt.Sprint(v)
}

func fileDescriptor(v any) (domain.FileDescriptor, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return domain.FileDescriptor{}, false
	}
	var fd domain.FileDescriptor
	fd.URL, _ = m["url"].(string)
	fd.Name, _ = m["name"].(string)
	return fd, fd.URL != ""
}

// PDFClient converts HTML to PDF through a Gotenberg-compatible endpoint.
type PDFClient struct {
	URL string

	http *http.Client
}

func NewPDFClient(url string) *PDFClient {
	return &PDFClient{URL: strings.TrimRight(url, "/"), http: &http.Client{Timeout: 60 * time.Second}}
}

// RenderPDF sends the HTML document to the conversion service.
func (c *PDFClient) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(part, html); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+"/forms/chromium/convert/html", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render: pdf service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("render: pdf service returned %d: %s", resp.StatusCode, msg)
	}
	return io.ReadAll(resp.Body)
}
