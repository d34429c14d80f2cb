package render

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"complyline/internal/schema"
)

func TestHTML(t *testing.T) {
	html, err := HTML(Report{
		AccountName: "Clean Water Trust",
		EnvelopeID:  "env-1",
		DueDate:     "2024-06-15",
		FilledAt:    "2024-06-14T10:00:00Z",
		Fields: []schema.Field{
			{Name: "beneficiaries", Label: "Beneficiaries served", Kind: schema.KindNumber},
			{Name: "audit_done", Label: "Audit completed", Kind: schema.KindCheckbox},
			{Name: "programs", Label: "Programs", Kind: schema.KindMultiSelect,
				Select: &schema.SelectConstraints{Options: []string{"health", "water"}}},
			{Name: "receipts", Label: "Receipts", Kind: schema.KindNumber, ProofRequired: true},
		},
		Answers: map[string]any{
			"beneficiaries":  float64(1200),
			"audit_done":     true,
			"programs":       []any{"health", "water"},
			"receipts":       float64(50),
			"receipts_proof": map[string]any{"url": "https://files.example.org/r.pdf", "name": "receipts.pdf"},
		},
	})
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	for _, want := range []string{
		"Clean Water Trust", "env-1", "1200", "Yes", "health, water",
		`href="https://files.example.org/r.pdf"`, "receipts.pdf",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("rendered html missing %q", want)
		}
	}
}

func TestHTMLEscapesAnswers(t *testing.T) {
	html, err := HTML(Report{
		Fields:  []schema.Field{{Name: "summary", Label: "Summary", Kind: schema.KindTextarea}},
		Answers: map[string]any{"summary": `<script>alert("x")</script>`},
	})
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	if strings.Contains(html, "<script>alert") {
		t.Fatal("answer not escaped")
	}
}

func TestHTMLMissingAnswer(t *testing.T) {
	html, err := HTML(Report{
		Fields: []schema.Field{{Name: "notes", Label: "Notes", Kind: schema.KindText}},
	})
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	if !strings.Contains(html, "Not provided") {
		t.Fatal("missing answer placeholder absent")
	}
}

func TestRenderPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/forms/chromium/convert/html" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		f, _, err := r.FormFile("files")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		if !strings.Contains(string(body), "<h1>") {
			t.Fatalf("html not forwarded: %q", body)
		}
		w.Write([]byte("%PDF-1.7 rendered"))
	}))
	defer srv.Close()

	c := NewPDFClient(srv.URL)
	pdf, err := c.RenderPDF(context.Background(), "<html><body><h1>Report</h1></body></html>")
	if err != nil {
		t.Fatalf("RenderPDF: %v", err)
	}
	if !strings.HasPrefix(string(pdf), "%PDF") {
		t.Fatalf("got %q", pdf)
	}
}

func TestRenderPDFError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewPDFClient(srv.URL)
	if _, err := c.RenderPDF(context.Background(), "<html></html>"); err == nil {
		t.Fatal("expected error on 503")
	}
}
