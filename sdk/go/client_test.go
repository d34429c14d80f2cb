package complylinesdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubmitForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/forms/7/answers" || r.Method != http.MethodPost {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "secret" {
			t.Fatalf("api key header %q", got)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		answers := body["answers"].(map[string]any)
		if answers["summary"] != "done" {
			t.Fatalf("answers not forwarded: %v", body)
		}
		io.WriteString(w, `{"id":7,"envelope_id":"env-1","due_date":"2024-06-11","filled_at":"2024-06-11T09:00:00Z"}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "secret"
	form, err := c.SubmitForm(context.Background(), 7, map[string]any{"summary": "done"}, nil)
	if err != nil {
		t.Fatalf("SubmitForm: %v", err)
	}
	if form.ID != 7 || form.FilledAt == nil {
		t.Fatalf("form: %+v", form)
	}
}

func TestRunSweepErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"code":"unauthorized"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.RunSweep(context.Background())
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("got %v", err)
	}
}
