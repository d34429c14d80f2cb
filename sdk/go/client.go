package complylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Complyline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Agreement represents a monitored agreement (partial).
type Agreement struct {
	EnvelopeID    string `json:"envelope_id"`
	AccountID     string `json:"account_id"`
	OfficerEmail  string `json:"officer_email"`
	DonorEmail    string `json:"donor_email"`
	FrequencyDays int    `json:"frequency_days"`
	NextReviewAt  string `json:"next_review_at"`
	FundingCents  int64  `json:"funding_cents"`
	Subject       string `json:"subject"`
}

// Form represents one compliance questionnaire cycle.
type Form struct {
	ID             int64          `json:"id"`
	EnvelopeID     string         `json:"envelope_id"`
	Schema         any            `json:"schema"`
	Answers        map[string]any `json:"answers,omitempty"`
	DueDate        string         `json:"due_date"`
	FilledAt       *string        `json:"filled_at,omitempty"`
	EmailSentAt    *string        `json:"email_sent_at,omitempty"`
	SentEnvelopeID *string        `json:"sent_envelope_id,omitempty"`
	SignedAt       *string        `json:"signed_at,omitempty"`
}

// File is one attachment submitted with form answers.
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content"`
}

// SweepResult reports one sweep run.
type SweepResult struct {
	Checked int      `json:"checked"`
	Due     int      `json:"due"`
	Created int      `json:"created"`
	Errors  []string `json:"errors,omitempty"`
}

// DispatchResult reports one dispatch run.
type DispatchResult struct {
	Eligible int      `json:"eligible"`
	Sent     int      `json:"sent"`
	Errors   []string `json:"errors,omitempty"`
}

// ImportResult reports one import run.
type ImportResult struct {
	Seen     int `json:"seen"`
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// LeaderboardEntry is one public leaderboard row.
type LeaderboardEntry struct {
	AccountID      string `json:"account_id"`
	Name           string `json:"name"`
	Country        string `json:"country,omitempty"`
	DonationLink   string `json:"donation_link,omitempty"`
	FundingCents   int64  `json:"funding_cents"`
	Agreements     int    `json:"agreements"`
	CompletedForms int    `json:"completed_forms"`
	Score          int    `json:"score"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListAgreements returns monitored agreements, optionally for one account.
func (c *Client) ListAgreements(ctx context.Context, accountID string) ([]Agreement, error) {
	endpoint := "v0/agreements"
	if accountID != "" {
		endpoint += "?account_id=" + url.QueryEscape(accountID)
	}
	var resp []Agreement
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ImportAgreements registers completed envelopes for recurring review.
func (c *Client) ImportAgreements(ctx context.Context, accountID string, frequencyDays int) (ImportResult, error) {
	body := map[string]any{
		"account_id":     accountID,
		"frequency_days": frequencyDays,
	}
	var resp ImportResult
	err := c.do(ctx, http.MethodPost, "v0/agreements/import", body, &resp)
	return resp, err
}

// ListForms returns compliance forms, optionally for one agreement.
func (c *Client) ListForms(ctx context.Context, envelopeID string) ([]Form, error) {
	endpoint := "v0/forms"
	if envelopeID != "" {
		endpoint += "?envelope_id=" + url.QueryEscape(envelopeID)
	}
	var resp []Form
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetForm fetches a form by id.
func (c *Client) GetForm(ctx context.Context, id int64) (Form, error) {
	var resp Form
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/forms/%d", id), nil, &resp)
	return resp, err
}

// SubmitForm sends the officer's answers for a form.
func (c *Client) SubmitForm(ctx context.Context, id int64, answers map[string]any, files map[string][]File) (Form, error) {
	body := map[string]any{"answers": answers}
	if len(files) > 0 {
		body["files"] = files
	}
	var resp Form
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/forms/%d/answers", id), body, &resp)
	return resp, err
}

// RunSweep triggers a compliance sweep.
func (c *Client) RunSweep(ctx context.Context) (SweepResult, error) {
	var resp SweepResult
	err := c.do(ctx, http.MethodPost, "v0/runs/sweep", nil, &resp)
	return resp, err
}

// RunDispatch triggers dispatch of filled forms.
func (c *Client) RunDispatch(ctx context.Context) (DispatchResult, error) {
	var resp DispatchResult
	err := c.do(ctx, http.MethodPost, "v0/runs/dispatch", nil, &resp)
	return resp, err
}

// Leaderboard returns the public funding leaderboard.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	endpoint := "v0/leaderboard"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []LeaderboardEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
