package server

import (
	"encoding/base64"
	"encoding/json"

	"complyline/internal/domain"
)

func rawJSON(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// Request payloads

type ImportRequest struct {
	AccountID     string `json:"account_id"`
	Since         string `json:"since,omitempty" format:"date-time"`
	FrequencyDays int    `json:"frequency_days,omitempty"`
	DonorEmail    string `json:"donor_email,omitempty"`
}

type SubmitFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content" format:"byte"`
}

func (f SubmitFile) decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Content)
}

type SubmitRequest struct {
	Answers map[string]any          `json:"answers"`
	Files   map[string][]SubmitFile `json:"files,omitempty"`
}

// Response payloads

type LoginURLResponse struct {
	URL string `json:"url"`
}

type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type SessionResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type RefreshResponse struct {
	Refreshed int `json:"refreshed"`
}

type AgreementResponse struct {
	EnvelopeID    string `json:"envelope_id"`
	AccountID     string `json:"account_id"`
	OfficerEmail  string `json:"officer_email"`
	DonorEmail    string `json:"donor_email,omitempty"`
	FrequencyDays int    `json:"frequency_days"`
	NextReviewAt  string `json:"next_review_at" format:"date-time"`
	Processed     bool   `json:"processed"`
	FundingCents  int64  `json:"funding_cents"`
	Description   string `json:"description,omitempty"`
	Subject       string `json:"subject,omitempty"`
	SenderName    string `json:"sender_name,omitempty"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type FormResponse struct {
	ID             int64          `json:"id"`
	EnvelopeID     string         `json:"envelope_id"`
	Schema         any            `json:"schema"`
	Answers        map[string]any `json:"answers,omitempty"`
	DueDate        string         `json:"due_date"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	FilledAt       *string        `json:"filled_at,omitempty" format:"date-time"`
	EmailSentAt    *string        `json:"email_sent_at,omitempty" format:"date-time"`
	SentEnvelopeID *string        `json:"sent_envelope_id,omitempty"`
	SignedAt       *string        `json:"signed_at,omitempty" format:"date-time"`
}

type UpcomingResponse struct {
	EnvelopeID string   `json:"envelope_id"`
	Dates      []string `json:"dates"`
}

type LeaderboardResponse struct {
	AccountID      string `json:"account_id"`
	Name           string `json:"name"`
	Country        string `json:"country,omitempty"`
	DonationLink   string `json:"donation_link,omitempty"`
	FundingCents   int64  `json:"funding_cents"`
	Agreements     int    `json:"agreements"`
	CompletedForms int    `json:"completed_forms"`
	Score          int    `json:"score"`
}

// Mappers

func userResponse(u domain.User) UserResponse {
	return UserResponse{ID: u.DocusignID, Email: u.Email, Name: u.Name}
}

func agreementResponse(a domain.Agreement) AgreementResponse {
	return AgreementResponse{
		EnvelopeID:    a.EnvelopeID,
		AccountID:     a.AccountID,
		OfficerEmail:  a.OfficerEmail,
		DonorEmail:    a.DonorEmail,
		FrequencyDays: a.FrequencyDays,
		NextReviewAt:  a.NextReviewAt,
		Processed:     a.Processed,
		FundingCents:  a.FundingCents,
		Description:   a.Description,
		Subject:       a.Metadata.EmailSubject,
		SenderName:    a.Metadata.SenderName,
		CreatedAt:     a.CreatedAt,
	}
}

func mapAgreements(items []domain.Agreement) []AgreementResponse {
	out := make([]AgreementResponse, 0, len(items))
	for _, a := range items {
		out = append(out, agreementResponse(a))
	}
	return out
}

func formResponse(f domain.ComplianceForm) FormResponse {
	resp := FormResponse{
		ID:             f.ID,
		EnvelopeID:     f.EnvelopeID,
		Schema:         rawJSON(f.SchemaJSON),
		DueDate:        f.DueDate,
		CreatedAt:      f.CreatedAt,
		FilledAt:       f.FilledAt,
		EmailSentAt:    f.EmailSentAt,
		SentEnvelopeID: f.SentEnvelopeID,
		SignedAt:       f.SignedAt,
	}
	if f.AnswersJSON != nil {
		if m, ok := rawJSON(*f.AnswersJSON).(map[string]any); ok {
			resp.Answers = m
		}
	}
	return resp
}

func mapForms(items []domain.ComplianceForm) []FormResponse {
	out := make([]FormResponse, 0, len(items))
	for _, f := range items {
		out = append(out, formResponse(f))
	}
	return out
}

func mapLeaderboard(items []domain.LeaderboardEntry) []LeaderboardResponse {
	out := make([]LeaderboardResponse, 0, len(items))
	for _, e := range items {
		out = append(out, LeaderboardResponse{
			AccountID:      e.AccountID,
			Name:           e.Name,
			Country:        e.Country,
			DonationLink:   e.DonationLink,
			FundingCents:   e.FundingCents,
			Agreements:     e.Agreements,
			CompletedForms: e.CompletedForms,
			Score:          e.Score,
		})
	}
	return out
}
