package domain

import "encoding/json"

type User struct {
	DocusignID   string `json:"docusign_id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Account struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	BaseURL              string `json:"base_url"`
	DonationLink         string `json:"donation_link,omitempty"`
	Country              string `json:"country,omitempty"`
	Score                int    `json:"score"`
	IncludeInLeaderboard bool   `json:"include_in_leaderboard"`
	CreatedAt            string `json:"created_at" format:"date-time"`
}

// Agreement is a signed envelope monitored for recurring compliance review.
type Agreement struct {
	EnvelopeID    string       `json:"envelope_id"`
	AccountID     string       `json:"account_id"`
	OfficerEmail  string       `json:"officer_email"`
	DonorEmail    string       `json:"donor_email"`
	FrequencyDays int          `json:"frequency_days"`
	NextReviewAt  string       `json:"next_review_at" format:"date-time"`
	Processed     bool         `json:"processed"`
	FundingCents  int64        `json:"funding_cents"`
	Description   string       `json:"description,omitempty"`
	Metadata      EnvelopeMeta `json:"metadata"`
	CreatedAt     string       `json:"created_at" format:"date-time"`
	CreatedBy     string       `json:"created_by"`
}

// EnvelopeMeta carries the provider fields we actually read; Raw keeps the
// full provider payload for round-trip fidelity.
type EnvelopeMeta struct {
	Status         string          `json:"status"`
	EmailSubject   string          `json:"email_subject,omitempty"`
	SenderName     string          `json:"sender_name,omitempty"`
	SenderEmail    string          `json:"sender_email,omitempty"`
	SentAt         string          `json:"sent_at,omitempty"`
	CompletedAt    string          `json:"completed_at,omitempty"`
	AttachmentsURI string          `json:"attachments_uri,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// ComplianceForm is one generated questionnaire for one due cycle of an
// Agreement. AnswersJSON is null until the compliance officer submits.
type ComplianceForm struct {
	ID             int64   `json:"id"`
	EnvelopeID     string  `json:"envelope_id"`
	SchemaJSON     string  `json:"schema_json"`
	AnswersJSON    *string `json:"answers_json,omitempty"`
	DueDate        string  `json:"due_date" format:"date-time"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	FilledAt       *string `json:"filled_at,omitempty" format:"date-time"`
	EmailSentAt    *string `json:"email_sent_at,omitempty" format:"date-time"`
	SentEnvelopeID *string `json:"sent_envelope_id,omitempty"`
	SignedAt       *string `json:"signed_at,omitempty" format:"date-time"`
}

// FileDescriptor replaces a raw file attachment in a submitted answer map
// after the file has been uploaded.
type FileDescriptor struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

type APIKey struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	AccountID  string `json:"account_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// LeaderboardEntry is one public row of the funding leaderboard.
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
