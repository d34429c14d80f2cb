package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"complyline/internal/docusign"
	"complyline/internal/domain"
	"complyline/internal/events"
	"complyline/internal/metrics"
	"complyline/internal/recurrence"
)

// ImportOptions control which provider envelopes become monitored agreements.
type ImportOptions struct {
	AccountID     string
	Since         time.Time
	FrequencyDays int
	DonorEmail    string
	ActorID       string
}

// ImportResult reports what an import run did.
type ImportResult struct {
	Seen     int `json:"seen"`
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// ImportAgreements pulls completed envelopes from the provider and registers
// them for recurring review. Envelopes already imported are skipped.
func (e Engine) ImportAgreements(ctx context.Context, opts ImportOptions) (ImportResult, error) {
	var res ImportResult
	if e.Envelopes == nil {
		return res, errors.New("envelope service not configured")
	}
	if opts.AccountID == "" {
		return res, errors.New("account is required")
	}
	freq := opts.FrequencyDays
	if freq == 0 && e.Config != nil {
		freq = e.Config.Review.DefaultFrequencyDays
	}
	if freq <= 0 {
		return res, recurrence.ErrInvalidFrequency
	}
	member, err := e.credentialedMember(ctx, opts.AccountID)
	if err != nil {
		return res, err
	}
	since := opts.Since
	if since.IsZero() {
		since = e.now().AddDate(-1, 0, 0)
	}
	envelopes, err := e.Envelopes.ListEnvelopes(ctx, member.AccessToken, since)
	if err != nil {
		return res, fmt.Errorf("list envelopes: %w", err)
	}
	now := e.now().UTC()
	for _, env := range envelopes {
		res.Seen++
		if env.Status != "completed" {
			res.Skipped++
			continue
		}
		// Envelopes this system dispatched itself are not agreements.
		if env.CustomField(docusign.DocumentTypeField) == ResponseDocumentType {
			res.Skipped++
			continue
		}
		anchor := now
		if t, err := time.Parse(time.RFC3339, env.CompletedAt); err == nil {
			anchor = t
		}
		next, err := recurrence.Next(anchor, now, freq)
		if err != nil {
			return res, err
		}
		donor := opts.DonorEmail
		if donor == "" {
			donor = env.SenderEmail
		}
		a := domain.Agreement{
			EnvelopeID:    env.EnvelopeID,
			AccountID:     opts.AccountID,
			OfficerEmail:  member.Email,
			DonorEmail:    donor,
			FrequencyDays: freq,
			NextReviewAt:  next.Format(time.RFC3339),
			Metadata: domain.EnvelopeMeta{
				Status:         env.Status,
				EmailSubject:   env.EmailSubject,
				SenderName:     env.SenderName,
				SenderEmail:    env.SenderEmail,
				SentAt:         env.SentDateTime,
				CompletedAt:    env.CompletedAt,
				AttachmentsURI: env.AttachmentsURI,
				Raw:            env.Raw,
			},
			CreatedAt: now.Format(time.RFC3339),
			CreatedBy: opts.ActorID,
		}
		inserted, err := e.Repo.InsertAgreement(ctx, a)
		if err != nil {
			return res, fmt.Errorf("insert agreement %s: %w", env.EnvelopeID, err)
		}
		if !inserted {
			res.Skipped++
			continue
		}
		res.Imported++
		if err := e.Events.Append(ctx, nil, "agreement.imported", opts.AccountID, "agreement", env.EnvelopeID, opts.ActorID,
			events.EventPayload{"subject": env.EmailSubject}); err != nil {
			return res, err
		}
	}
	e.log().Info("import finished", zap.String("account_id", opts.AccountID),
		zap.Int("seen", res.Seen), zap.Int("imported", res.Imported))
	return res, nil
}

// SweepResult reports one sweep run.
type SweepResult struct {
	Checked int      `json:"checked"`
	Due     int      `json:"due"`
	Created int      `json:"created"`
	Errors  []string `json:"errors,omitempty"`
}

// Sweep walks every monitored agreement and, for each one whose review falls
// due today, builds its compliance form: the agreement document is fetched,
// its text extracted, a questionnaire derived, and a form row created for the
// due date. Running a sweep twice on the same day creates nothing new.
func (e Engine) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if e.Envelopes == nil || e.Extract == nil || e.Deriver == nil {
		return res, errors.New("sweep dependencies not configured")
	}
	started := e.now()
	metrics.SweepRuns.Inc()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(started).Seconds())
	}()

	agreements, err := e.Repo.ListActiveAgreements(ctx)
	if err != nil {
		return res, err
	}
	today := e.now().UTC()
	for _, a := range agreements {
		res.Checked++
		anchor, err := time.Parse(time.RFC3339, a.NextReviewAt)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: bad next_review_at: %v", a.EnvelopeID, err))
			metrics.SweepErrors.WithLabelValues("schedule").Inc()
			continue
		}
		due, err := recurrence.Overdue(anchor, today, a.FrequencyDays)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", a.EnvelopeID, err))
			metrics.SweepErrors.WithLabelValues("schedule").Inc()
			continue
		}
		if !due {
			continue
		}
		res.Due++
		created, err := e.buildForm(ctx, a, today)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", a.EnvelopeID, err))
			e.log().Warn("sweep failed for agreement", zap.String("envelope_id", a.EnvelopeID), zap.Error(err))
			continue
		}
		if created {
			res.Created++
			metrics.FormsCreated.Inc()
		}
	}
	e.log().Info("sweep finished", zap.Int("checked", res.Checked), zap.Int("due", res.Due),
		zap.Int("created", res.Created), zap.Int("errors", len(res.Errors)))
	return res, nil
}

// buildForm runs the document pipeline for one due agreement. The form
// insert, schedule advance and audit event commit atomically; a duplicate
// due date leaves the row untouched and still advances the schedule.
func (e Engine) buildForm(ctx context.Context, a domain.Agreement, today time.Time) (bool, error) {
	member, err := e.credentialedMember(ctx, a.AccountID)
	if err != nil {
		metrics.SweepErrors.WithLabelValues("credentials").Inc()
		return false, err
	}
	doc, err := e.Envelopes.DownloadCombined(ctx, member.AccessToken, a.EnvelopeID)
	if err != nil {
		metrics.SweepErrors.WithLabelValues("download").Inc()
		return false, fmt.Errorf("download document: %w", err)
	}
	text, err := e.Extract(doc)
	if err != nil {
		metrics.SweepErrors.WithLabelValues("extract").Inc()
		return false, fmt.Errorf("extract text: %w", err)
	}
	derived, err := e.Deriver.Derive(ctx, text)
	if err != nil {
		metrics.SweepErrors.WithLabelValues("derive").Inc()
		return false, fmt.Errorf("derive schema: %w", err)
	}
	schemaJSON, err := json.Marshal(derived.Fields)
	if err != nil {
		return false, err
	}

	dueDate := today.Format("2006-01-02")
	nextReview := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, a.FrequencyDays)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	form := domain.ComplianceForm{
		EnvelopeID: a.EnvelopeID,
		SchemaJSON: string(schemaJSON),
		DueDate:    dueDate,
		CreatedAt:  e.now().UTC().Format(time.RFC3339),
	}
	created, err := e.Repo.InsertFormTx(ctx, tx, form)
	if err != nil {
		return false, fmt.Errorf("insert form: %w", err)
	}
	if err := e.Repo.SetAgreementNextReviewTx(ctx, tx, a.EnvelopeID, nextReview.Format(time.RFC3339)); err != nil {
		return false, err
	}
	if created {
		funding := a.FundingCents
		if derived.FundingCents > 0 {
			funding = derived.FundingCents
		}
		if err := e.Repo.UpdateAgreementDerivedTx(ctx, tx, a.EnvelopeID, funding, derived.Summary); err != nil {
			return false, err
		}
		if err := e.Events.Append(ctx, tx, "form.created", a.AccountID, "form", a.EnvelopeID, "system",
			events.EventPayload{"due_date": dueDate, "fields": len(derived.Fields), "summary": derived.Summary}); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return created, nil
}
