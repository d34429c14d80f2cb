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
	"complyline/internal/render"
	"complyline/internal/schema"
)

// ResponseDocumentType tags dispatched envelopes so listings can tell our
// reports from ordinary provider traffic.
const ResponseDocumentType = "COMPLIANCE_RESPONSE"

// DispatchResult reports one dispatch run.
type DispatchResult struct {
	Eligible int      `json:"eligible"`
	Sent     int      `json:"sent"`
	Errors   []string `json:"errors,omitempty"`
}

// Dispatch sends every filled-but-unsent form to its donor as a signable PDF
// report. Each form is claimed with a guarded update before any provider
// call, so concurrent runs and retries never double-send; a failed send
// releases the claim for the next run. The handled set guards against the
// same form reappearing within a single run.
func (e Engine) Dispatch(ctx context.Context) (DispatchResult, error) {
	var res DispatchResult
	if e.Envelopes == nil || e.Renderer == nil {
		return res, errors.New("dispatch dependencies not configured")
	}
	forms, err := e.Repo.ListDispatchable(ctx)
	if err != nil {
		return res, err
	}
	handled := make(map[int64]bool, len(forms))
	for _, form := range forms {
		if handled[form.ID] {
			continue
		}
		handled[form.ID] = true
		res.Eligible++
		if err := e.dispatchOne(ctx, form); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("form %d: %v", form.ID, err))
			metrics.Dispatches.WithLabelValues("error").Inc()
			e.log().Warn("dispatch failed", zap.Int64("form_id", form.ID), zap.Error(err))
			continue
		}
		res.Sent++
		metrics.Dispatches.WithLabelValues("sent").Inc()
	}
	e.log().Info("dispatch finished", zap.Int("eligible", res.Eligible),
		zap.Int("sent", res.Sent), zap.Int("errors", len(res.Errors)))
	return res, nil
}

func (e Engine) dispatchOne(ctx context.Context, form domain.ComplianceForm) error {
	agreement, err := e.Repo.GetAgreement(ctx, form.EnvelopeID)
	if err != nil {
		return err
	}
	if agreement.DonorEmail == "" {
		return fmt.Errorf("agreement has no donor email")
	}
	member, err := e.credentialedMember(ctx, agreement.AccountID)
	if err != nil {
		return err
	}
	account, err := e.Repo.GetAccount(ctx, agreement.AccountID)
	if err != nil {
		return err
	}
	fields, err := schema.ParseFields([]byte(form.SchemaJSON))
	if err != nil {
		return fmt.Errorf("stored schema invalid: %w", err)
	}
	var answers map[string]any
	if form.AnswersJSON == nil {
		return fmt.Errorf("form has no answers")
	}
	if err := json.Unmarshal([]byte(*form.AnswersJSON), &answers); err != nil {
		return fmt.Errorf("stored answers invalid: %w", err)
	}

	filledAt := ""
	if form.FilledAt != nil {
		filledAt = *form.FilledAt
	}
	html, err := render.HTML(render.Report{
		AccountName: account.Name,
		EnvelopeID:  form.EnvelopeID,
		DueDate:     form.DueDate,
		FilledAt:    filledAt,
		Fields:      fields,
		Answers:     answers,
	})
	if err != nil {
		return err
	}
	pdf, err := e.Renderer.RenderPDF(ctx, html)
	if err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}

	sentAt := e.now().UTC().Format(time.RFC3339)
	claimed, err := e.Repo.ClaimDispatch(ctx, form.ID, sentAt)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	sentEnvelopeID, err := e.Envelopes.SendEnvelope(ctx, member.AccessToken, docusign.SendRequest{
		EmailSubject: fmt.Sprintf("Compliance report from %s (%s)", account.Name, form.DueDate),
		DocumentName: fmt.Sprintf("compliance-report-%s.pdf", form.DueDate),
		DocumentPDF:  pdf,
		SignerEmail:  agreement.DonorEmail,
		SignerName:   agreement.Metadata.SenderName,
		DocumentType: ResponseDocumentType,
	})
	if err != nil {
		if relErr := e.Repo.ReleaseDispatch(ctx, form.ID); relErr != nil {
			e.log().Error("release after failed send", zap.Int64("form_id", form.ID), zap.Error(relErr))
		}
		return fmt.Errorf("send envelope: %w", err)
	}
	if err := e.Repo.SetSentEnvelope(ctx, form.ID, sentEnvelopeID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, nil, "form.dispatched", agreement.AccountID, "form",
		fmt.Sprintf("%d", form.ID), "system", events.EventPayload{
			"envelope_id":      form.EnvelopeID,
			"sent_envelope_id": sentEnvelopeID,
			"donor_email":      agreement.DonorEmail,
		}); err != nil {
		return err
	}
	return nil
}

// MarkEnvelopeSigned records that the donor completed a dispatched report
// envelope. Used by the webhook handler.
func (e Engine) MarkEnvelopeSigned(ctx context.Context, sentEnvelopeID, signedAt string) error {
	if signedAt == "" {
		signedAt = e.now().UTC().Format(time.RFC3339)
	}
	return e.Repo.MarkSigned(ctx, sentEnvelopeID, signedAt)
}
