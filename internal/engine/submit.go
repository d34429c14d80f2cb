package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"complyline/internal/domain"
	"complyline/internal/events"
	"complyline/internal/metrics"
	"complyline/internal/schema"
)

// ErrAlreadyFilled is returned when answers are submitted to a form that
// already has them.
var ErrAlreadyFilled = errors.New("form already filled")

// FileUpload is one raw attachment submitted with the answers.
type FileUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

// SubmitOptions carry one officer submission.
type SubmitOptions struct {
	FormID  int64
	Answers map[string]any
	Files   map[string][]FileUpload
	ActorID string
}

// SubmitForm validates and records the officer's answers. Validation runs
// against the raw answers, counting attachments as present, so a failed
// upload afterwards stores null for that answer and the submission still
// completes. More than one file per field is rejected outright.
func (e Engine) SubmitForm(ctx context.Context, opts SubmitOptions) (domain.ComplianceForm, error) {
	form, err := e.Repo.GetForm(ctx, opts.FormID)
	if err != nil {
		return domain.ComplianceForm{}, err
	}
	if form.FilledAt != nil {
		return domain.ComplianceForm{}, ErrAlreadyFilled
	}
	fields, err := schema.ParseFields([]byte(form.SchemaJSON))
	if err != nil {
		return domain.ComplianceForm{}, fmt.Errorf("stored schema invalid: %w", err)
	}

	answers := make(map[string]any, len(opts.Answers)+len(opts.Files))
	for k, v := range opts.Answers {
		answers[k] = v
	}
	for field, uploads := range opts.Files {
		if len(uploads) > 1 {
			return domain.ComplianceForm{}, &schema.ValidationError{Field: field, Reason: "only one file may be attached"}
		}
		if len(uploads) == 1 {
			answers[field] = map[string]any{"name": uploads[0].Name}
		}
	}

	if err := schema.ValidateAnswers(fields, answers); err != nil {
		return domain.ComplianceForm{}, err
	}

	for field, uploads := range opts.Files {
		if len(uploads) == 0 {
			continue
		}
		if e.Uploader == nil {
			return domain.ComplianceForm{}, errors.New("file uploader not configured")
		}
		up := uploads[0]
		fd, err := e.Uploader.Upload(ctx, opts.FormID, up.Name, up.ContentType, up.Data)
		if err != nil {
			e.log().Warn("attachment upload failed", zap.Int64("form_id", opts.FormID),
				zap.String("field", field), zap.Error(err))
			answers[field] = nil
			continue
		}
		answers[field] = map[string]any{"url": fd.URL, "name": fd.Name, "size": fd.Size, "type": fd.Type}
	}

	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return domain.ComplianceForm{}, err
	}
	filledAt := e.now().UTC().Format(time.RFC3339)
	updated, err := e.Repo.FillForm(ctx, opts.FormID, string(answersJSON), filledAt)
	if err != nil {
		return domain.ComplianceForm{}, err
	}
	if !updated {
		return domain.ComplianceForm{}, ErrAlreadyFilled
	}
	metrics.FormsFilled.Inc()

	agreement, err := e.Repo.GetAgreement(ctx, form.EnvelopeID)
	if err == nil {
		if err := e.Repo.AddAccountScore(ctx, agreement.AccountID, 10); err != nil {
			e.log().Warn("score update failed", zap.String("account_id", agreement.AccountID), zap.Error(err))
		}
		if err := e.Events.Append(ctx, nil, "form.filled", agreement.AccountID, "form",
			fmt.Sprintf("%d", opts.FormID), opts.ActorID, events.EventPayload{"envelope_id": form.EnvelopeID}); err != nil {
			return domain.ComplianceForm{}, err
		}
	}
	return e.Repo.GetForm(ctx, opts.FormID)
}
