package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"complyline/internal/domain"
)

const agreementCols = `envelope_id,account_id,officer_email,donor_email,frequency_days,next_review_at,processed,funding_cents,COALESCE(description,'') AS description,metadata_json,created_at,COALESCE(created_by,'') AS created_by`

func scanAgreement(scan func(dest ...any) error) (domain.Agreement, error) {
	var a domain.Agreement
	var meta string
	err := scan(&a.EnvelopeID, &a.AccountID, &a.OfficerEmail, &a.DonorEmail, &a.FrequencyDays,
		&a.NextReviewAt, &a.Processed, &a.FundingCents, &a.Description, &meta, &a.CreatedAt, &a.CreatedBy)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
			return a, fmt.Errorf("decode metadata for %s: %w", a.EnvelopeID, err)
		}
	}
	return a, nil
}

// InsertAgreement stores a newly imported agreement. Importing the same
// envelope twice is a no-op.
func (r Repo) InsertAgreement(ctx context.Context, a domain.Agreement) (bool, error) {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return false, err
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO agreements(envelope_id,account_id,officer_email,donor_email,frequency_days,next_review_at,processed,funding_cents,description,metadata_json,created_at,created_by)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?) ON CONFLICT(envelope_id) DO NOTHING`,
		a.EnvelopeID, a.AccountID, a.OfficerEmail, a.DonorEmail, a.FrequencyDays, a.NextReviewAt,
		a.Processed, a.FundingCents, a.Description, string(meta), a.CreatedAt, a.CreatedBy)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetAgreement(ctx context.Context, envelopeID string) (domain.Agreement, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+agreementCols+` FROM agreements WHERE envelope_id=?`, envelopeID)
	return scanAgreement(row.Scan)
}

func (r Repo) ListAgreements(ctx context.Context, accountID string) ([]domain.Agreement, error) {
	query := `SELECT ` + agreementCols + ` FROM agreements`
	var args []any
	if accountID != "" {
		query += ` WHERE account_id=?`
		args = append(args, accountID)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agreement
	for rows.Next() {
		a, err := scanAgreement(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListActiveAgreements returns agreements still under monitoring, i.e. not
// yet marked processed.
func (r Repo) ListActiveAgreements(ctx context.Context) ([]domain.Agreement, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+agreementCols+` FROM agreements WHERE processed=0 ORDER BY next_review_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agreement
	for rows.Next() {
		a, err := scanAgreement(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateAgreement(ctx context.Context, envelopeID string, nextReviewAt string, processed *bool, fundingCents *int64) error {
	var (
		fields []string
		args   []any
	)
	if nextReviewAt != "" {
		fields = append(fields, "next_review_at=?")
		args = append(args, nextReviewAt)
	}
	if processed != nil {
		fields = append(fields, "processed=?")
		args = append(args, *processed)
	}
	if fundingCents != nil {
		fields = append(fields, "funding_cents=?")
		args = append(args, *fundingCents)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, envelopeID)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE agreements SET %s WHERE envelope_id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetAgreementNextReviewTx(ctx context.Context, tx *sql.Tx, envelopeID, nextReviewAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE agreements SET next_review_at=? WHERE envelope_id=?`, nextReviewAt, envelopeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAgreementDerivedTx records the facts read out of the agreement text
// alongside a materialized cycle.
func (r Repo) UpdateAgreementDerivedTx(ctx context.Context, tx *sql.Tx, envelopeID string, fundingCents int64, description string) error {
	res, err := tx.ExecContext(ctx, `UPDATE agreements SET funding_cents=?, description=? WHERE envelope_id=?`,
		fundingCents, description, envelopeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteAgreement(ctx context.Context, envelopeID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM agreements WHERE envelope_id=?`, envelopeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
