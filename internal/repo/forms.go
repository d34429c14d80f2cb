package repo

import (
	"context"
	"database/sql"

	"complyline/internal/domain"
)

const formCols = `id,envelope_id,schema_json,answers_json,due_date,created_at,filled_at,email_sent_at,sent_envelope_id,signed_at`

func scanForm(scan func(dest ...any) error) (domain.ComplianceForm, error) {
	var f domain.ComplianceForm
	var answers, filled, sent, sentEnv, signed sql.NullString
	err := scan(&f.ID, &f.EnvelopeID, &f.SchemaJSON, &answers, &f.DueDate, &f.CreatedAt, &filled, &sent, &sentEnv, &signed)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	if answers.Valid {
		f.AnswersJSON = &answers.String
	}
	if filled.Valid {
		f.FilledAt = &filled.String
	}
	if sent.Valid {
		f.EmailSentAt = &sent.String
	}
	if sentEnv.Valid {
		f.SentEnvelopeID = &sentEnv.String
	}
	if signed.Valid {
		f.SignedAt = &signed.String
	}
	return f, nil
}

// InsertFormTx creates a form for the given due cycle. A second insert for
// the same envelope and due date is a no-op; the bool reports whether a row
// was created.
func (r Repo) InsertFormTx(ctx context.Context, tx *sql.Tx, f domain.ComplianceForm) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO compliance_forms(envelope_id,schema_json,due_date,created_at)
		VALUES (?,?,?,?) ON CONFLICT(envelope_id,due_date) DO NOTHING`,
		f.EnvelopeID, f.SchemaJSON, f.DueDate, f.CreatedAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetForm(ctx context.Context, id int64) (domain.ComplianceForm, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+formCols+` FROM compliance_forms WHERE id=?`, id)
	return scanForm(row.Scan)
}

func (r Repo) ListForms(ctx context.Context, envelopeID string) ([]domain.ComplianceForm, error) {
	query := `SELECT ` + formCols + ` FROM compliance_forms`
	var args []any
	if envelopeID != "" {
		query += ` WHERE envelope_id=?`
		args = append(args, envelopeID)
	}
	query += ` ORDER BY due_date DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ComplianceForm
	for rows.Next() {
		f, err := scanForm(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// ListDispatchable returns filled forms whose responses have not yet been
// sent to the donor.
func (r Repo) ListDispatchable(ctx context.Context) ([]domain.ComplianceForm, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+formCols+` FROM compliance_forms WHERE filled_at IS NOT NULL AND email_sent_at IS NULL ORDER BY filled_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ComplianceForm
	for rows.Next() {
		f, err := scanForm(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// FillForm records the submitted answers. It refuses to overwrite an
// already-filled form; the bool reports whether the row was updated.
func (r Repo) FillForm(ctx context.Context, id int64, answersJSON, filledAt string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE compliance_forms SET answers_json=?, filled_at=? WHERE id=? AND filled_at IS NULL`,
		answersJSON, filledAt, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClaimDispatch marks a form as sent if and only if nothing has sent it yet.
// The bool reports whether this caller won the claim.
func (r Repo) ClaimDispatch(ctx context.Context, id int64, sentAt string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE compliance_forms SET email_sent_at=? WHERE id=? AND email_sent_at IS NULL AND filled_at IS NOT NULL`,
		sentAt, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReleaseDispatch clears a claim after a failed send so a later run retries.
func (r Repo) ReleaseDispatch(ctx context.Context, id int64) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE compliance_forms SET email_sent_at=NULL, sent_envelope_id=NULL WHERE id=?`, id)
	return err
}

func (r Repo) SetSentEnvelope(ctx context.Context, id int64, sentEnvelopeID string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE compliance_forms SET sent_envelope_id=? WHERE id=?`, sentEnvelopeID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSigned records the completion of the dispatched response envelope.
func (r Repo) MarkSigned(ctx context.Context, sentEnvelopeID, signedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE compliance_forms SET signed_at=? WHERE sent_envelope_id=? AND signed_at IS NULL`,
		signedAt, sentEnvelopeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountCompletedForms returns the number of filled forms for an account.
func (r Repo) CountCompletedForms(ctx context.Context, accountID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM compliance_forms f
		JOIN agreements a ON a.envelope_id=f.envelope_id
		WHERE a.account_id=? AND f.filled_at IS NOT NULL`, accountID).Scan(&n)
	return n, err
}
