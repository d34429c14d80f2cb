package repo

import (
	"context"

	"complyline/internal/domain"
)

// LatestEvents returns the newest audit events, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, n int, evtType, accountID, entityKind, entityID string) ([]domain.Event, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT id, ts, type, account_id, entity_kind, entity_id, actor_id, payload_json FROM events WHERE 1=1`
	args := []any{}
	if evtType != "" {
		query += ` AND type = ?`
		args = append(args, evtType)
	}
	if accountID != "" {
		query += ` AND account_id = ?`
		args = append(args, accountID)
	}
	if entityKind != "" {
		query += ` AND entity_kind = ?`
		args = append(args, entityKind)
	}
	if entityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, entityID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.AccountID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
