package repo

import (
	"context"
	"database/sql"

	"brigade/internal/domain"
)

// InsertAudit appends an audit entry. The audit log is never updated.
func (r Repo) InsertAudit(ctx context.Context, tx *sql.Tx, e domain.AuditEntry) error {
	_, err := r.exec(ctx, r.conn(tx), `INSERT INTO audit_log(actor_id,action,created_at) VALUES (?,?,?)`, e.ActorID, e.Action, e.CreatedAt)
	return err
}

// LatestAudit returns the newest entries first.
func (r Repo) LatestAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.query(ctx, r.DB, `SELECT id,actor_id,action,created_at FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
