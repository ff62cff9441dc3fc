package repo

import (
	"context"
	"database/sql"

	"brigade/internal/domain"
)

func (r Repo) InsertLogAssignment(ctx context.Context, tx *sql.Tx, a domain.LogAssignment) error {
	_, err := r.exec(ctx, r.conn(tx), `INSERT INTO log_assignments(id,role_id,form_id,recurrence,created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.RoleID, a.FormID, a.Recurrence, a.CreatedAt)
	return err
}

func (r Repo) ListLogAssignments(ctx context.Context, roleID string) ([]domain.LogAssignment, error) {
	rows, err := r.query(ctx, r.DB, `SELECT id,role_id,form_id,recurrence,created_at FROM log_assignments WHERE role_id=? ORDER BY created_at, id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LogAssignment
	for rows.Next() {
		var a domain.LogAssignment
		if err := rows.Scan(&a.ID, &a.RoleID, &a.FormID, &a.Recurrence, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) ReassignLogAssignments(ctx context.Context, tx *sql.Tx, from, to string) (int64, error) {
	res, err := r.exec(ctx, tx, `UPDATE log_assignments SET role_id=? WHERE role_id=?`, to, from)
	if err != nil {
		return 0, err
	}
	return affected(res), nil
}

// Dependents counts the rows that reference roleID in each dependent table.
func (r Repo) Dependents(ctx context.Context, tx *sql.Tx, roleID string) (domain.Dependents, error) {
	var d domain.Dependents
	err := r.queryRow(ctx, r.conn(tx), `SELECT
		(SELECT COUNT(*) FROM tasks WHERE role_id=?),
		(SELECT COUNT(*) FROM user_roles WHERE role_id=?),
		(SELECT COUNT(*) FROM role_phases WHERE role_id=?),
		(SELECT COUNT(*) FROM log_assignments WHERE role_id=?)`,
		roleID, roleID, roleID, roleID).Scan(&d.Tasks, &d.UserLinks, &d.PhaseLinks, &d.LogAssignments)
	return d, err
}
