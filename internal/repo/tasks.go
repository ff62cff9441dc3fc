package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"brigade/internal/domain"
)

const taskColumns = `id,title,role_id,status,created_at,updated_at`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.Title, &t.RoleID, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.exec(ctx, r.conn(tx), `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?)`,
		t.ID, t.Title, t.RoleID, string(t.Status), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(r.queryRow(ctx, r.conn(tx), `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) ListTasks(ctx context.Context, roleID string) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if roleID != "" {
		query += ` WHERE role_id=?`
		args = append(args, roleID)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.query(ctx, r.DB, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTaskStatus(ctx context.Context, tx *sql.Tx, id string, status domain.TaskStatus, now string) error {
	res, err := r.exec(ctx, r.conn(tx), `UPDATE tasks SET status=?, updated_at=? WHERE id=?`, string(status), now, id)
	if err != nil {
		return err
	}
	if affected(res) == 0 {
		return ErrNotFound
	}
	return nil
}

// ReassignTasks moves every task of from onto to, mapping each status
// through domain.TaskStatus.AfterReassignment.
func (r Repo) ReassignTasks(ctx context.Context, tx *sql.Tx, from, to, now string) (int64, error) {
	var cases strings.Builder
	args := []any{to}
	for _, s := range domain.TaskStatuses() {
		cases.WriteString(" WHEN ? THEN ?")
		args = append(args, string(s), string(s.AfterReassignment()))
	}
	args = append(args, now, from)
	res, err := r.exec(ctx, tx,
		`UPDATE tasks SET role_id=?, status=CASE status`+cases.String()+` ELSE status END, updated_at=? WHERE role_id=?`,
		args...)
	if err != nil {
		return 0, err
	}
	return affected(res), nil
}
