package repo

import (
	"context"
	"database/sql"
	"errors"

	"brigade/internal/domain"
)

const roleColumns = `id,name,status,created_at,updated_at,archived_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (domain.Role, error) {
	var role domain.Role
	var archivedAt sql.NullString
	err := row.Scan(&role.ID, &role.Name, &role.Status, &role.CreatedAt, &role.UpdatedAt, &archivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return role, ErrNotFound
	}
	if err != nil {
		return role, err
	}
	role.ArchivedAt = stringPtr(archivedAt)
	return role, nil
}

func (r Repo) InsertRole(ctx context.Context, tx *sql.Tx, role domain.Role) error {
	_, err := r.exec(ctx, r.conn(tx), `INSERT INTO roles(`+roleColumns+`) VALUES (?,?,?,?,?,?)`,
		role.ID, role.Name, string(role.Status), role.CreatedAt, role.UpdatedAt, nullableStringPtr(role.ArchivedAt))
	return err
}

func (r Repo) GetRole(ctx context.Context, tx *sql.Tx, id string) (domain.Role, error) {
	return scanRole(r.queryRow(ctx, r.conn(tx), `SELECT `+roleColumns+` FROM roles WHERE id=?`, id))
}

// LockLiveRole selects a role that is not yet archived and, where the dialect
// supports it, holds a row lock on it until tx ends.
func (r Repo) LockLiveRole(ctx context.Context, tx *sql.Tx, id string) (domain.Role, error) {
	return r.lockLiveRole(ctx, tx, id, r.Dialect.LockClause())
}

// LockLiveRoleShared is LockLiveRole with a share lock: commands that attach
// rows to the role run alongside each other but wait for an archive in flight,
// and then see the role as archived.
func (r Repo) LockLiveRoleShared(ctx context.Context, tx *sql.Tx, id string) (domain.Role, error) {
	return r.lockLiveRole(ctx, tx, id, r.Dialect.ShareLockClause())
}

func (r Repo) lockLiveRole(ctx context.Context, tx *sql.Tx, id, lock string) (domain.Role, error) {
	return scanRole(r.queryRow(ctx, tx,
		`SELECT `+roleColumns+` FROM roles WHERE id=? AND status<>?`+lock,
		id, string(domain.RoleArchived)))
}

// ListRoles returns roles ordered by creation, optionally filtered by status.
// The placeholder role is excluded unless includePlaceholder is set.
func (r Repo) ListRoles(ctx context.Context, status domain.RoleStatus, includePlaceholder bool) ([]domain.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE 1=1`
	var args []any
	if status != "" {
		query += ` AND status=?`
		args = append(args, string(status))
	}
	if !includePlaceholder {
		query += ` AND id<>?`
		args = append(args, domain.PlaceholderRoleID)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.query(ctx, r.DB, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, role)
	}
	return res, rows.Err()
}

func (r Repo) UpdateRoleStatus(ctx context.Context, tx *sql.Tx, id string, status domain.RoleStatus, now string) error {
	res, err := r.exec(ctx, r.conn(tx), `UPDATE roles SET status=?, updated_at=? WHERE id=?`, string(status), now, id)
	if err != nil {
		return err
	}
	if affected(res) == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRoleArchived flips a live role to archived. It reports ErrNotFound when
// the role is missing or already archived.
func (r Repo) MarkRoleArchived(ctx context.Context, tx *sql.Tx, id, now string) error {
	res, err := r.exec(ctx, tx, `UPDATE roles SET status=?, archived_at=?, updated_at=? WHERE id=? AND status<>?`,
		string(domain.RoleArchived), now, now, id, string(domain.RoleArchived))
	if err != nil {
		return err
	}
	if affected(res) == 0 {
		return ErrNotFound
	}
	return nil
}
