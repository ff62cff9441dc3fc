package repo

import (
	"context"
	"database/sql"
	"fmt"

	"brigade/internal/domain"
)

// EnsureUser creates a user row when absent; name defaults to the id.
func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, id, name, now string) error {
	if name == "" {
		name = id
	}
	_, err := r.exec(ctx, r.conn(tx), `INSERT INTO users(id,name,created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`, id, name, now)
	return err
}

// EnsurePhase creates a phase row when absent; name defaults to the id.
func (r Repo) EnsurePhase(ctx context.Context, tx *sql.Tx, id, name, now string) error {
	if name == "" {
		name = id
	}
	_, err := r.exec(ctx, r.conn(tx), `INSERT INTO phases(id,name,created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`, id, name, now)
	return err
}

// LinkUser reports whether a new link was created.
func (r Repo) LinkUser(ctx context.Context, tx *sql.Tx, roleID, userID, now string) (bool, error) {
	res, err := r.exec(ctx, r.conn(tx), `INSERT INTO user_roles(user_id,role_id,created_at) VALUES (?,?,?) ON CONFLICT(user_id,role_id) DO NOTHING`,
		userID, roleID, now)
	if err != nil {
		return false, err
	}
	return affected(res) > 0, nil
}

// LinkPhase reports whether a new link was created.
func (r Repo) LinkPhase(ctx context.Context, tx *sql.Tx, roleID, phaseID, now string) (bool, error) {
	res, err := r.exec(ctx, r.conn(tx), `INSERT INTO role_phases(role_id,phase_id,created_at) VALUES (?,?,?) ON CONFLICT(role_id,phase_id) DO NOTHING`,
		roleID, phaseID, now)
	if err != nil {
		return false, err
	}
	return affected(res) > 0, nil
}

func (r Repo) ListUserLinks(ctx context.Context, roleID string) ([]domain.UserRole, error) {
	rows, err := r.query(ctx, r.DB, `SELECT user_id, role_id FROM user_roles WHERE role_id=? ORDER BY user_id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.UserRole
	for rows.Next() {
		var l domain.UserRole
		if err := rows.Scan(&l.UserID, &l.RoleID); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) ListPhaseLinks(ctx context.Context, roleID string) ([]domain.RolePhase, error) {
	rows, err := r.query(ctx, r.DB, `SELECT role_id, phase_id FROM role_phases WHERE role_id=? ORDER BY phase_id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RolePhase
	for rows.Next() {
		var l domain.RolePhase
		if err := rows.Scan(&l.RoleID, &l.PhaseID); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// ReassignUserLinks repoints user links from one role to another. A link whose
// user is already linked to the target is dropped instead, so the primary key
// holds. The count covers moved and dropped rows.
func (r Repo) ReassignUserLinks(ctx context.Context, tx *sql.Tx, from, to string) (int64, error) {
	return r.reassignLinks(ctx, tx, "user_roles", "user_id", from, to)
}

// ReassignPhaseLinks is ReassignUserLinks for role_phases.
func (r Repo) ReassignPhaseLinks(ctx context.Context, tx *sql.Tx, from, to string) (int64, error) {
	return r.reassignLinks(ctx, tx, "role_phases", "phase_id", from, to)
}

func (r Repo) reassignLinks(ctx context.Context, tx *sql.Tx, table, other, from, to string) (int64, error) {
	moved, err := r.exec(ctx, tx, fmt.Sprintf(
		`UPDATE %[1]s SET role_id=? WHERE role_id=? AND NOT EXISTS (SELECT 1 FROM %[1]s twin WHERE twin.%[2]s=%[1]s.%[2]s AND twin.role_id=?)`,
		table, other), to, from, to)
	if err != nil {
		return 0, fmt.Errorf("move %s: %w", table, err)
	}
	merged, err := r.exec(ctx, tx, fmt.Sprintf(`DELETE FROM %s WHERE role_id=?`, table), from)
	if err != nil {
		return 0, fmt.Errorf("merge %s: %w", table, err)
	}
	return affected(moved) + affected(merged), nil
}
