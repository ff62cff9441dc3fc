package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"brigade/internal/domain"
	"brigade/internal/repo"
)

type RoleCreateOptions struct {
	ID      string
	Name    string
	ActorID string
}

func (e Engine) CreateRole(ctx context.Context, opts RoleCreateOptions) (domain.Role, error) {
	if err := required("name", opts.Name); err != nil {
		return domain.Role{}, err
	}
	if err := required("actor_id", opts.ActorID); err != nil {
		return domain.Role{}, err
	}
	if opts.ID == "" {
		opts.ID = e.newID()
	}
	if domain.IsPlaceholderRole(opts.ID) {
		return domain.Role{}, ErrPlaceholderImmutable
	}
	now := e.stamp()
	role := domain.Role{
		ID:        opts.ID,
		Name:      strings.TrimSpace(opts.Name),
		Status:    domain.RoleActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Role{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRole(ctx, tx, role); err != nil {
		return domain.Role{}, fmt.Errorf("insert role: %w", err)
	}
	if err := e.audit(ctx, tx, opts.ActorID, fmt.Sprintf("created role %q (%s)", role.Name, role.ID)); err != nil {
		return domain.Role{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Role{}, err
	}
	return role, nil
}

// UpdateRoleStatus moves a live role between active and deprecated. Archiving
// goes through ArchiveRole; archived roles are final.
func (e Engine) UpdateRoleStatus(ctx context.Context, id string, status domain.RoleStatus, actorID string) (domain.Role, error) {
	if err := required("role_id", id); err != nil {
		return domain.Role{}, err
	}
	if err := required("actor_id", actorID); err != nil {
		return domain.Role{}, err
	}
	if domain.IsPlaceholderRole(id) {
		return domain.Role{}, ErrPlaceholderImmutable
	}
	switch status {
	case domain.RoleActive, domain.RoleDeprecated:
	case domain.RoleArchived:
		return domain.Role{}, &ValidationError{Field: "status", Message: "use the archive operation to archive a role"}
	default:
		return domain.Role{}, &ValidationError{Field: "status", Message: fmt.Sprintf("invalid role status %q", status)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Role{}, err
	}
	defer tx.Rollback()
	role, err := e.lockedRole(ctx, tx, id)
	if err != nil {
		return domain.Role{}, err
	}
	if role.Status == status {
		return role, nil
	}
	now := e.stamp()
	if err := e.Repo.UpdateRoleStatus(ctx, tx, id, status, now); err != nil {
		return domain.Role{}, fmt.Errorf("update role status: %w", err)
	}
	if err := e.audit(ctx, tx, actorID, fmt.Sprintf("changed role %s status %s -> %s", id, role.Status, status)); err != nil {
		return domain.Role{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Role{}, err
	}
	role.Status = status
	role.UpdatedAt = now
	return role, nil
}

// RoleDependents counts the rows currently referencing a role.
func (e Engine) RoleDependents(ctx context.Context, id string) (domain.Dependents, error) {
	if _, err := e.Repo.GetRole(ctx, nil, id); err != nil {
		return domain.Dependents{}, err
	}
	return e.Repo.Dependents(ctx, nil, id)
}

type TaskCreateOptions struct {
	ID      string
	Title   string
	RoleID  string
	Status  domain.TaskStatus
	ActorID string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if err := required("title", opts.Title); err != nil {
		return domain.Task{}, err
	}
	if err := required("role_id", opts.RoleID); err != nil {
		return domain.Task{}, err
	}
	if err := required("actor_id", opts.ActorID); err != nil {
		return domain.Task{}, err
	}
	if opts.Status == "" {
		opts.Status = domain.TaskActive
	}
	if !opts.Status.Valid() {
		return domain.Task{}, &ValidationError{Field: "status", Message: fmt.Sprintf("invalid task status %q", opts.Status)}
	}
	if opts.ID == "" {
		opts.ID = e.newID()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if _, err := e.liveRole(ctx, tx, opts.RoleID); err != nil {
		return domain.Task{}, err
	}
	now := e.stamp()
	task := domain.Task{ID: opts.ID, Title: opts.Title, RoleID: opts.RoleID, Status: opts.Status, CreatedAt: now, UpdatedAt: now}
	if err := e.Repo.InsertTask(ctx, tx, task); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.audit(ctx, tx, opts.ActorID, fmt.Sprintf("created task %s on role %s", task.ID, task.RoleID)); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (e Engine) SetTaskStatus(ctx context.Context, id string, status domain.TaskStatus, actorID string) (domain.Task, error) {
	if err := required("actor_id", actorID); err != nil {
		return domain.Task{}, err
	}
	if !status.Valid() {
		return domain.Task{}, &ValidationError{Field: "status", Message: fmt.Sprintf("invalid task status %q", status)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	task, err := e.Repo.GetTask(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.stamp()
	if err := e.Repo.UpdateTaskStatus(ctx, tx, id, status, now); err != nil {
		return domain.Task{}, err
	}
	if err := e.audit(ctx, tx, actorID, fmt.Sprintf("changed task %s status %s -> %s", id, task.Status, status)); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	task.Status = status
	task.UpdatedAt = now
	return task, nil
}

// LinkUser assigns a user to a live role, creating the user row when needed.
// It reports whether a new link was created.
func (e Engine) LinkUser(ctx context.Context, roleID, userID, actorID string) (bool, error) {
	return e.link(ctx, roleID, userID, actorID, "user", e.Repo.EnsureUser, e.Repo.LinkUser)
}

// LinkPhase attaches a phase to a live role, creating the phase row when needed.
func (e Engine) LinkPhase(ctx context.Context, roleID, phaseID, actorID string) (bool, error) {
	return e.link(ctx, roleID, phaseID, actorID, "phase", e.Repo.EnsurePhase, e.Repo.LinkPhase)
}

type ensureFunc func(ctx context.Context, tx *sql.Tx, id, name, now string) error
type linkFunc func(ctx context.Context, tx *sql.Tx, roleID, otherID, now string) (bool, error)

func (e Engine) link(ctx context.Context, roleID, otherID, actorID, kind string, ensure ensureFunc, insert linkFunc) (bool, error) {
	if err := required("role_id", roleID); err != nil {
		return false, err
	}
	if err := required(kind+"_id", otherID); err != nil {
		return false, err
	}
	if err := required("actor_id", actorID); err != nil {
		return false, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := e.liveRole(ctx, tx, roleID); err != nil {
		return false, err
	}
	now := e.stamp()
	if err := ensure(ctx, tx, otherID, "", now); err != nil {
		return false, fmt.Errorf("ensure %s: %w", kind, err)
	}
	created, err := insert(ctx, tx, roleID, otherID, now)
	if err != nil {
		return false, fmt.Errorf("link %s: %w", kind, err)
	}
	if created {
		if err := e.audit(ctx, tx, actorID, fmt.Sprintf("linked %s %s to role %s", kind, otherID, roleID)); err != nil {
			return false, err
		}
	}
	return created, tx.Commit()
}

type LogAssignmentOptions struct {
	RoleID     string
	FormID     string
	Recurrence string
	ActorID    string
}

func (e Engine) AddLogAssignment(ctx context.Context, opts LogAssignmentOptions) (domain.LogAssignment, error) {
	if err := required("role_id", opts.RoleID); err != nil {
		return domain.LogAssignment{}, err
	}
	if err := required("form_id", opts.FormID); err != nil {
		return domain.LogAssignment{}, err
	}
	if err := required("actor_id", opts.ActorID); err != nil {
		return domain.LogAssignment{}, err
	}
	if opts.Recurrence == "" {
		opts.Recurrence = "once"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LogAssignment{}, err
	}
	defer tx.Rollback()
	if _, err := e.liveRole(ctx, tx, opts.RoleID); err != nil {
		return domain.LogAssignment{}, err
	}
	a := domain.LogAssignment{
		ID:         e.newID(),
		RoleID:     opts.RoleID,
		FormID:     opts.FormID,
		Recurrence: opts.Recurrence,
		CreatedAt:  e.stamp(),
	}
	if err := e.Repo.InsertLogAssignment(ctx, tx, a); err != nil {
		return domain.LogAssignment{}, fmt.Errorf("insert log assignment: %w", err)
	}
	if err := e.audit(ctx, tx, opts.ActorID, fmt.Sprintf("assigned log form %s to role %s", a.FormID, a.RoleID)); err != nil {
		return domain.LogAssignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LogAssignment{}, err
	}
	return a, nil
}

// IsConflict reports errors that mean the target is in a terminal state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRoleArchived)
}

// IsNotFound reports missing or already-archived targets.
func IsNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
