package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"brigade/internal/config"
	"brigade/internal/db"
	"brigade/internal/domain"
	"brigade/internal/outbox"
	"brigade/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Outbox  outbox.Writer
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *Metrics
	Now     func() time.Time
	NewID   func() string
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config) Engine {
	r := repo.New(conn, dialect)
	return Engine{
		DB:     conn,
		Repo:   r,
		Outbox: outbox.Writer{Repo: r},
		Config: cfg,
		Logger: zap.NewNop(),
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return domain.FormatTime(e.now())
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e Engine) writer() outbox.Writer {
	w := e.Outbox
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: field + " is required"}
	}
	return nil
}

// liveRole share-locks a role inside tx and rejects archived ones. Commands
// that attach dependent rows go through it, so they cannot interleave with an
// archive of the same role.
func (e Engine) liveRole(ctx context.Context, tx *sql.Tx, id string) (domain.Role, error) {
	return e.checkLive(ctx, tx, id, e.Repo.LockLiveRoleShared)
}

// lockedRole is liveRole with an exclusive lock, for commands that update the role row.
func (e Engine) lockedRole(ctx context.Context, tx *sql.Tx, id string) (domain.Role, error) {
	return e.checkLive(ctx, tx, id, e.Repo.LockLiveRole)
}

func (e Engine) checkLive(ctx context.Context, tx *sql.Tx, id string, lock func(context.Context, *sql.Tx, string) (domain.Role, error)) (domain.Role, error) {
	role, err := lock(ctx, tx, id)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return role, err
	}
	// No live row: tell a missing role apart from an archived one.
	role, err = e.Repo.GetRole(ctx, tx, id)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return role, fmt.Errorf("role %s: %w", id, repo.ErrNotFound)
	case err != nil:
		return role, err
	}
	return role, fmt.Errorf("role %s: %w", id, ErrRoleArchived)
}

func (e Engine) audit(ctx context.Context, tx *sql.Tx, actorID, action string) error {
	if err := e.Repo.InsertAudit(ctx, tx, domain.AuditEntry{ActorID: actorID, Action: action, CreatedAt: e.stamp()}); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}
