package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"brigade/internal/domain"
	"brigade/internal/outbox"
	"brigade/internal/repo"
)

// CascadeCounts is the number of dependent rows moved to the placeholder, per table.
type CascadeCounts = domain.Dependents

type ArchiveResult struct {
	ArchivedID    string        `json:"archived_id"`
	PlaceholderID string        `json:"placeholder_id"`
	EventID       string        `json:"event_id"`
	Cascade       CascadeCounts `json:"cascade"`
}

// ArchiveRole archives a live role in a single transaction: dependents are
// moved to the placeholder role, the role is marked archived, an audit entry
// is appended and an AggregateArchived event is enqueued. Either all of it
// commits or none of it does.
//
// A role that is missing or already archived yields ErrRoleNotArchivable, so
// a retried call has no further effect.
func (e Engine) ArchiveRole(ctx context.Context, roleID, actorID string) (res ArchiveResult, err error) {
	defer func() { e.Metrics.observeArchive(err) }()

	if err := required("role_id", roleID); err != nil {
		return res, err
	}
	if err := required("actor_id", actorID); err != nil {
		return res, err
	}
	if domain.IsPlaceholderRole(roleID) {
		return res, ErrPlaceholderImmutable
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin archive: %w", err)
	}
	defer tx.Rollback()

	role, err := e.Repo.LockLiveRole(ctx, tx, roleID)
	if errors.Is(err, repo.ErrNotFound) {
		return res, fmt.Errorf("archive role %s: %w", roleID, ErrRoleNotArchivable)
	}
	if err != nil {
		return res, fmt.Errorf("lock role %s: %w", roleID, err)
	}

	now := e.stamp()
	placeholder := domain.PlaceholderRoleID
	var cascade CascadeCounts
	if cascade.Tasks, err = e.Repo.ReassignTasks(ctx, tx, roleID, placeholder, now); err != nil {
		return res, fmt.Errorf("reassign tasks: %w", err)
	}
	if cascade.UserLinks, err = e.Repo.ReassignUserLinks(ctx, tx, roleID, placeholder); err != nil {
		return res, fmt.Errorf("reassign user links: %w", err)
	}
	if cascade.PhaseLinks, err = e.Repo.ReassignPhaseLinks(ctx, tx, roleID, placeholder); err != nil {
		return res, fmt.Errorf("reassign phase links: %w", err)
	}
	if cascade.LogAssignments, err = e.Repo.ReassignLogAssignments(ctx, tx, roleID, placeholder); err != nil {
		return res, fmt.Errorf("reassign log assignments: %w", err)
	}
	if err := e.Repo.MarkRoleArchived(ctx, tx, roleID, now); err != nil {
		return res, fmt.Errorf("mark role archived: %w", err)
	}
	action := fmt.Sprintf("archived role %q (%s): moved %d tasks, %d user links, %d phase links, %d log assignments to %s",
		role.Name, roleID, cascade.Tasks, cascade.UserLinks, cascade.PhaseLinks, cascade.LogAssignments, domain.PlaceholderRoleName)
	if err := e.audit(ctx, tx, actorID, action); err != nil {
		return res, err
	}
	eventID, err := e.writer().Enqueue(ctx, tx, outbox.Message{
		EventType:     outbox.EventAggregateArchived,
		AggregateType: outbox.AggregateRole,
		AggregateID:   roleID,
		EventID:       e.newID(),
		Payload: outbox.AggregateArchivedPayload{
			PlaceholderID: placeholder,
			ActorID:       actorID,
			Cascade:       cascade,
		},
	})
	if err != nil {
		return res, fmt.Errorf("enqueue archive event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit archive: %w", err)
	}

	e.logger().Info("role archived",
		zap.String("role_id", roleID),
		zap.String("actor_id", actorID),
		zap.String("event_id", eventID),
		zap.Int64("dependents", cascade.Total()))
	return ArchiveResult{
		ArchivedID:    roleID,
		PlaceholderID: placeholder,
		EventID:       eventID,
		Cascade:       cascade,
	}, nil
}
