package repo

import (
	"context"
	"database/sql"
	"errors"

	"brigade/internal/db"
	"brigade/internal/domain"
)

const outboxColumns = `seq,event_id,aggregate_type,aggregate_id,event_type,payload,created_at,processed_at,attempts,COALESCE(last_error,''),quarantined_at`

func scanOutbox(row rowScanner) (domain.OutboxEvent, error) {
	var ev domain.OutboxEvent
	var processedAt, quarantinedAt sql.NullString
	err := row.Scan(&ev.Seq, &ev.EventID, &ev.AggregateType, &ev.AggregateID, &ev.EventType, &ev.Payload,
		&ev.CreatedAt, &processedAt, &ev.Attempts, &ev.LastError, &quarantinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ev, ErrNotFound
	}
	if err != nil {
		return ev, err
	}
	ev.ProcessedAt = stringPtr(processedAt)
	ev.QuarantinedAt = stringPtr(quarantinedAt)
	return ev, nil
}

func collectOutbox(rows *sql.Rows) ([]domain.OutboxEvent, error) {
	defer rows.Close()
	var res []domain.OutboxEvent
	for rows.Next() {
		ev, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

// InsertOutboxEvent stores a new pending event inside tx.
func (r Repo) InsertOutboxEvent(ctx context.Context, tx *sql.Tx, ev domain.OutboxEvent) error {
	_, err := r.exec(ctx, tx,
		`INSERT INTO outbox_events(event_id,aggregate_type,aggregate_id,event_type,payload,created_at) VALUES (?,?,?,?,?,?)`,
		ev.EventID, ev.AggregateType, ev.AggregateID, ev.EventType, ev.Payload, ev.CreatedAt)
	return err
}

func (r Repo) GetOutboxEvent(ctx context.Context, eventID string) (domain.OutboxEvent, error) {
	return scanOutbox(r.queryRow(ctx, r.DB, `SELECT `+outboxColumns+` FROM outbox_events WHERE event_id=?`, eventID))
}

type OutboxFilters struct {
	PendingOnly bool
	AggregateID string
	EventType   string
	Limit       int
}

// ListOutbox returns events in delivery order when PendingOnly is set and
// newest first otherwise.
func (r Repo) ListOutbox(ctx context.Context, f OutboxFilters) ([]domain.OutboxEvent, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox_events WHERE 1=1`
	var args []any
	if f.PendingOnly {
		query += ` AND processed_at IS NULL`
	}
	if f.AggregateID != "" {
		query += ` AND aggregate_id=?`
		args = append(args, f.AggregateID)
	}
	if f.EventType != "" {
		query += ` AND event_type=?`
		args = append(args, f.EventType)
	}
	if f.PendingOnly {
		query += ` ORDER BY created_at ASC, seq ASC`
	} else {
		query += ` ORDER BY created_at DESC, seq DESC`
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	rows, err := r.query(ctx, r.DB, query, args...)
	if err != nil {
		return nil, err
	}
	return collectOutbox(rows)
}

// CountPending counts unprocessed events that are not quarantined.
func (r Repo) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.queryRow(ctx, r.DB, `SELECT COUNT(*) FROM outbox_events WHERE processed_at IS NULL AND quarantined_at IS NULL`).Scan(&n)
	return n, err
}

// ClaimPending selects up to limit deliverable events in creation order and
// locks them for tx. Rows locked by another claimant are skipped. A non-nil
// eventTypes restricts the claim to those types; an empty non-nil slice claims
// nothing.
func (r Repo) ClaimPending(ctx context.Context, tx *sql.Tx, limit int, eventTypes []string) ([]domain.OutboxEvent, error) {
	if eventTypes != nil && len(eventTypes) == 0 {
		return nil, nil
	}
	query := `SELECT ` + outboxColumns + ` FROM outbox_events WHERE processed_at IS NULL AND quarantined_at IS NULL`
	var args []any
	if eventTypes != nil {
		query += ` AND event_type IN (` + db.Placeholders(len(eventTypes)) + `)`
		for _, t := range eventTypes {
			args = append(args, t)
		}
	}
	query += ` ORDER BY created_at ASC, seq ASC LIMIT ?` + r.Dialect.ClaimClause()
	args = append(args, limit)
	rows, err := r.query(ctx, tx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectOutbox(rows)
}

// MarkProcessed stamps the given rows; rows already processed are left alone.
func (r Repo) MarkProcessed(ctx context.Context, tx *sql.Tx, seqs []int64, now string) (int64, error) {
	if len(seqs) == 0 {
		return 0, nil
	}
	args := []any{now}
	for _, s := range seqs {
		args = append(args, s)
	}
	res, err := r.exec(ctx, tx,
		`UPDATE outbox_events SET processed_at=? WHERE seq IN (`+db.Placeholders(len(seqs))+`) AND processed_at IS NULL`, args...)
	if err != nil {
		return 0, err
	}
	return affected(res), nil
}

// RecordFailure bumps the attempt counter of an unprocessed event and stores the
// error. With maxAttempts > 0 the event is quarantined once attempts reach it.
// The returned event reflects the stored state.
func (r Repo) RecordFailure(ctx context.Context, tx *sql.Tx, eventID, message string, maxAttempts int, now string) (domain.OutboxEvent, error) {
	q := r.conn(tx)
	res, err := r.exec(ctx, q,
		`UPDATE outbox_events SET attempts=attempts+1, last_error=? WHERE event_id=? AND processed_at IS NULL`, message, eventID)
	if err != nil {
		return domain.OutboxEvent{}, err
	}
	if affected(res) == 0 {
		return domain.OutboxEvent{}, ErrNotFound
	}
	if maxAttempts > 0 {
		if _, err := r.exec(ctx, q,
			`UPDATE outbox_events SET quarantined_at=? WHERE event_id=? AND quarantined_at IS NULL AND attempts>=?`,
			now, eventID, maxAttempts); err != nil {
			return domain.OutboxEvent{}, err
		}
	}
	return scanOutbox(r.queryRow(ctx, q, `SELECT `+outboxColumns+` FROM outbox_events WHERE event_id=?`, eventID))
}

// Requeue releases a quarantined event back to the relay with a fresh attempt budget.
func (r Repo) Requeue(ctx context.Context, eventID string) error {
	res, err := r.exec(ctx, r.DB,
		`UPDATE outbox_events SET quarantined_at=NULL, attempts=0, last_error=NULL WHERE event_id=? AND processed_at IS NULL AND quarantined_at IS NOT NULL`,
		eventID)
	if err != nil {
		return err
	}
	if affected(res) == 0 {
		return ErrNotFound
	}
	return nil
}
