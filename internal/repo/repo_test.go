package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"brigade/internal/db"
	"brigade/internal/domain"
	"brigade/internal/migrate"
)

const ts = "2025-01-02T03:04:05.000000Z"

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(conn, dialect)
}

func seedRole(t *testing.T, r Repo, id string) {
	t.Helper()
	if err := r.InsertRole(context.Background(), nil, domain.Role{ID: id, Name: id, Status: domain.RoleActive, CreatedAt: ts, UpdatedAt: ts}); err != nil {
		t.Fatalf("insert role %s: %v", id, err)
	}
}

func TestReassignLinksMergesDuplicates(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	seedRole(t, r, "a")
	seedRole(t, r, "b")
	for _, u := range []string{"u1", "u2"} {
		if err := r.EnsureUser(ctx, nil, u, "", ts); err != nil {
			t.Fatal(err)
		}
		if _, err := r.LinkUser(ctx, nil, "a", u, ts); err != nil {
			t.Fatal(err)
		}
	}
	// u1 already sits on b, so its a-link must merge rather than collide.
	if _, err := r.LinkUser(ctx, nil, "b", "u1", ts); err != nil {
		t.Fatal(err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	n, err := r.ReassignUserLinks(ctx, tx, "a", "b")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("reassigned = %d, want 2", n)
	}
	links, _ := r.ListUserLinks(ctx, "b")
	if len(links) != 2 {
		t.Fatalf("links on b = %+v", links)
	}
	if left, _ := r.ListUserLinks(ctx, "a"); len(left) != 0 {
		t.Fatalf("links left on a = %+v", left)
	}
}

func TestReassignTasksPreservesTerminal(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	seedRole(t, r, "a")
	want := map[domain.TaskStatus]domain.TaskStatus{
		domain.TaskActive:     domain.TaskUnassigned,
		domain.TaskPaused:     domain.TaskUnassigned,
		domain.TaskUnassigned: domain.TaskUnassigned,
		domain.TaskRetired:    domain.TaskRetired,
		domain.TaskArchived:   domain.TaskArchived,
	}
	for s := range want {
		task := domain.Task{ID: "t-" + string(s), Title: "x", RoleID: "a", Status: s, CreatedAt: ts, UpdatedAt: ts}
		if err := r.InsertTask(ctx, nil, task); err != nil {
			t.Fatal(err)
		}
	}
	tx, _ := r.DB.BeginTx(ctx, nil)
	n, err := r.ReassignTasks(ctx, tx, "a", domain.PlaceholderRoleID, ts)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	tx.Commit()
	if n != int64(len(want)) {
		t.Fatalf("reassigned = %d", n)
	}
	for from, to := range want {
		got, err := r.GetTask(ctx, nil, "t-"+string(from))
		if err != nil {
			t.Fatal(err)
		}
		if got.RoleID != domain.PlaceholderRoleID || got.Status != to {
			t.Fatalf("task from %s = %+v", from, got)
		}
	}
}

func TestClaimAndFailureBookkeeping(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	tx, _ := r.DB.BeginTx(ctx, nil)
	for i, typ := range []string{"A", "B", "A"} {
		ev := domain.OutboxEvent{EventID: fmt.Sprintf("e%d", i), AggregateType: "role", AggregateID: "x", EventType: typ, Payload: "{}", CreatedAt: ts}
		if err := r.InsertOutboxEvent(ctx, tx, ev); err != nil {
			t.Fatal(err)
		}
	}
	tx.Commit()

	tx, _ = r.DB.BeginTx(ctx, nil)
	claimed, err := r.ClaimPending(ctx, tx, 10, []string{"A"})
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 2 || claimed[0].EventID != "e0" || claimed[1].EventID != "e2" {
		t.Fatalf("claimed = %+v", claimed)
	}
	none, _ := r.ClaimPending(ctx, tx, 10, []string{})
	if len(none) != 0 {
		t.Fatalf("empty type set claimed %d", len(none))
	}
	if _, err := r.MarkProcessed(ctx, tx, []int64{claimed[0].Seq}, ts); err != nil {
		t.Fatal(err)
	}
	tx.Commit()

	if n, _ := r.CountPending(ctx); n != 2 {
		t.Fatalf("pending = %d", n)
	}
	ev, err := r.RecordFailure(ctx, nil, "e1", "boom", 2, ts)
	if err != nil || ev.Attempts != 1 || ev.QuarantinedAt != nil {
		t.Fatalf("first failure = %+v, %v", ev, err)
	}
	ev, _ = r.RecordFailure(ctx, nil, "e1", "boom", 2, ts)
	if ev.QuarantinedAt == nil || ev.LastError != "boom" {
		t.Fatalf("expected quarantine: %+v", ev)
	}
	if n, _ := r.CountPending(ctx); n != 1 {
		t.Fatalf("pending after quarantine = %d", n)
	}
	if err := r.Requeue(ctx, "e1"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if err := r.Requeue(ctx, "e1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second requeue err = %v", err)
	}
	if _, err := r.RecordFailure(ctx, nil, "e0", "late", 0, ts); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failure on processed event err = %v", err)
	}
}

func TestLockLiveRoleSkipsArchived(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	tx, _ := r.DB.BeginTx(ctx, nil)
	defer tx.Rollback()
	if _, err := r.LockLiveRole(ctx, tx, domain.PlaceholderRoleID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("placeholder should not be live: %v", err)
	}
}

func TestLockLiveRoleSharedSkipsArchived(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	seedRole(t, r, "r1")
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if role, err := r.LockLiveRoleShared(ctx, tx, "r1"); err != nil || role.ID != "r1" {
		t.Fatalf("live role: %+v %v", role, err)
	}
	if err := r.MarkRoleArchived(ctx, tx, "r1", ts); err != nil {
		t.Fatal(err)
	}
	if _, err := r.LockLiveRoleShared(ctx, tx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("archived role should not be live: %v", err)
	}
}
