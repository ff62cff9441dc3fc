package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"brigade/internal/config"
	"brigade/internal/db"
	"brigade/internal/domain"
	"brigade/internal/engine"
	"brigade/internal/migrate"
	"brigade/internal/outbox"
	"brigade/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, dialect, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	metrics, err := engine.NewMetrics(nil)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	eng.Metrics = metrics
	return testEnv{Engine: eng, Ctx: context.Background()}
}

// seed creates a role with one task per status, two users, two phases and a log assignment.
func (env testEnv) seed(t *testing.T, id string) {
	t.Helper()
	e := env.Engine
	if _, err := e.CreateRole(env.Ctx, engine.RoleCreateOptions{ID: id, Name: "Role " + id, ActorID: "admin"}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	for _, s := range []domain.TaskStatus{domain.TaskActive, domain.TaskPaused, domain.TaskRetired, domain.TaskArchived} {
		if _, err := e.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: id + "-" + string(s), Title: string(s), RoleID: id, Status: s, ActorID: "admin"}); err != nil {
			t.Fatalf("create task: %v", err)
		}
	}
	for _, u := range []string{"alice", "bob"} {
		if _, err := e.LinkUser(env.Ctx, id, u, "admin"); err != nil {
			t.Fatalf("link user: %v", err)
		}
	}
	for _, p := range []string{"intake", "review"} {
		if _, err := e.LinkPhase(env.Ctx, id, p, "admin"); err != nil {
			t.Fatalf("link phase: %v", err)
		}
	}
	if _, err := e.AddLogAssignment(env.Ctx, engine.LogAssignmentOptions{RoleID: id, FormID: "daily", Recurrence: "daily", ActorID: "admin"}); err != nil {
		t.Fatalf("log assignment: %v", err)
	}
}

func (env testEnv) outboxFor(t *testing.T, aggregateID string) []domain.OutboxEvent {
	t.Helper()
	events, err := env.Engine.Repo.ListOutbox(env.Ctx, repo.OutboxFilters{AggregateID: aggregateID})
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	return events
}

func TestArchiveRoleCascades(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "r1")

	res, err := env.Engine.ArchiveRole(env.Ctx, "r1", "admin")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	want := engine.CascadeCounts{Tasks: 4, UserLinks: 2, PhaseLinks: 2, LogAssignments: 1}
	if res.Cascade != want || res.ArchivedID != "r1" || res.PlaceholderID != domain.PlaceholderRoleID || res.EventID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	role, err := env.Engine.Repo.GetRole(env.Ctx, nil, "r1")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if role.Status != domain.RoleArchived || role.ArchivedAt == nil {
		t.Fatalf("role not archived: %+v", role)
	}
	deps, err := env.Engine.RoleDependents(env.Ctx, "r1")
	if err != nil || deps.Total() != 0 {
		t.Fatalf("dependents left on archived role: %+v %v", deps, err)
	}

	tasks, _ := env.Engine.Repo.ListTasks(env.Ctx, domain.PlaceholderRoleID)
	for _, task := range tasks {
		want := domain.TaskUnassigned
		if task.Title == string(domain.TaskRetired) || task.Title == string(domain.TaskArchived) {
			want = domain.TaskStatus(task.Title)
		}
		if task.Status != want {
			t.Fatalf("task %s status = %s, want %s", task.ID, task.Status, want)
		}
	}

	events := env.outboxFor(t, "r1")
	if len(events) != 1 || events[0].EventID != res.EventID || events[0].EventType != string(outbox.EventAggregateArchived) {
		t.Fatalf("unexpected outbox: %+v", events)
	}
	if !strings.Contains(events[0].Payload, `"actor_id":"admin"`) || !strings.Contains(events[0].Payload, `"tasks":4`) {
		t.Fatalf("payload = %s", events[0].Payload)
	}
	audit, _ := env.Engine.Repo.LatestAudit(env.Ctx, 1)
	if len(audit) != 1 || audit[0].ActorID != "admin" || !strings.Contains(audit[0].Action, "archived role") {
		t.Fatalf("audit = %+v", audit)
	}
}

func TestArchiveRoleMergesExistingPlaceholderLinks(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "r1")
	env.seed(t, "r2")
	if _, err := env.Engine.ArchiveRole(env.Ctx, "r1", "admin"); err != nil {
		t.Fatalf("archive r1: %v", err)
	}
	// alice and bob already sit on the placeholder; r2's links must merge.
	res, err := env.Engine.ArchiveRole(env.Ctx, "r2", "admin")
	if err != nil {
		t.Fatalf("archive r2: %v", err)
	}
	if res.Cascade.UserLinks != 2 || res.Cascade.PhaseLinks != 2 {
		t.Fatalf("cascade = %+v", res.Cascade)
	}
	links, _ := env.Engine.Repo.ListUserLinks(env.Ctx, domain.PlaceholderRoleID)
	if len(links) != 2 {
		t.Fatalf("placeholder links = %+v", links)
	}
}

func TestArchiveRoleRetryIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "r1")
	if _, err := env.Engine.ArchiveRole(env.Ctx, "r1", "admin"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	_, err := env.Engine.ArchiveRole(env.Ctx, "r1", "admin")
	if !errors.Is(err, engine.ErrRoleNotArchivable) || !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second archive err = %v", err)
	}
	if n := len(env.outboxFor(t, "r1")); n != 1 {
		t.Fatalf("outbox events = %d, want 1", n)
	}
	if _, err := env.Engine.ArchiveRole(env.Ctx, "missing", "admin"); !errors.Is(err, engine.ErrRoleNotArchivable) {
		t.Fatalf("missing role err = %v", err)
	}
}

func TestArchiveRoleValidation(t *testing.T) {
	env := newTestEnv(t)
	var verr *engine.ValidationError
	cases := []struct{ role, actor string }{{"", "admin"}, {"r1", ""}, {domain.PlaceholderRoleID, "admin"}}
	for _, c := range cases {
		if _, err := env.Engine.ArchiveRole(env.Ctx, c.role, c.actor); !errors.As(err, &verr) {
			t.Fatalf("archive(%q,%q) err = %v", c.role, c.actor, err)
		}
	}
	if _, err := env.Engine.ArchiveRole(env.Ctx, domain.PlaceholderRoleID, "admin"); !errors.Is(err, engine.ErrPlaceholderImmutable) {
		t.Fatalf("placeholder err = %v", err)
	}
	if _, err := env.Engine.UpdateRoleStatus(env.Ctx, domain.PlaceholderRoleID, domain.RoleActive, "admin"); !errors.Is(err, engine.ErrPlaceholderImmutable) {
		t.Fatalf("placeholder status err = %v", err)
	}
	if got := testutil.ToFloat64(env.Engine.Metrics.Archives().WithLabelValues("invalid")); got != 4 {
		t.Fatalf("invalid archive count = %v", got)
	}
}

func TestArchiveRoleIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "r1")
	before, _ := env.Engine.RoleDependents(env.Ctx, "r1")
	audits, _ := env.Engine.Repo.LatestAudit(env.Ctx, 100)

	// Occupy the event id the archive will use so the final insert fails.
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Outbox.Enqueue(env.Ctx, tx, outbox.Message{EventType: "Seed", AggregateType: "role", AggregateID: "other", EventID: "dup"}); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	eng := env.Engine
	eng.NewID = func() string { return "dup" }

	if _, err := eng.ArchiveRole(env.Ctx, "r1", "admin"); err == nil || !strings.Contains(err.Error(), "enqueue archive event") {
		t.Fatalf("expected enqueue failure, got %v", err)
	}
	role, _ := env.Engine.Repo.GetRole(env.Ctx, nil, "r1")
	if role.Status != domain.RoleActive || role.ArchivedAt != nil {
		t.Fatalf("role changed after rollback: %+v", role)
	}
	after, _ := env.Engine.RoleDependents(env.Ctx, "r1")
	if after != before {
		t.Fatalf("dependents changed after rollback: %+v -> %+v", before, after)
	}
	task, _ := env.Engine.Repo.GetTask(env.Ctx, nil, "r1-active")
	if task.Status != domain.TaskActive {
		t.Fatalf("task status changed after rollback: %s", task.Status)
	}
	if got, _ := env.Engine.Repo.LatestAudit(env.Ctx, 100); len(got) != len(audits) {
		t.Fatalf("audit grew after rollback: %d -> %d", len(audits), len(got))
	}
	if n := len(env.outboxFor(t, "r1")); n != 0 {
		t.Fatalf("outbox events for r1 = %d", n)
	}
}

func TestConcurrentArchiveCommitsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "r1")
	const workers = 4
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		others    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.Engine.ArchiveRole(env.Ctx, "r1", fmt.Sprintf("actor-%d", i))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if !errors.Is(err, engine.ErrRoleNotArchivable) {
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()
	if successes != 1 || len(others) != 0 {
		t.Fatalf("successes = %d, unexpected errors = %v", successes, others)
	}
	if n := len(env.outboxFor(t, "r1")); n != 1 {
		t.Fatalf("outbox events = %d", n)
	}
}

func TestArchivedRoleIsFinal(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "r1")
	if _, err := env.Engine.UpdateRoleStatus(env.Ctx, "r1", domain.RoleDeprecated, "admin"); err != nil {
		t.Fatalf("deprecate: %v", err)
	}
	// Deprecated roles are still archivable.
	if _, err := env.Engine.ArchiveRole(env.Ctx, "r1", "admin"); err != nil {
		t.Fatalf("archive deprecated: %v", err)
	}
	if _, err := env.Engine.UpdateRoleStatus(env.Ctx, "r1", domain.RoleActive, "admin"); !errors.Is(err, engine.ErrRoleArchived) {
		t.Fatalf("reactivate err = %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "late", RoleID: "r1", ActorID: "admin"}); !errors.Is(err, engine.ErrRoleArchived) {
		t.Fatalf("task on archived role err = %v", err)
	}
	if _, err := env.Engine.LinkUser(env.Ctx, "r1", "carol", "admin"); !engine.IsConflict(err) {
		t.Fatalf("link on archived role err = %v", err)
	}
	if _, err := env.Engine.LinkPhase(env.Ctx, "r1", "audit", "admin"); !errors.Is(err, engine.ErrRoleArchived) {
		t.Fatalf("phase link on archived role err = %v", err)
	}
	if _, err := env.Engine.AddLogAssignment(env.Ctx, engine.LogAssignmentOptions{RoleID: "r1", FormID: "weekly", ActorID: "admin"}); !errors.Is(err, engine.ErrRoleArchived) {
		t.Fatalf("log assignment on archived role err = %v", err)
	}
	var verr *engine.ValidationError
	if _, err := env.Engine.UpdateRoleStatus(env.Ctx, "r1", domain.RoleArchived, "admin"); !errors.As(err, &verr) {
		t.Fatalf("status archived err = %v", err)
	}
}

func TestCommandsRacingArchiveNeverAttachToArchivedRole(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateRole(env.Ctx, engine.RoleCreateOptions{ID: "r1", Name: "Ops", ActorID: "admin"}); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	var archived engine.ArchiveResult
	archiveErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		archived, err = env.Engine.ArchiveRole(env.Ctx, "r1", "admin")
		archiveErr <- err
	}()
	created := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("t%d", i)
			_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: id, Title: id, RoleID: "r1", ActorID: "admin"})
			switch {
			case err == nil:
				created <- id
			case !errors.Is(err, engine.ErrRoleArchived):
				t.Errorf("create task %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()
	close(created)
	if err := <-archiveErr; err != nil {
		t.Fatalf("archive: %v", err)
	}
	left, err := env.Engine.Repo.ListTasks(env.Ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Fatalf("tasks still on archived role: %+v", left)
	}
	n := 0
	for id := range created {
		task, err := env.Engine.Repo.GetTask(env.Ctx, nil, id)
		if err != nil {
			t.Fatal(err)
		}
		if task.RoleID != domain.PlaceholderRoleID || task.Status != domain.TaskUnassigned {
			t.Fatalf("task %s = %s/%s", id, task.RoleID, task.Status)
		}
		n++
	}
	if archived.Cascade.Tasks != int64(n) {
		t.Fatalf("cascade tasks = %d, created before archive = %d", archived.Cascade.Tasks, n)
	}
}

func TestLinkUserIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateRole(env.Ctx, engine.RoleCreateOptions{ID: "r1", Name: "Ops", ActorID: "admin"}); err != nil {
		t.Fatal(err)
	}
	created, err := env.Engine.LinkUser(env.Ctx, "r1", "alice", "admin")
	if err != nil || !created {
		t.Fatalf("first link: %v %v", created, err)
	}
	created, err = env.Engine.LinkUser(env.Ctx, "r1", "alice", "admin")
	if err != nil || created {
		t.Fatalf("second link: %v %v", created, err)
	}
	if _, err := env.Engine.LinkUser(env.Ctx, "nope", "alice", "admin"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing role err = %v", err)
	}
}

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := engine.NewMetrics(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := engine.NewMetrics(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

