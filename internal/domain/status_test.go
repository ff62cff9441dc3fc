package domain

import "testing"

func TestTaskStatusAfterReassignment(t *testing.T) {
	cases := map[TaskStatus]TaskStatus{
		TaskActive:     TaskUnassigned,
		TaskPaused:     TaskUnassigned,
		TaskUnassigned: TaskUnassigned,
		TaskRetired:    TaskRetired,
		TaskArchived:   TaskArchived,
	}
	for in, want := range cases {
		if got := in.AfterReassignment(); got != want {
			t.Fatalf("%s: got %s want %s", in, got, want)
		}
	}
}

func TestTaskStatusesAreValid(t *testing.T) {
	seen := map[TaskStatus]bool{}
	for _, s := range TaskStatuses() {
		if !s.Valid() || seen[s] {
			t.Fatalf("bad or duplicate status %q", s)
		}
		seen[s] = true
		_ = s.Terminal()
	}
	if len(seen) != 5 {
		t.Fatalf("statuses = %d, want 5", len(seen))
	}
}

func TestTerminalPanicsOnUnknownStatus(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unknown status")
		}
	}()
	TaskStatus("done").Terminal()
}

func TestParseStatuses(t *testing.T) {
	if _, err := ParseRoleStatus("archived"); err != nil {
		t.Fatalf("parse role status: %v", err)
	}
	if _, err := ParseRoleStatus("retired"); err == nil {
		t.Fatalf("expected error for task-only status on role")
	}
	if _, err := ParseTaskStatus("paused"); err != nil {
		t.Fatalf("parse task status: %v", err)
	}
	if _, err := ParseTaskStatus("deprecated"); err == nil {
		t.Fatalf("expected error for role-only status on task")
	}
}

func TestPlaceholderRole(t *testing.T) {
	if !IsPlaceholderRole(PlaceholderRoleID) {
		t.Fatalf("placeholder not recognised")
	}
	if IsPlaceholderRole("line-cook") {
		t.Fatalf("regular role reported as placeholder")
	}
}
