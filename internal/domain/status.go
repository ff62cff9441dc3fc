package domain

import "fmt"

// PlaceholderRoleID identifies the provisioned "Unassigned" role. It is created
// archived, is never archivable itself, and absorbs the dependents of archived roles.
const (
	PlaceholderRoleID   = "00000000-0000-0000-0000-000000000000"
	PlaceholderRoleName = "Unassigned"
)

// IsPlaceholderRole reports whether id names the placeholder role.
func IsPlaceholderRole(id string) bool {
	return id == PlaceholderRoleID
}

type RoleStatus string

const (
	RoleActive     RoleStatus = "active"
	RoleDeprecated RoleStatus = "deprecated"
	RoleArchived   RoleStatus = "archived"
)

func (s RoleStatus) Valid() bool {
	switch s {
	case RoleActive, RoleDeprecated, RoleArchived:
		return true
	default:
		return false
	}
}

func ParseRoleStatus(raw string) (RoleStatus, error) {
	s := RoleStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("invalid role status %q", raw)
	}
	return s, nil
}

type TaskStatus string

const (
	TaskActive     TaskStatus = "active"
	TaskPaused     TaskStatus = "paused"
	TaskRetired    TaskStatus = "retired"
	TaskArchived   TaskStatus = "archived"
	TaskUnassigned TaskStatus = "unassigned"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskActive, TaskPaused, TaskRetired, TaskArchived, TaskUnassigned:
		return true
	default:
		return false
	}
}

// Terminal reports whether a reassignment must leave the status untouched.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskRetired, TaskArchived:
		return true
	case TaskActive, TaskPaused, TaskUnassigned:
		return false
	default:
		panic(fmt.Sprintf("domain: unhandled task status %q", string(s)))
	}
}

// AfterReassignment returns the status a task takes when its role is archived.
// The archival cascade builds its SQL from this mapping.
func (s TaskStatus) AfterReassignment() TaskStatus {
	if s.Terminal() {
		return s
	}
	return TaskUnassigned
}

func ParseTaskStatus(raw string) (TaskStatus, error) {
	s := TaskStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("invalid task status %q", raw)
	}
	return s, nil
}

// TaskStatuses lists every task status.
func TaskStatuses() []TaskStatus {
	return []TaskStatus{TaskActive, TaskPaused, TaskRetired, TaskArchived, TaskUnassigned}
}
