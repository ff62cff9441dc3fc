package domain

import "time"

// TimeLayout is the fixed-width UTC layout used for every persisted timestamp so
// that lexical order equals chronological order in both dialects.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

type Role struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     RoleStatus `json:"status" enum:"active,deprecated,archived"`
	CreatedAt  string     `json:"created_at" format:"date-time"`
	UpdatedAt  string     `json:"updated_at" format:"date-time"`
	ArchivedAt *string    `json:"archived_at,omitempty" format:"date-time"`
}

type Task struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	RoleID    string     `json:"role_id"`
	Status    TaskStatus `json:"status" enum:"active,paused,retired,archived,unassigned"`
	CreatedAt string     `json:"created_at" format:"date-time"`
	UpdatedAt string     `json:"updated_at" format:"date-time"`
}

type UserRole struct {
	UserID string `json:"user_id"`
	RoleID string `json:"role_id"`
}

type RolePhase struct {
	RoleID  string `json:"role_id"`
	PhaseID string `json:"phase_id"`
}

type LogAssignment struct {
	ID         string `json:"id"`
	RoleID     string `json:"role_id"`
	FormID     string `json:"form_id"`
	Recurrence string `json:"recurrence,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// Dependents counts the rows referencing a role, per dependent table.
type Dependents struct {
	Tasks          int64 `json:"tasks"`
	UserLinks      int64 `json:"user_links"`
	PhaseLinks     int64 `json:"phase_links"`
	LogAssignments int64 `json:"log_assignments"`
}

func (d Dependents) Total() int64 {
	return d.Tasks + d.UserLinks + d.PhaseLinks + d.LogAssignments
}

type AuditEntry struct {
	ID        int64  `json:"id"`
	ActorID   string `json:"actor_id"`
	Action    string `json:"action"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// OutboxEvent is a persisted outbox row.
type OutboxEvent struct {
	Seq           int64   `json:"seq"`
	EventID       string  `json:"event_id"`
	AggregateType string  `json:"aggregate_type"`
	AggregateID   string  `json:"aggregate_id"`
	EventType     string  `json:"event_type"`
	Payload       string  `json:"payload_json"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	ProcessedAt   *string `json:"processed_at,omitempty" format:"date-time"`
	Attempts      int     `json:"attempts"`
	LastError     string  `json:"last_error,omitempty"`
	QuarantinedAt *string `json:"quarantined_at,omitempty" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
