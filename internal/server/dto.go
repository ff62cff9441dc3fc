package server

import (
	"brigade/internal/domain"
	"brigade/internal/engine"
	"brigade/internal/outbox"
)

// Request payloads

type CreateRoleRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name" minLength:"1"`
}

type UpdateRoleRequest struct {
	Status string `json:"status" enum:"active,deprecated"`
}

type CreateTaskRequest struct {
	ID     string `json:"id,omitempty"`
	Title  string `json:"title" minLength:"1"`
	RoleID string `json:"role_id" minLength:"1"`
	Status string `json:"status,omitempty" enum:"active,paused,retired,archived,unassigned"`
}

type SetTaskStatusRequest struct {
	Status string `json:"status" enum:"active,paused,retired,archived,unassigned"`
}

type LinkUserRequest struct {
	UserID string `json:"user_id" minLength:"1"`
}

type LinkPhaseRequest struct {
	PhaseID string `json:"phase_id" minLength:"1"`
}

type AddLogAssignmentRequest struct {
	FormID     string `json:"form_id" minLength:"1"`
	Recurrence string `json:"recurrence,omitempty"`
}

// Response payloads

type RoleResponse struct {
	domain.Role
	Dependents *domain.Dependents `json:"dependents,omitempty"`
}

type ArchiveResponse struct {
	ArchivedID    string            `json:"archived_id"`
	PlaceholderID string            `json:"placeholder_id"`
	EventID       string            `json:"event_id"`
	Cascade       domain.Dependents `json:"cascade"`
}

func archiveResponse(res engine.ArchiveResult) ArchiveResponse {
	return ArchiveResponse{
		ArchivedID:    res.ArchivedID,
		PlaceholderID: res.PlaceholderID,
		EventID:       res.EventID,
		Cascade:       res.Cascade,
	}
}

type LinkResponse struct {
	RoleID  string `json:"role_id"`
	LinkID  string `json:"link_id"`
	Created bool   `json:"created"`
}

type TickResponse struct {
	outbox.BatchResult
	Error   string `json:"error,omitempty"`
	EventID string `json:"failed_event_id,omitempty"`
}

type OutboxEventResponse struct {
	domain.OutboxEvent
}

func mapOutbox(items []domain.OutboxEvent) []OutboxEventResponse {
	out := make([]OutboxEventResponse, 0, len(items))
	for _, it := range items {
		out = append(out, OutboxEventResponse{OutboxEvent: it})
	}
	return out
}
