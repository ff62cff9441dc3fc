package outbox

import (
	"encoding/json"

	"brigade/internal/domain"
)

// EventType names a kind of outbox event. Handlers are registered per type.
type EventType string

const (
	EventAggregateArchived EventType = "AggregateArchived"
)

// AggregateRole is the aggregate type written for role events.
const AggregateRole = "role"

// KnownEventTypes lists every event type the service emits.
func KnownEventTypes() []EventType {
	return []EventType{EventAggregateArchived}
}

// Event is the handler view of a claimed outbox row.
type Event struct {
	Seq           int64           `json:"seq"`
	ID            string          `json:"event_id"`
	Type          EventType       `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     string          `json:"created_at"`
	Attempts      int             `json:"attempts"`
}

func eventFromRow(row domain.OutboxEvent) Event {
	payload := json.RawMessage(row.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return Event{
		Seq:           row.Seq,
		ID:            row.EventID,
		Type:          EventType(row.EventType),
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       payload,
		CreatedAt:     row.CreatedAt,
		Attempts:      row.Attempts,
	}
}

// AggregateArchivedPayload is the body of an AggregateArchived event.
type AggregateArchivedPayload struct {
	PlaceholderID string            `json:"placeholder_id"`
	ActorID       string            `json:"actor_id"`
	Cascade       domain.Dependents `json:"cascade"`
}
