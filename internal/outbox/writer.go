package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"brigade/internal/domain"
	"brigade/internal/repo"
)

// Message describes an event to enqueue. EventID is generated when empty.
type Message struct {
	EventType     EventType
	AggregateType string
	AggregateID   string
	Payload       any
	EventID       string
}

// Writer appends events to the outbox inside the caller's transaction. It
// never begins, commits or rolls back.
type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

// Enqueue inserts msg as a pending event and returns its id.
func (w Writer) Enqueue(ctx context.Context, tx *sql.Tx, msg Message) (string, error) {
	if tx == nil {
		return "", ErrTxRequired
	}
	switch {
	case strings.TrimSpace(string(msg.EventType)) == "":
		return "", fmt.Errorf("%w: event type required", ErrInvalidMessage)
	case strings.TrimSpace(msg.AggregateType) == "":
		return "", fmt.Errorf("%w: aggregate type required", ErrInvalidMessage)
	case strings.TrimSpace(msg.AggregateID) == "":
		return "", fmt.Errorf("%w: aggregate id required", ErrInvalidMessage)
	}
	now := w.Now
	if now == nil {
		now = time.Now
	}
	payload := []byte(`{}`)
	if msg.Payload != nil {
		data, err := json.Marshal(msg.Payload)
		if err != nil {
			return "", fmt.Errorf("marshal outbox payload: %w", err)
		}
		payload = data
	}
	id := msg.EventID
	if id == "" {
		id = uuid.NewString()
	}
	err := w.Repo.InsertOutboxEvent(ctx, tx, domain.OutboxEvent{
		EventID:       id,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     string(msg.EventType),
		Payload:       string(payload),
		CreatedAt:     domain.FormatTime(now()),
	})
	if err != nil {
		return "", fmt.Errorf("insert outbox event: %w", err)
	}
	return id, nil
}
