package outbox

import (
	"errors"
	"fmt"
)

var (
	ErrTxRequired               = errors.New("outbox write requires a caller-owned transaction")
	ErrInvalidMessage           = errors.New("invalid outbox message")
	ErrEventTypeRequired        = errors.New("event type is required")
	ErrHandlerRequired          = errors.New("event handler is required")
	ErrHandlerAlreadyRegistered = errors.New("event handler already registered")
	ErrRegistryRequired         = errors.New("handler registry is required")
	ErrRelayRunning             = errors.New("outbox relay is already running")
	ErrTickInProgress           = errors.New("outbox relay tick already in progress")
	ErrRelayDisabled            = errors.New("outbox relay is disabled")
)

// HandlerError reports the event whose handler aborted a batch.
type HandlerError struct {
	EventID   string
	EventType EventType
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %s event %s: %v", e.EventType, e.EventID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
