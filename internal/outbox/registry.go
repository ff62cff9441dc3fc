package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Handler processes one event. A returned error aborts the whole batch.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Typed decodes the event payload into P before calling fn.
func Typed[P any](fn func(ctx context.Context, ev Event, payload P) error) Handler {
	return HandlerFunc(func(ctx context.Context, ev Event) error {
		var payload P
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", ev.Type, err)
		}
		return fn(ctx, ev, payload)
	})
}

// Chain runs handlers in order and stops at the first error.
func Chain(handlers ...Handler) Handler {
	return HandlerFunc(func(ctx context.Context, ev Event) error {
		for _, h := range handlers {
			if h == nil {
				continue
			}
			if err := h.Handle(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// Registry maps event types to their handler. At most one handler per type.
type Registry struct {
	mu       sync.RWMutex
	handlers map[EventType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[EventType]Handler{}}
}

func (r *Registry) Register(eventType EventType, h Handler) error {
	if r == nil {
		return ErrRegistryRequired
	}
	eventType = EventType(strings.TrimSpace(string(eventType)))
	if eventType == "" {
		return ErrEventTypeRequired
	}
	if h == nil {
		return ErrHandlerRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = map[EventType]Handler{}
	}
	if _, exists := r.handlers[eventType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, eventType)
	}
	r.handlers[eventType] = h
	return nil
}

func (r *Registry) Lookup(eventType EventType) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[eventType]
	return h, ok
}

// Types returns the registered event types, sorted.
func (r *Registry) Types() []EventType {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]EventType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Missing returns the known event types that have no handler.
func (r *Registry) Missing() []EventType {
	var missing []EventType
	for _, t := range KnownEventTypes() {
		if _, ok := r.Lookup(t); !ok {
			missing = append(missing, t)
		}
	}
	return missing
}
