package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"brigade/internal/domain"
	"brigade/internal/engine"
	"brigade/internal/outbox"
	"brigade/internal/repo"
)

func registerOutbox(api huma.API, e engine.Engine, relay *outbox.Relay) {
	huma.Register(api, huma.Operation{
		OperationID: "list-outbox",
		Method:      http.MethodGet,
		Path:        "/outbox",
		Summary:     "List outbox events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Pending     bool   `query:"pending"`
		AggregateID string `query:"aggregate_id"`
		EventType   string `query:"event_type"`
		Limit       int    `query:"limit" minimum:"0" maximum:"1000"`
	}) (*struct {
		Body []OutboxEventResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListOutbox(ctx, repo.OutboxFilters{
			PendingOnly: input.Pending,
			AggregateID: input.AggregateID,
			EventType:   input.EventType,
			Limit:       input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []OutboxEventResponse `json:"body"`
		}{Body: mapOutbox(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-outbox-event",
		Method:      http.MethodGet,
		Path:        "/outbox/{event_id}",
		Summary:     "Get outbox event",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*struct {
		Body OutboxEventResponse `json:"body"`
	}, error) {
		ev, err := e.Repo.GetOutboxEvent(ctx, input.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OutboxEventResponse `json:"body"`
		}{Body: OutboxEventResponse{OutboxEvent: ev}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "requeue-outbox-event",
		Method:      http.MethodPost,
		Path:        "/outbox/{event_id}/requeue",
		Summary:     "Release a quarantined event back to the relay",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*struct {
		Body OutboxEventResponse `json:"body"`
	}, error) {
		if relay == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "relay_unavailable", "outbox relay not configured", nil)
		}
		if err := relay.Requeue(ctx, input.EventID); err != nil {
			return nil, handleError(err)
		}
		ev, err := e.Repo.GetOutboxEvent(ctx, input.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OutboxEventResponse `json:"body"`
		}{Body: OutboxEventResponse{OutboxEvent: ev}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "relay-tick",
		Method:      http.MethodPost,
		Path:        "/relay/tick",
		Summary:     "Process one outbox batch now",
		Description: "A handler failure rolls the batch back; the response reports the failing event.",
		Errors:      []int{http.StatusConflict, http.StatusServiceUnavailable, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TickResponse `json:"body"`
	}, error) {
		if relay == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "relay_unavailable", "outbox relay not configured", nil)
		}
		res, err := relay.Tick(ctx)
		var herr *outbox.HandlerError
		if errors.As(err, &herr) {
			return &struct {
				Body TickResponse `json:"body"`
			}{Body: TickResponse{BatchResult: res, Error: herr.Err.Error(), EventID: herr.EventID}}, nil
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TickResponse `json:"body"`
		}{Body: TickResponse{BatchResult: res}}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Latest audit entries",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" maximum:"1000"`
	}) (*struct {
		Body []domain.AuditEntry `json:"body"`
	}, error) {
		entries, err := e.Repo.LatestAudit(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AuditEntry `json:"body"`
		}{Body: entries}, nil
	})
}
