package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"brigade/internal/config"
)

const defaultWebhookTimeout = 5 * time.Second

type webhookTarget struct {
	url     string
	secret  string
	timeout time.Duration
	filter  eventFilter
}

// WebhookHandler posts each event to the configured endpoints. A non-2xx reply
// fails the handler so the batch is retried; receivers dedupe on the
// X-Brigade-Delivery header, which carries the event id.
type WebhookHandler struct {
	targets []webhookTarget
	client  *http.Client
}

// NewWebhookHandler returns nil when no webhook is enabled.
func NewWebhookHandler(hooks []config.WebhookConfig, client *http.Client) *WebhookHandler {
	if client == nil {
		client = &http.Client{}
	}
	var targets []webhookTarget
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		timeout := defaultWebhookTimeout
		if hook.TimeoutSeconds > 0 {
			timeout = time.Duration(hook.TimeoutSeconds) * time.Second
		}
		targets = append(targets, webhookTarget{
			url:     hook.URL,
			secret:  strings.TrimSpace(hook.Secret),
			timeout: timeout,
			filter:  newEventFilter(hook.Events),
		})
	}
	if len(targets) == 0 {
		return nil
	}
	return &WebhookHandler{targets: targets, client: client}
}

type webhookBody struct {
	EventID       string          `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	CreatedAt     string          `json:"created_at"`
	Payload       json.RawMessage `json:"payload"`
}

func (h *WebhookHandler) Handle(ctx context.Context, ev Event) error {
	body, err := json.Marshal(webhookBody{
		EventID:       ev.ID,
		EventType:     ev.Type,
		AggregateType: ev.AggregateType,
		AggregateID:   ev.AggregateID,
		CreatedAt:     ev.CreatedAt,
		Payload:       ev.Payload,
	})
	if err != nil {
		return err
	}
	for _, target := range h.targets {
		if !target.filter.match(string(ev.Type)) {
			continue
		}
		if err := h.post(ctx, target, ev, body); err != nil {
			return fmt.Errorf("webhook %s: %w", target.url, err)
		}
	}
	return nil
}

func (h *WebhookHandler) post(ctx context.Context, target webhookTarget, ev Event, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, target.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Brigade-Event", string(ev.Type))
	req.Header.Set("X-Brigade-Delivery", ev.ID)
	if target.secret != "" {
		req.Header.Set("X-Brigade-Secret", target.secret)
	}
	res, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
