package outbox

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brigade/internal/config"
)

func TestWebhookHandlerPostsEvent(t *testing.T) {
	var (
		gotHeaders http.Header
		gotBody    webhookBody
		status     = http.StatusOK
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	disabled := false
	h := NewWebhookHandler([]config.WebhookConfig{
		{URL: srv.URL, Secret: "s3cret", Events: []string{string(EventAggregateArchived)}},
		{URL: "http://127.0.0.1:1/never", Enabled: &disabled},
	}, srv.Client())
	require.NotNil(t, h)

	ev := Event{ID: "evt-1", Type: EventAggregateArchived, AggregateType: "role", AggregateID: "r1", Payload: []byte(`{"actor_id":"a"}`)}
	require.NoError(t, h.Handle(context.Background(), ev))
	assert.Equal(t, "evt-1", gotHeaders.Get("X-Brigade-Delivery"))
	assert.Equal(t, "AggregateArchived", gotHeaders.Get("X-Brigade-Event"))
	assert.Equal(t, "s3cret", gotHeaders.Get("X-Brigade-Secret"))
	assert.Equal(t, "r1", gotBody.AggregateID)
	assert.JSONEq(t, `{"actor_id":"a"}`, string(gotBody.Payload))

	status = http.StatusBadGateway
	require.Error(t, h.Handle(context.Background(), ev))

	// Filtered-out event types are not posted.
	gotHeaders = nil
	require.NoError(t, h.Handle(context.Background(), Event{ID: "evt-2", Type: "Other", Payload: []byte(`{}`)}))
	assert.Nil(t, gotHeaders)
}

func TestNewWebhookHandlerNilWhenNoTargets(t *testing.T) {
	assert.Nil(t, NewWebhookHandler(nil, nil))
}

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, nil, nil))
	require.Empty(t, reg.Missing())
	require.Error(t, RegisterBuiltins(reg, nil, nil))
}
