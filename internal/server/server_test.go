package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"brigade/internal/app"
	"brigade/internal/config"
	"brigade/internal/domain"
	"brigade/internal/repo"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	App    *app.App
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	return newTestServerWithConfig(t, config.Default())
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config) (*testServer, func()) {
	t.Helper()
	a, err := app.Open(t.TempDir(), cfg, nil)
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	handler, err := New(Config{
		Engine:   a.Engine,
		Relay:    a.Relay,
		BasePath: "/v0",
		Metrics:  a.Metrics,
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		App:    a,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			a.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

var asAdmin = map[string]string{"X-Actor-Id": "admin"}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope %s: %v", string(data), err)
	}
	return env.Error.Code
}

func TestArchiveRoleEndToEnd(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0"

	res, data := doJSON(t, client, http.MethodPost, base+"/roles", map[string]any{"id": "ops", "name": "Operations"}, asAdmin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create role: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/tasks", map[string]any{"title": "Rotate keys", "role_id": "ops"}, asAdmin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/roles/ops/users", map[string]any{"user_id": "alice"}, asAdmin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("link user: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/roles/ops/archive", nil, asAdmin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("archive: %d %s", res.StatusCode, string(data))
	}
	var archived ArchiveResponse
	if err := json.Unmarshal(data, &archived); err != nil {
		t.Fatalf("decode archive: %v", err)
	}
	if archived.PlaceholderID != domain.PlaceholderRoleID || archived.Cascade.Tasks != 1 || archived.Cascade.UserLinks != 1 {
		t.Fatalf("unexpected archive response: %+v", archived)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/roles/ops/archive", nil, asAdmin)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "role_not_archivable" {
		t.Fatalf("second archive: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, base+"/roles/ops", map[string]any{"status": "active"}, asAdmin)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "role_archived" {
		t.Fatalf("reactivate: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/roles/"+domain.PlaceholderRoleID+"/archive", nil, asAdmin)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("archive placeholder: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/outbox?pending=true", nil, asAdmin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list outbox: %d %s", res.StatusCode, string(data))
	}
	var pending []OutboxEventResponse
	_ = json.Unmarshal(data, &pending)
	if len(pending) != 1 || pending[0].EventID != archived.EventID {
		t.Fatalf("pending = %+v", pending)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/relay/tick", nil, asAdmin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("tick: %d %s", res.StatusCode, string(data))
	}
	var tick TickResponse
	_ = json.Unmarshal(data, &tick)
	if tick.Processed != 1 || tick.Error != "" {
		t.Fatalf("tick = %+v", tick)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/audit?limit=1", nil, asAdmin)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "archived role") {
		t.Fatalf("audit: %d %s", res.StatusCode, string(data))
	}
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0"

	res, _ := doJSON(t, client, http.MethodGet, base+"/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be public: %d", res.StatusCode)
	}
	res, data := doJSON(t, client, http.MethodGet, base+"/roles", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("anonymous: %d %s", res.StatusCode, string(data))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "jwt-actor",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/roles", map[string]any{"name": "Support"}, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("jwt create: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/roles", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("bad jwt: %d %s", res.StatusCode, string(data))
	}

	key := "brg_test_key"
	if err := srv.App.Engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{ID: "k1", ActorID: "key-actor", Name: "ci", KeyHash: repo.HashAPIKey(key)}); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/audit", nil, map[string]string{"X-Api-Key": key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key: %d %s", res.StatusCode, string(data))
	}
	var audit []domain.AuditEntry
	_ = json.Unmarshal(data, &audit)
	if len(audit) == 0 || audit[0].ActorID != "jwt-actor" {
		t.Fatalf("audit should record the jwt subject: %+v", audit)
	}
}

func TestValidationAndMetrics(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0"

	res, data := doJSON(t, client, http.MethodPost, base+"/roles", nil, asAdmin)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty body: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/roles/missing", nil, asAdmin)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("missing role: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/roles?status=bogus", nil, asAdmin)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad status filter: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "brigade_outbox_backlog") {
		t.Fatalf("metrics: %d", res.StatusCode)
	}
}

func TestRelayTickWhenDisabled(t *testing.T) {
	cfg := config.Default()
	disabled := false
	cfg.Relay.Enabled = &disabled
	srv, cleanup := newTestServerWithConfig(t, cfg)
	defer cleanup()
	base := srv.URL + "/v0"

	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/relay/tick", nil, asAdmin)
	if res.StatusCode != http.StatusServiceUnavailable || errorCode(t, data) != "relay_disabled" {
		t.Fatalf("tick on disabled relay: %d %s", res.StatusCode, string(data))
	}
}

func TestOpenAPIServedConcurrently(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	url := srv.URL + "/v0/openapi.json"

	const n = 8
	bodies := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(url)
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			b, err := io.ReadAll(res.Body)
			bodies[i], errs[i] = string(b), err
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if bodies[i] == "" || bodies[i] != bodies[0] {
			t.Fatalf("request %d returned a different document", i)
		}
	}
	if !strings.Contains(bodies[0], "bearerAuth") {
		t.Fatalf("openapi document lacks security schemes")
	}
}
