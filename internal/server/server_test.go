package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"slaline/internal/app"
	"slaline/internal/config"
	"slaline/internal/db"
	"slaline/internal/engine"
	"slaline/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var actorHeader = map[string]string{"X-Actor-Id": "tester"}

func newTestServer(t *testing.T, cfg *config.Config) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	if cfg == nil {
		cfg = config.Default("test-registry")
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := app.ResolveConfig(context.Background(), workspace, "tester", e.Repo); err != nil {
		t.Fatalf("seed registry: %v", err)
	}
	e.Config = cfg
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              cfg.Auth.JWTSecret,
			AllowLegacyActorHeader: true,
		},
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
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

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
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestBreachRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/clients", map[string]any{
		"name":      "Acme",
		"owner_ref": "ops@acme.example",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register client: %d %s", res.StatusCode, string(data))
	}
	var created ClientResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal client: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/contracts", map[string]any{
		"client_id":    created.ID,
		"external_id":  "ACME-2024",
		"document_ref": "contracts/acme.pdf",
		"slas": []map[string]any{
			{"name": "response time", "target": 24, "comparator": "le", "window_seconds": 300},
		},
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create contract: %d %s", res.StatusCode, string(data))
	}
	var contractOut struct {
		Contract ContractResponse `json:"contract"`
		SLAs     []SLAResponse    `json:"slas"`
	}
	if err := json.Unmarshal(data, &contractOut); err != nil {
		t.Fatalf("unmarshal contract: %v", err)
	}
	if len(contractOut.SLAs) != 1 {
		t.Fatalf("expected 1 sla, got %d", len(contractOut.SLAs))
	}
	slaID := contractOut.SLAs[0].ID

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/slas/"+itoa(slaID)+"/report", map[string]any{
		"observed": 36,
		"note":     "slow responses",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("report: %d %s", res.StatusCode, string(data))
	}
	var eval EvaluationResponse
	if err := json.Unmarshal(data, &eval); err != nil {
		t.Fatalf("unmarshal evaluation: %v", err)
	}
	if eval.Passed {
		t.Fatal("36 vs le 24 should breach")
	}
	if eval.Alert == nil || eval.Alert.Status != "open" {
		t.Fatalf("expected open alert, got %+v", eval.Alert)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/alerts/"+itoa(eval.Alert.ID)+"/ack", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ack: %d %s", res.StatusCode, string(data))
	}
	var alert AlertResponse
	_ = json.Unmarshal(data, &alert)
	if alert.Status != "acknowledged" {
		t.Fatalf("alert status = %s, want acknowledged", alert.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/alerts/"+itoa(eval.Alert.ID)+"/resolve", map[string]any{
		"resolution_note": "rolled back deploy",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &alert)
	if alert.Status != "resolved" {
		t.Fatalf("alert status = %s, want resolved", alert.Status)
	}
}

func TestErrorEnvelopeCodes(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/slas/999", nil, actorHeader)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("missing sla: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/contracts", map[string]any{
		"client_id": 999,
	}, actorHeader)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "invalid_reference" {
		t.Fatalf("contract under missing client: %d %s", res.StatusCode, string(data))
	}

	// seed a client/contract/sla, pause it, then report
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/clients", map[string]any{"name": "Acme"}, actorHeader)
	var c ClientResponse
	_ = json.Unmarshal(data, &c)
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/contracts", map[string]any{
		"client_id": c.ID,
		"slas":      []map[string]any{{"name": "uptime", "target": 99, "comparator": "ge"}},
	}, actorHeader)
	var out struct {
		SLAs []SLAResponse `json:"slas"`
	}
	_ = json.Unmarshal(data, &out)
	slaID := out.SLAs[0].ID

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/slas/"+itoa(slaID)+"/pause", map[string]any{"reason": "maintenance"}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pause: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/slas/"+itoa(slaID)+"/report", map[string]any{"observed": 10}, actorHeader)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "sla_not_active" {
		t.Fatalf("report on paused: %d %s", res.StatusCode, string(data))
	}

	// no auth at all
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/slas", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated: %d %s", res.StatusCode, string(data))
	}
}

func TestCapabilityForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	// "outsider" has no role grants
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/clients", map[string]any{
		"name": "Acme",
	}, map[string]string{"X-Actor-Id": "outsider"})
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("uncapable actor: %d %s", res.StatusCode, string(data))
	}
}

func TestReporterRoleCoversMetricReports(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	ctx := context.Background()
	tx, err := srv.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if err := srv.Engine.Repo.EnsureActor(ctx, tx, "rep-1", now); err != nil {
		t.Fatalf("ensure actor: %v", err)
	}
	if err := srv.Engine.Repo.AssignRole(ctx, tx, "rep-1", "reporter"); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	asReporter := map[string]string{"X-Actor-Id": "rep-1"}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/clients", map[string]any{"name": "Acme"}, asReporter)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register client as reporter: %d %s", res.StatusCode, string(data))
	}
	var c ClientResponse
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal client: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/contracts", map[string]any{
		"client_id": c.ID,
		"slas":      []map[string]any{{"name": "response time", "target": 24, "comparator": "le"}},
	}, asReporter)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create contract as reporter: %d %s", res.StatusCode, string(data))
	}
	var out struct {
		SLAs []SLAResponse `json:"slas"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal contract: %v", err)
	}
	slaID := out.SLAs[0].ID

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/slas/"+itoa(slaID)+"/report", map[string]any{"observed": 36}, asReporter)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("report as reporter: %d %s", res.StatusCode, string(data))
	}
	var eval EvaluationResponse
	if err := json.Unmarshal(data, &eval); err != nil {
		t.Fatalf("unmarshal evaluation: %v", err)
	}
	if eval.Alert == nil {
		t.Fatal("36 vs le 24 should open an alert")
	}

	// reporter holds registration only; novelties and alert work stay out of reach
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/slas/"+itoa(slaID)+"/pause", map[string]any{"reason": "maintenance"}, asReporter)
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("pause as reporter: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/alerts/"+itoa(eval.Alert.ID)+"/ack", nil, asReporter)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("ack as reporter: %d %s", res.StatusCode, string(data))
	}
}

func TestDevLoginJWT(t *testing.T) {
	cfg := config.Default("test-registry")
	cfg.Auth.JWTSecret = "test-secret"
	srv, cleanup := newTestServer(t, cfg)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id":     "jwt-user",
		"capabilities": []string{"registration"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	auth := map[string]string{"Authorization": "Bearer " + login.Token}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/clients", map[string]any{"name": "Acme"}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register with token: %d %s", res.StatusCode, string(data))
	}
	var c ClientResponse
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal client: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/contracts", map[string]any{
		"client_id": c.ID,
		"slas":      []map[string]any{{"name": "latency-p99", "target": 24, "comparator": "le"}},
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create contract with token: %d %s", res.StatusCode, string(data))
	}

	// reporting belongs to the registration class
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/slas/1/report", map[string]any{"observed": 36}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("report with registration cap: %d %s", res.StatusCode, string(data))
	}

	// token carries registration only; working alerts needs operations
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/alerts/1/ack", nil, auth)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("ack without operations cap: %d %s", res.StatusCode, string(data))
	}
	if errorCode(t, data) != "forbidden" {
		t.Fatalf("ack error code: %s", string(data))
	}
}

func TestWebhookDelivery(t *testing.T) {
	var mu sync.Mutex
	var received []string
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received = append(received, r.Header.Get("X-Slaline-Event"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	cfg := config.Default("test-registry")
	cfg.Webhooks = []config.WebhookConfig{
		{URL: receiver.URL, Events: []string{"sla.violated"}, TimeoutSeconds: 2},
	}
	srv, cleanup := newTestServer(t, cfg)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/clients", map[string]any{"name": "Acme"}, actorHeader)
	var c ClientResponse
	_ = json.Unmarshal(data, &c)
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/contracts", map[string]any{
		"client_id": c.ID,
		"slas":      []map[string]any{{"name": "uptime", "target": 99, "comparator": "ge"}},
	}, actorHeader)
	var out struct {
		SLAs []SLAResponse `json:"slas"`
	}
	_ = json.Unmarshal(data, &out)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/slas/"+itoa(out.SLAs[0].ID)+"/report", map[string]any{"observed": 80}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("report: %d %s", res.StatusCode, string(data))
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("webhook never delivered")
		}
		time.Sleep(100 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, evt := range received {
		if evt != "sla.violated" {
			t.Fatalf("unexpected event delivered: %s", evt)
		}
	}
}

func itoa(id int64) string {
	return fmt.Sprintf("%d", id)
}
