package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"slaline/internal/app"
	"slaline/internal/config"
	"slaline/internal/db"
	"slaline/internal/engine"
	"slaline/internal/migrate"
	"slaline/internal/server"
)

// Smoke tool: boots a registry in /tmp, reports a breaching metric over HTTP
// and prints the evaluation response.
func main() {
	workspace := "/tmp/slaline-check"
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		panic(err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		panic(err)
	}
	cfg := config.Default("slaline-check")
	e := engine.New(conn, cfg)
	if _, err := app.ResolveConfig(context.Background(), workspace, "tester", e.Repo); err != nil {
		panic(err)
	}
	h, err := server.New(server.Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     server.AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()

	client, err := e.RegisterClient(context.Background(), "Acme", "", "tester")
	if err != nil {
		panic(err)
	}
	contract, slas, err := e.CreateContract(context.Background(), engine.ContractCreateOptions{
		ClientID: client.ID,
		SLAs: []engine.SLADefinition{
			{Name: "response time", Target: 24, Comparator: "le", WindowSeconds: 300},
		},
		ActorID: "tester",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("contract=%d sla=%d\n", contract.ID, slas[0].ID)

	body, _ := json.Marshal(map[string]any{"observed": 36, "note": "spike"})
	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/v0/slas/%d/report", ts.URL, slas[0].ID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	defer res.Body.Close()
	var resp any
	_ = json.NewDecoder(res.Body).Decode(&resp)
	fmt.Printf("status=%d resp=%v\n", res.StatusCode, resp)
}
