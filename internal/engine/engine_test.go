package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"slaline/internal/config"
	"slaline/internal/db"
	"slaline/internal/domain"
	"slaline/internal/engine"
	"slaline/internal/migrate"
	"slaline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("test-registry")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

// newSLAEnv seeds a client, a contract and one active SLA and returns the env
// plus the SLA.
func newSLAEnv(t *testing.T, target int64, comparator domain.Comparator) (testEnv, domain.SLA) {
	t.Helper()
	env := newTestEnv(t)
	client, err := env.Engine.RegisterClient(env.Ctx, "Acme", "ops@acme.example", "tester")
	if err != nil {
		t.Fatalf("register client: %v", err)
	}
	_, slas, err := env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		ClientID:    client.ID,
		ExternalID:  "ACME-2024",
		DocumentRef: "contracts/acme-2024.pdf",
		SLAs: []engine.SLADefinition{
			{Name: "p95 latency", Target: target, Comparator: comparator, WindowSeconds: 300},
		},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create contract: %v", err)
	}
	if len(slas) != 1 {
		t.Fatalf("expected 1 sla, got %d", len(slas))
	}
	return env, slas[0]
}

func TestRegisterClient(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.RegisterClient(env.Ctx, "Acme", "ops@acme.example", "tester")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if c.ID != 1 {
		t.Fatalf("first client id = %d, want 1", c.ID)
	}
	if !c.Active {
		t.Fatal("new client should be active")
	}
	c2, err := env.Engine.RegisterClient(env.Ctx, "Globex", "", "tester")
	if err != nil {
		t.Fatalf("register second: %v", err)
	}
	if c2.ID != 2 {
		t.Fatalf("second client id = %d, want 2", c2.ID)
	}
	if _, err := env.Engine.RegisterClient(env.Ctx, "", "", "tester"); err == nil {
		t.Fatal("empty name should be rejected")
	}
}

func TestCreateContractRequiresActiveClient(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		ClientID: 42,
		ActorID:  "tester",
	})
	if !errors.Is(err, engine.ErrInvalidReference) {
		t.Fatalf("missing client: got %v, want ErrInvalidReference", err)
	}
}

func TestCreateContractBatchSLAOrder(t *testing.T) {
	env := newTestEnv(t)
	client, err := env.Engine.RegisterClient(env.Ctx, "Acme", "", "tester")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, slas, err := env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		ClientID: client.ID,
		SLAs: []engine.SLADefinition{
			{Name: "first", Target: 1, Comparator: domain.CompLT},
			{Name: "second", Target: 2, Comparator: domain.CompGE},
			{Name: "third", Target: 3, Comparator: domain.CompEQ},
		},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create contract: %v", err)
	}
	if len(slas) != 3 {
		t.Fatalf("expected 3 slas, got %d", len(slas))
	}
	for i, s := range slas {
		if s.ID != int64(i+1) {
			t.Fatalf("sla %q id = %d, want %d", s.Name, s.ID, i+1)
		}
		if s.Status != domain.SLAActive {
			t.Fatalf("sla %q status = %s, want active", s.Name, s.Status)
		}
	}
}

func TestCreateContractRejectsBadComparatorAtomically(t *testing.T) {
	env := newTestEnv(t)
	client, err := env.Engine.RegisterClient(env.Ctx, "Acme", "", "tester")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, _, err = env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		ClientID: client.ID,
		SLAs: []engine.SLADefinition{
			{Name: "good", Target: 1, Comparator: domain.CompLT},
			{Name: "bad", Target: 2, Comparator: "between"},
		},
		ActorID: "tester",
	})
	if err == nil {
		t.Fatal("unknown comparator should be rejected")
	}
	contracts, err := env.Engine.Repo.ListContractsByClient(env.Ctx, client.ID)
	if err != nil {
		t.Fatalf("list contracts: %v", err)
	}
	if len(contracts) != 0 {
		t.Fatalf("failed batch left %d contracts behind", len(contracts))
	}
}

func TestAddSLARequiresExistingContract(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.AddSLA(env.Ctx, engine.SLACreateOptions{
		ContractID:    9,
		SLADefinition: engine.SLADefinition{Name: "x", Target: 1, Comparator: domain.CompLT},
		ActorID:       "tester",
	})
	if !errors.Is(err, engine.ErrInvalidReference) {
		t.Fatalf("missing contract: got %v, want ErrInvalidReference", err)
	}
}

func TestReportMetricPass(t *testing.T) {
	env, sla := newSLAEnv(t, 100, domain.CompLE)
	out, err := env.Engine.ReportMetric(env.Ctx, sla.ID, 80, "", "reporter-1")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !out.Passed {
		t.Fatal("80 <= 100 should pass")
	}
	if out.Alert != nil {
		t.Fatal("passing evaluation must not create an alert")
	}
	if out.SLA.TotalPass != 1 || out.SLA.TotalBreaches != 0 || out.SLA.ConsecutiveBreaches != 0 {
		t.Fatalf("counters after pass = %+v", out.SLA)
	}
	if out.SLA.LastReportAt == nil {
		t.Fatal("lastReportAt must be set after evaluation")
	}
}

func TestReportMetricBreachCreatesOpenAlert(t *testing.T) {
	env, sla := newSLAEnv(t, 100, domain.CompLE)
	out, err := env.Engine.ReportMetric(env.Ctx, sla.ID, 150, "latency spike", "reporter-1")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if out.Passed {
		t.Fatal("150 <= 100 should fail")
	}
	if out.Alert == nil {
		t.Fatal("failing evaluation must create an alert")
	}
	if out.Alert.Status != domain.AlertOpen {
		t.Fatalf("alert status = %s, want open", out.Alert.Status)
	}
	if out.Alert.Reason != "latency spike" {
		t.Fatalf("alert reason = %q", out.Alert.Reason)
	}
	if out.SLA.TotalBreaches != 1 || out.SLA.ConsecutiveBreaches != 1 || out.SLA.TotalPass != 0 {
		t.Fatalf("counters after breach = %+v", out.SLA)
	}
}

func TestConsecutiveBreachRunSemantics(t *testing.T) {
	env, sla := newSLAEnv(t, 24, domain.CompLE)

	// Acme response-time scenario: 20 passes, 36 breaches, 10 resets the run.
	out, err := env.Engine.ReportMetric(env.Ctx, sla.ID, 20, "", "r")
	if err != nil || !out.Passed {
		t.Fatalf("20 vs le 24: passed=%v err=%v", out.Passed, err)
	}
	out, err = env.Engine.ReportMetric(env.Ctx, sla.ID, 36, "", "r")
	if err != nil || out.Passed {
		t.Fatalf("36 vs le 24: passed=%v err=%v", out.Passed, err)
	}
	if out.SLA.ConsecutiveBreaches != 1 {
		t.Fatalf("consecutive = %d, want 1", out.SLA.ConsecutiveBreaches)
	}
	out, err = env.Engine.ReportMetric(env.Ctx, sla.ID, 36, "", "r")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if out.SLA.ConsecutiveBreaches != 2 {
		t.Fatalf("consecutive = %d, want 2", out.SLA.ConsecutiveBreaches)
	}
	out, err = env.Engine.ReportMetric(env.Ctx, sla.ID, 10, "", "r")
	if err != nil || !out.Passed {
		t.Fatalf("10 vs le 24: passed=%v err=%v", out.Passed, err)
	}
	if out.SLA.ConsecutiveBreaches != 0 {
		t.Fatalf("pass must reset consecutive run, got %d", out.SLA.ConsecutiveBreaches)
	}
	if out.SLA.TotalBreaches != 2 || out.SLA.TotalPass != 2 {
		t.Fatalf("totals = breaches %d pass %d, want 2/2", out.SLA.TotalBreaches, out.SLA.TotalPass)
	}

	// one alert per breach, never coalesced
	alerts, err := env.Engine.Repo.ListAlerts(env.Ctx, repo.AlertFilters{SLAID: sla.ID})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	for i, a := range alerts {
		if a.ID != int64(i+1) {
			t.Fatalf("alert ids not sequential: %d at position %d", a.ID, i)
		}
	}
}

func TestReportMetricRejectedWhilePaused(t *testing.T) {
	env, sla := newSLAEnv(t, 100, domain.CompLE)
	if _, err := env.Engine.PauseSLA(env.Ctx, sla.ID, "maintenance", "steward"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	_, err := env.Engine.ReportMetric(env.Ctx, sla.ID, 999, "", "r")
	if !errors.Is(err, engine.ErrSLANotActive) {
		t.Fatalf("report on paused sla: got %v, want ErrSLANotActive", err)
	}
	// a failing observation against a paused SLA leaves no trace
	got, err := env.Engine.Repo.GetSLA(env.Ctx, sla.ID)
	if err != nil {
		t.Fatalf("get sla: %v", err)
	}
	if got.TotalBreaches != 0 || got.ConsecutiveBreaches != 0 || got.LastReportAt != nil {
		t.Fatalf("paused sla mutated by rejected report: %+v", got)
	}
	alerts, err := env.Engine.Repo.ListAlerts(env.Ctx, repo.AlertFilters{SLAID: sla.ID})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("rejected report created %d alerts", len(alerts))
	}
}

func TestPauseResumeTransitions(t *testing.T) {
	env, sla := newSLAEnv(t, 100, domain.CompLE)

	if _, err := env.Engine.ResumeSLA(env.Ctx, sla.ID, "", "steward"); !errors.Is(err, engine.ErrSLANotPaused) {
		t.Fatalf("resume active: got %v, want ErrSLANotPaused", err)
	}
	s, err := env.Engine.PauseSLA(env.Ctx, sla.ID, "maintenance", "steward")
	if err != nil || s.Status != domain.SLAPaused {
		t.Fatalf("pause: status=%s err=%v", s.Status, err)
	}
	if _, err := env.Engine.PauseSLA(env.Ctx, sla.ID, "again", "steward"); !errors.Is(err, engine.ErrSLANotActive) {
		t.Fatalf("double pause: got %v, want ErrSLANotActive", err)
	}
	s, err = env.Engine.ResumeSLA(env.Ctx, sla.ID, "done", "steward")
	if err != nil || s.Status != domain.SLAActive {
		t.Fatalf("resume: status=%s err=%v", s.Status, err)
	}

	// counters survive the pause window untouched
	out, err := env.Engine.ReportMetric(env.Ctx, sla.ID, 50, "", "r")
	if err != nil || !out.Passed {
		t.Fatalf("report after resume: passed=%v err=%v", out.Passed, err)
	}
	if out.SLA.TotalPass != 1 {
		t.Fatalf("totalPass = %d, want 1", out.SLA.TotalPass)
	}
}

func TestUpdateSLATargetAppliesToPaused(t *testing.T) {
	env, sla := newSLAEnv(t, 100, domain.CompLE)
	if _, err := env.Engine.PauseSLA(env.Ctx, sla.ID, "", "steward"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	s, err := env.Engine.UpdateSLATarget(env.Ctx, sla.ID, 200, "renegotiated", "steward")
	if err != nil {
		t.Fatalf("update target: %v", err)
	}
	if s.Target != 200 {
		t.Fatalf("target = %d, want 200", s.Target)
	}
	if s.Status != domain.SLAPaused {
		t.Fatalf("target change must not touch status, got %s", s.Status)
	}
}

func TestUpdateSLAParams(t *testing.T) {
	env, sla := newSLAEnv(t, 100, domain.CompLE)
	s, err := env.Engine.UpdateSLAParams(env.Ctx, sla.ID, domain.CompLT, 600, "tighter", "steward")
	if err != nil {
		t.Fatalf("update params: %v", err)
	}
	if s.Comparator != domain.CompLT || s.WindowSeconds != 600 {
		t.Fatalf("params = %s/%d, want lt/600", s.Comparator, s.WindowSeconds)
	}
	if _, err := env.Engine.UpdateSLAParams(env.Ctx, sla.ID, "approx", 600, "", "steward"); err == nil {
		t.Fatal("unknown comparator should be rejected")
	}

	// new comparator takes effect on the next evaluation
	out, err := env.Engine.ReportMetric(env.Ctx, sla.ID, 100, "", "r")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if out.Passed {
		t.Fatal("100 < 100 should fail under lt")
	}
}

func TestAlertLifecycle(t *testing.T) {
	env, sla := newSLAEnv(t, 100, domain.CompLE)
	out, err := env.Engine.ReportMetric(env.Ctx, sla.ID, 150, "spike", "r")
	if err != nil || out.Alert == nil {
		t.Fatalf("breach: %v", err)
	}
	alertID := out.Alert.ID

	a, err := env.Engine.AcknowledgeAlert(env.Ctx, alertID, "oncall")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if a.Status != domain.AlertAcknowledged {
		t.Fatalf("status = %s, want acknowledged", a.Status)
	}
	if a.AcknowledgedBy == nil || *a.AcknowledgedBy != "oncall" {
		t.Fatalf("acknowledgedBy = %v", a.AcknowledgedBy)
	}
	if _, err := env.Engine.AcknowledgeAlert(env.Ctx, alertID, "oncall"); !errors.Is(err, engine.ErrAlertNotOpen) {
		t.Fatalf("double ack: got %v, want ErrAlertNotOpen", err)
	}

	a, err = env.Engine.ResolveAlert(env.Ctx, alertID, "oncall", "rolled back deploy")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if a.Status != domain.AlertResolved {
		t.Fatalf("status = %s, want resolved", a.Status)
	}
	if a.ResolvedBy == nil || *a.ResolvedBy != "oncall" {
		t.Fatalf("resolvedBy = %v", a.ResolvedBy)
	}
	if a.ResolutionNote == nil || *a.ResolutionNote != "rolled back deploy" {
		t.Fatalf("resolutionNote = %v", a.ResolutionNote)
	}

	// resolved is terminal
	if _, err := env.Engine.ResolveAlert(env.Ctx, alertID, "oncall", ""); !errors.Is(err, engine.ErrAlertNotResolvable) {
		t.Fatalf("re-resolve: got %v, want ErrAlertNotResolvable", err)
	}
	if _, err := env.Engine.AcknowledgeAlert(env.Ctx, alertID, "oncall"); !errors.Is(err, engine.ErrAlertNotOpen) {
		t.Fatalf("ack resolved: got %v, want ErrAlertNotOpen", err)
	}
}

func TestResolveAlertDirectlyFromOpen(t *testing.T) {
	env, sla := newSLAEnv(t, 100, domain.CompLE)
	out, err := env.Engine.ReportMetric(env.Ctx, sla.ID, 150, "", "r")
	if err != nil || out.Alert == nil {
		t.Fatalf("breach: %v", err)
	}
	a, err := env.Engine.ResolveAlert(env.Ctx, out.Alert.ID, "oncall", "transient")
	if err != nil {
		t.Fatalf("resolve open alert: %v", err)
	}
	if a.Status != domain.AlertResolved {
		t.Fatalf("status = %s, want resolved", a.Status)
	}
}

func TestUpdateContractDocument(t *testing.T) {
	env := newTestEnv(t)
	client, err := env.Engine.RegisterClient(env.Ctx, "Acme", "", "tester")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	contract, _, err := env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		ClientID:    client.ID,
		DocumentRef: "v1.pdf",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("create contract: %v", err)
	}
	updated, err := env.Engine.UpdateContractDocument(env.Ctx, contract.ID, "v2.pdf", "tester")
	if err != nil {
		t.Fatalf("update document: %v", err)
	}
	if updated.DocumentRef != "v2.pdf" {
		t.Fatalf("documentRef = %q, want v2.pdf", updated.DocumentRef)
	}
	if _, err := env.Engine.UpdateContractDocument(env.Ctx, 99, "x.pdf", "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing contract: got %v, want ErrNotFound", err)
	}
}

func TestEventLogOrdering(t *testing.T) {
	env, sla := newSLAEnv(t, 100, domain.CompLE)
	if _, err := env.Engine.ReportMetric(env.Ctx, sla.ID, 150, "", "r"); err != nil {
		t.Fatalf("report: %v", err)
	}
	evts, err := env.Engine.Repo.EventsAfter(env.Ctx, 100, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	// client.registered, contract.created, sla.created, metric.reported, sla.violated
	want := []string{"client.registered", "contract.created", "sla.created", "metric.reported", "sla.violated"}
	if len(evts) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(evts))
	}
	var prev int64
	for i, evt := range evts {
		if evt.Type != want[i] {
			t.Fatalf("event %d type = %s, want %s", i, evt.Type, want[i])
		}
		if evt.ID <= prev {
			t.Fatalf("event ids not strictly increasing: %d after %d", evt.ID, prev)
		}
		prev = evt.ID
	}
}
