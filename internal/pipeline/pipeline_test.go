package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/vigil/internal/audit"
	"github.com/ppiankov/vigil/internal/config"
	"github.com/ppiankov/vigil/internal/model"
)

const sampleRules = `
rules:
  - id: air_low_altitude
    when:
      domain: air
      source_type: radar
      condition: altitude_below
      threshold: 500
    then:
      category: airspace_violation
      severity: warning
      summary: Low-altitude track detected
`

const sampleScenario = `
sensor_readings:
  - id: r1
    sensor_id: radar_1
    domain: air
    source_type: radar
    ts_ms: 1000
    details:
      altitude_ft: 200
      track_id: trk_9
  - id: r2
    sensor_id: radar_1
    domain: air
    source_type: radar
    ts_ms: 2000
    details:
      altitude_ft: 900
      track_id: trk_9
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Pipeline.RulesConfig = writeFile(t, dir, "rules.yaml", sampleRules)
	return cfg
}

func auditKinds(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var kinds []string
	for _, line := range splitLines(data) {
		var entry struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatal(err)
		}
		kinds = append(kinds, entry.Kind)
	}
	return kinds
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	return lines
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	scenario := writeFile(t, dir, "scenario.yaml", sampleScenario)
	outDir := filepath.Join(dir, "out")

	res, err := Run(cfg, "", scenario, outDir)
	if err != nil {
		t.Fatal(err)
	}

	// Only the sub-threshold reading triggers the rule.
	if len(res.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(res.Events))
	}
	ev := res.Events[0]
	if ev.ID != "ev_r1_air_low_altitude" || ev.Category != "airspace_violation" || ev.Severity != model.SevWarning {
		t.Fatalf("event = %+v", ev)
	}

	if len(res.Tasks) != 1 || res.Tasks[0].Status != model.TaskApproved {
		t.Fatalf("tasks = %+v", res.Tasks)
	}
	if len(res.PendingTasks) != 0 {
		t.Fatalf("pending = %d", len(res.PendingTasks))
	}
	if len(res.Plan["air"]) != 1 {
		t.Fatalf("plan = %+v", res.Plan)
	}

	for _, key := range []string{"json", "audit", "metrics"} {
		if _, ok := res.Paths[key]; !ok {
			t.Fatalf("missing %q path in %v", key, res.Paths)
		}
	}

	wantKinds := []string{
		"run_start", "ingest_done", "fusion_done", "rules_done",
		"governance_events", "decision_done", "governance_tasks",
		"guardrails_done", "risk_budget_done", "partition",
		"autonomy_plan", "export_done", "run_end",
	}
	kinds := auditKinds(t, res.Paths["audit"])
	if len(kinds) != len(wantKinds) {
		t.Fatalf("audit kinds = %v", kinds)
	}
	for i, want := range wantKinds {
		if kinds[i] != want {
			t.Fatalf("audit kind[%d] = %q, want %q", i, kinds[i], want)
		}
	}

	if result := audit.Verify(res.Paths["audit"], ""); !result.Valid {
		t.Fatalf("audit chain invalid: %v", result.Error)
	}
}

func TestRunEventsJSONShape(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	scenario := writeFile(t, dir, "scenario.yaml", sampleScenario)

	res, err := Run(cfg, "", scenario, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(res.Paths["json"])
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		SchemaVersion string                     `json:"schema_version"`
		Events        []model.Event              `json:"events"`
		Tasks         []model.TaskRecommendation `json:"tasks"`
		PendingTasks  []model.TaskRecommendation `json:"pending_tasks"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.SchemaVersion != "0.1" || len(doc.Events) != 1 || len(doc.Tasks) != 1 {
		t.Fatalf("doc = %+v", doc)
	}
}

func TestRunGovernanceBlockDomain(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.Pipeline.Governance.BlockDomains = []string{"air"}
	scenario := writeFile(t, dir, "scenario.yaml", sampleScenario)

	res, err := Run(cfg, "", scenario, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 0 || len(res.Tasks) != 0 {
		t.Fatalf("blocked domain leaked: events=%d tasks=%d", len(res.Events), len(res.Tasks))
	}
}

func TestRunForbiddenActionAborts(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.Pipeline.Governance.ForbidActions = []string{"investigate"}
	scenario := writeFile(t, dir, "scenario.yaml", sampleScenario)
	outDir := filepath.Join(dir, "out")

	if _, err := Run(cfg, "", scenario, outDir); err == nil {
		t.Fatal("forbidden action must abort the run")
	}

	// The abort is recorded before the run returns.
	data, err := os.ReadFile(filepath.Join(outDir, AuditFileName))
	if err != nil {
		t.Fatal(err)
	}
	lines := splitLines(data)
	var last struct {
		Kind    string         `json:"kind"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(lines[len(lines)-1], &last); err != nil {
		t.Fatal(err)
	}
	if last.Kind != "governance_tasks" || last.Payload["forbidden_action"] != "investigate" {
		t.Fatalf("last audit record = %+v", last)
	}
}

func TestRunHumanLoopPending(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.Pipeline.HumanLoop.AutoApprove = false
	scenario := writeFile(t, dir, "scenario.yaml", sampleScenario)

	res, err := Run(cfg, "", scenario, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.PendingTasks) != 1 || res.PendingTasks[0].Status != model.TaskPendingApproval {
		t.Fatalf("pending = %+v", res.PendingTasks)
	}
	// Pending tasks live only in the pending partition.
	if len(res.Tasks) != 0 {
		t.Fatalf("tasks = %d, want 0: pending tasks must not appear in tasks", len(res.Tasks))
	}
	if len(res.Plan) != 0 {
		t.Fatalf("pending tasks must not be planned: %v", res.Plan)
	}

	data, err := os.ReadFile(res.Paths["json"])
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Tasks        []model.TaskRecommendation `json:"tasks"`
		PendingTasks []model.TaskRecommendation `json:"pending_tasks"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Tasks) != 0 || len(doc.PendingTasks) != 1 {
		t.Fatalf("exported tasks=%d pending=%d, want disjoint 0/1", len(doc.Tasks), len(doc.PendingTasks))
	}
}

func TestRunPerEventRateLimit(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.Pipeline.Guardrails.RateLimits.PerEvent = 1
	cfg.Pipeline.Infrastructure.Mappings = []config.InfraMapping{{
		Match: config.InfraMatch{Category: "airspace_violation", Domain: "air"},
		Tasks: []config.InfraTaskSpec{{
			Action:             "alert_crew",
			AssetID:            "tower_1",
			InfrastructureType: "notification",
			AssigneeDomain:     "air",
			Priority:           2,
		}},
	}}
	scenario := writeFile(t, dir, "scenario.yaml", sampleScenario)

	res, err := Run(cfg, "", scenario, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}
	// Primary and infra task share an event; the limit keeps the first.
	if len(res.Tasks) != 1 || res.Tasks[0].Action != "investigate" {
		t.Fatalf("tasks = %+v", res.Tasks)
	}
}

func TestRunRiskBudgetHold(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	limit := 0
	cfg.Pipeline.Guardrails.RiskBudgets = map[string]config.RiskBudget{
		"default": {CriticalLimit: &limit},
	}
	rules := `
rules:
  - id: air_critical
    when:
      domain: air
      source_type: radar
      condition: altitude_below
      threshold: 500
    then:
      category: airspace_violation
      severity: critical
      summary: Critical incursion
`
	cfg.Pipeline.RulesConfig = writeFile(t, dir, "rules_critical.yaml", rules)
	scenario := writeFile(t, dir, "scenario.yaml", sampleScenario)

	res, err := Run(cfg, "", scenario, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.PendingTasks) != 1 {
		t.Fatalf("pending = %+v", res.PendingTasks)
	}
	if len(res.Tasks) != 0 {
		t.Fatalf("held task leaked into tasks: %+v", res.Tasks)
	}
	held := res.PendingTasks[0]
	if held.Status != model.TaskRiskHold || held.HoldReason != "risk_budget_exceeded" {
		t.Fatalf("held task = %+v", held)
	}
	if held.HoldUntilEpoch == 0 {
		t.Fatal("hold_until_epoch not set")
	}
}

func TestRunSignedAuditChain(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.Pipeline.Audit.Secret = "audit-secret"
	cfg.Pipeline.Audit.RequireSigning = true
	scenario := writeFile(t, dir, "scenario.yaml", sampleScenario)

	res, err := Run(cfg, "", scenario, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}
	if result := audit.Verify(res.Paths["audit"], "audit-secret"); !result.Valid {
		t.Fatalf("signed chain invalid: %v", result.Error)
	}
	if result := audit.Verify(res.Paths["audit"], "wrong"); result.Valid {
		t.Fatal("wrong secret must fail verification")
	}
}

func TestRunNDJSONFeed(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	feed := writeFile(t, dir, "feed.ndjson", `{"id":"r1","sensor_id":"radar_1","domain":"air","source_type":"radar","ts_ms":1000,"details":{"altitude_ft":200}}
garbage line
`)
	res, err := Run(cfg, "", feed, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("events = %d", len(res.Events))
	}
}

func TestRunStixExport(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.Pipeline.Export.Formats = []string{"json", "stix", "jsonl"}
	scenario := writeFile(t, dir, "scenario.yaml", sampleScenario)

	res, err := Run(cfg, "", scenario, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"json", "stix", "jsonl"} {
		path, ok := res.Paths[key]
		if !ok {
			t.Fatalf("missing %q in %v", key, res.Paths)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("%s artifact missing: %v", key, err)
		}
	}
}
