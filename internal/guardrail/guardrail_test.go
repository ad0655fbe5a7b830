package guardrail

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/vigil/internal/config"
	"github.com/ppiankov/vigil/internal/model"
	"github.com/ppiankov/vigil/internal/riskstore"
)

func task(id, eventID, domain, assetID string) model.TaskRecommendation {
	return model.TaskRecommendation{
		ID:             id,
		EventID:        eventID,
		Action:         "investigate",
		AssigneeDomain: domain,
		AssetID:        assetID,
		Status:         model.TaskApproved,
		Tenant:         "default",
	}
}

func checkConservation(t *testing.T, input []model.TaskRecommendation, kept []model.TaskRecommendation, dropped map[string]int) {
	t.Helper()
	sum := len(kept)
	for _, n := range dropped {
		sum += n
	}
	if sum != len(input) {
		t.Fatalf("conservation violated: kept=%d dropped=%v input=%d", len(kept), dropped, len(input))
	}
}

func TestRateLimitTotal(t *testing.T) {
	input := []model.TaskRecommendation{
		task("t1", "e1", "air", ""),
		task("t2", "e2", "sea", ""),
		task("t3", "e3", "land", ""),
	}
	kept, dropped := ApplyRateLimits(input, config.RateLimits{Total: 2})
	if len(kept) != 2 || dropped[DropTotal] != 1 {
		t.Fatalf("kept=%d dropped=%v", len(kept), dropped)
	}
	if kept[0].ID != "t1" || kept[1].ID != "t2" {
		t.Fatal("admission must preserve input order")
	}
	checkConservation(t, input, kept, dropped)
}

func TestRateLimitPerEvent(t *testing.T) {
	input := []model.TaskRecommendation{
		task("t1", "e1", "air", ""),
		task("t2", "e1", "air", ""),
	}
	kept, dropped := ApplyRateLimits(input, config.RateLimits{PerEvent: 1})
	if len(kept) != 1 || kept[0].ID != "t1" {
		t.Fatalf("kept=%v", kept)
	}
	if dropped[DropPerEvent] != 1 {
		t.Fatalf("dropped=%v", dropped)
	}
	checkConservation(t, input, kept, dropped)
}

func TestRateLimitPerDomain(t *testing.T) {
	input := []model.TaskRecommendation{
		task("t1", "e1", "air", ""),
		task("t2", "e2", "air", ""),
		task("t3", "e3", "sea", ""),
	}
	kept, dropped := ApplyRateLimits(input, config.RateLimits{PerDomain: 1})
	if len(kept) != 2 || dropped[DropPerDomain] != 1 {
		t.Fatalf("kept=%d dropped=%v", len(kept), dropped)
	}
	if kept[1].ID != "t3" {
		t.Fatal("sea task should survive the air domain limit")
	}
}

func TestRateLimitPerAssetExact(t *testing.T) {
	input := []model.TaskRecommendation{
		task("t1", "e1", "facility", "gate_alpha"),
		task("t2", "e2", "facility", "gate_alpha"),
		task("t3", "e3", "facility", "gate_beta"),
	}
	limits := config.RateLimits{PerAssetInfra: map[string]int{"gate_alpha": 1}}
	kept, dropped := ApplyRateLimits(input, limits)
	if len(kept) != 2 || dropped[DropPerAsset] != 1 {
		t.Fatalf("kept=%d dropped=%v", len(kept), dropped)
	}
}

func TestRateLimitPatternFirstMatchWins(t *testing.T) {
	input := []model.TaskRecommendation{
		task("t1", "e1", "facility", "gate_alpha"),
		task("t2", "e2", "facility", "gate_beta"),
		task("t3", "e3", "facility", "cam_7"),
	}
	// cam_* never sees the gates because the first matching pattern in
	// sorted order claims the task with its own running count.
	limits := config.RateLimits{PerAssetPatterns: map[string]int{
		"cam_*":  10,
		"gate_*": 1,
	}}
	kept, dropped := ApplyRateLimits(input, limits)
	if len(kept) != 2 || dropped[DropPerPattern] != 1 {
		t.Fatalf("kept=%d dropped=%v", len(kept), dropped)
	}
	if kept[0].ID != "t1" || kept[1].ID != "t3" {
		t.Fatalf("kept = %v, %v", kept[0].ID, kept[1].ID)
	}
}

func TestRateLimitOrderOfChecks(t *testing.T) {
	// The same task breaches both total and per_event; total is checked
	// first and takes the drop.
	input := []model.TaskRecommendation{
		task("t1", "e1", "air", ""),
		task("t2", "e1", "air", ""),
	}
	kept, dropped := ApplyRateLimits(input, config.RateLimits{Total: 1, PerEvent: 1})
	if len(kept) != 1 || dropped[DropTotal] != 1 || dropped[DropPerEvent] != 0 {
		t.Fatalf("kept=%d dropped=%v", len(kept), dropped)
	}
}

func TestRateLimitZeroMeansUnlimited(t *testing.T) {
	input := []model.TaskRecommendation{
		task("t1", "e1", "air", ""),
		task("t2", "e2", "air", ""),
	}
	kept, dropped := ApplyRateLimits(input, config.RateLimits{})
	if len(kept) != 2 || len(dropped) != 0 {
		t.Fatalf("kept=%d dropped=%v", len(kept), dropped)
	}
}

func TestRateLimitZeroPerAssetEntryDrops(t *testing.T) {
	// Unlike the scalar limits, a per-asset entry is a budget keyed by its
	// presence: zero means no task for that asset is admitted.
	input := []model.TaskRecommendation{
		task("t1", "e1", "facility", "gate_alpha"),
		task("t2", "e2", "facility", "gate_beta"),
	}
	limits := config.RateLimits{PerAssetInfra: map[string]int{"gate_alpha": 0}}
	kept, dropped := ApplyRateLimits(input, limits)
	if len(kept) != 1 || kept[0].ID != "t2" || dropped[DropPerAsset] != 1 {
		t.Fatalf("kept=%v dropped=%v", kept, dropped)
	}
	checkConservation(t, input, kept, dropped)
}

func TestRateLimitZeroPatternEntryDrops(t *testing.T) {
	input := []model.TaskRecommendation{
		task("t1", "e1", "facility", "gate_alpha"),
		task("t2", "e2", "facility", "cam_7"),
	}
	limits := config.RateLimits{PerAssetPatterns: map[string]int{"gate_*": 0}}
	kept, dropped := ApplyRateLimits(input, limits)
	if len(kept) != 1 || kept[0].ID != "t2" || dropped[DropPerPattern] != 1 {
		t.Fatalf("kept=%v dropped=%v", kept, dropped)
	}
	checkConservation(t, input, kept, dropped)
}

func intp(n int) *int { return &n }

func criticalEvent(id string) model.Event {
	return model.Event{ID: id, Severity: model.SevCritical, Status: model.EventOpen, Domain: "air"}
}

func TestRiskBudgetHoldsOverLimit(t *testing.T) {
	events := []model.Event{criticalEvent("e1"), criticalEvent("e2"), criticalEvent("e3")}
	tasks := []model.TaskRecommendation{
		task("t1", "e1", "air", ""),
		task("t2", "e2", "air", ""),
		task("t3", "e3", "air", ""),
	}
	cfg := config.GuardrailsConfig{
		RiskBudgets:        map[string]config.RiskBudget{"default": {CriticalLimit: intp(1)}},
		RiskBackoffBaseSec: 60,
	}
	now := time.Unix(1_700_000_000, 0)

	out, held, err := ApplyRiskBudget(tasks, events, cfg, NewMemCounter(), now)
	if err != nil {
		t.Fatal(err)
	}
	if held != 2 {
		t.Fatalf("held = %d, want 2", held)
	}
	if out[0].Status != model.TaskApproved {
		t.Fatalf("first critical task within budget, got %q", out[0].Status)
	}

	// Backoff doubles with distance over budget.
	for i, wantBackoff := range map[int]float64{1: 60 * 2, 2: 60 * 4} {
		got := out[i]
		if got.Status != model.TaskRiskHold || got.HoldReason != HoldReasonRiskBudget {
			t.Fatalf("task %s: status=%q reason=%q", got.ID, got.Status, got.HoldReason)
		}
		want := float64(now.Unix()) + wantBackoff
		if math.Abs(got.HoldUntilEpoch-want) > 1 {
			t.Fatalf("task %s: hold_until = %v, want %v", got.ID, got.HoldUntilEpoch, want)
		}
	}
}

func TestRiskBudgetIgnoresNonCritical(t *testing.T) {
	events := []model.Event{{ID: "e1", Severity: model.SevWarning, Status: model.EventOpen}}
	tasks := []model.TaskRecommendation{task("t1", "e1", "air", "")}
	cfg := config.GuardrailsConfig{
		RiskBudgets: map[string]config.RiskBudget{"default": {CriticalLimit: intp(0)}},
	}
	_, held, err := ApplyRiskBudget(tasks, events, cfg, NewMemCounter(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if held != 0 {
		t.Fatalf("held = %d for non-critical event", held)
	}
}

func TestRiskBudgetUnbudgetedTenant(t *testing.T) {
	events := []model.Event{criticalEvent("e1")}
	tasks := []model.TaskRecommendation{task("t1", "e1", "air", "")}
	cfg := config.GuardrailsConfig{
		RiskBudgets: map[string]config.RiskBudget{"other": {CriticalLimit: intp(0)}},
	}
	out, held, err := ApplyRiskBudget(tasks, events, cfg, NewMemCounter(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if held != 0 || out[0].Status != model.TaskApproved {
		t.Fatalf("held=%d status=%q for unbudgeted tenant", held, out[0].Status)
	}
}

func TestRiskBudgetPersistentCounter(t *testing.T) {
	store, err := riskstore.Open(filepath.Join(t.TempDir(), "risk.db"), 300)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	events := []model.Event{criticalEvent("e1")}
	cfg := config.GuardrailsConfig{
		RiskBudgets:        map[string]config.RiskBudget{"default": {CriticalLimit: intp(1)}},
		RiskBackoffBaseSec: 60,
	}
	now := time.Now()

	// First run stays within budget; the second run sees the persisted
	// count and holds.
	_, held, err := ApplyRiskBudget([]model.TaskRecommendation{task("t1", "e1", "air", "")}, events, cfg, store, now)
	if err != nil || held != 0 {
		t.Fatalf("run 1: held=%d err=%v", held, err)
	}
	_, held, err = ApplyRiskBudget([]model.TaskRecommendation{task("t2", "e1", "air", "")}, events, cfg, store, now)
	if err != nil || held != 1 {
		t.Fatalf("run 2: held=%d err=%v", held, err)
	}
}

func TestEvaluateHealth(t *testing.T) {
	if alert := EvaluateHealth(map[string]int{"total": 1}, 9, 0.5); alert != nil {
		t.Fatalf("10%% drop ratio must not alert at 0.5: %+v", alert)
	}
	alert := EvaluateHealth(map[string]int{"total": 3, "per_event": 2}, 5, 0.5)
	if alert == nil {
		t.Fatal("50% drop ratio must alert at 0.5")
	}
	if alert.DropRatio != 0.5 || alert.Kept != 5 {
		t.Fatalf("alert = %+v", alert)
	}
	if EvaluateHealth(map[string]int{"total": 5}, 0, 0) != nil {
		t.Fatal("zero threshold disables the check")
	}
	if EvaluateHealth(nil, 0, 0.5) != nil {
		t.Fatal("empty run must not alert")
	}
}
