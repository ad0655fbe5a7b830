package governance

import (
	"errors"
	"testing"

	"github.com/ppiankov/vigil/internal/model"
)

func event(domain, category string, severity model.Severity) model.Event {
	return model.Event{
		ID:       "ev_1",
		Category: category,
		Severity: severity,
		Status:   model.EventOpen,
		Domain:   domain,
	}
}

func TestBlockDomainsDropEvent(t *testing.T) {
	g := New(Config{BlockDomains: []string{"air"}})
	ev := event("air", "airspace_violation", model.SevWarning)
	if got := g.FilterEvent(&ev); got != nil {
		t.Fatal("event in blocked domain should be dropped")
	}

	keep := event("sea", "airspace_violation", model.SevWarning)
	if got := g.FilterEvent(&keep); got == nil {
		t.Fatal("event outside blocked domains should be kept")
	}
}

func TestBlockCategoriesDropEvent(t *testing.T) {
	g := New(Config{BlockCategories: []string{"network_probe"}})
	ev := event("cyber", "network_probe", model.SevNotice)
	if got := g.FilterEvent(&ev); got != nil {
		t.Fatal("event in blocked category should be dropped")
	}
}

func TestSeverityCapDowngrades(t *testing.T) {
	g := New(Config{SeverityCaps: map[string]model.Severity{"human": model.SevWarning}})

	ev := event("human", "distress", model.SevCritical)
	got := g.FilterEvent(&ev)
	if got == nil || got.Severity != model.SevWarning {
		t.Fatalf("severity = %v, want warning", got)
	}

	// Below the cap: untouched.
	low := event("human", "distress", model.SevInfo)
	if got := g.FilterEvent(&low); got.Severity != model.SevInfo {
		t.Fatalf("severity = %s, want info left untouched", got.Severity)
	}
}

func TestSeverityCapIdempotent(t *testing.T) {
	g := New(Config{SeverityCaps: map[string]model.Severity{"human": model.SevNotice}})
	ev := event("human", "distress", model.SevCritical)

	once := g.FilterEvent(&ev)
	twice := g.FilterEvent(once)
	if twice.Severity != model.SevNotice {
		t.Fatalf("severity after double cap = %s, want notice", twice.Severity)
	}
}

func TestCheckActionForbidden(t *testing.T) {
	g := New(Config{ForbidActions: []string{"kinetic_strike"}})

	err := g.CheckAction("kinetic_strike")
	var forbidden *ForbiddenActionError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenActionError, got %v", err)
	}
	if forbidden.Action != "kinetic_strike" {
		t.Fatalf("error action = %q", forbidden.Action)
	}

	if err := g.CheckAction("investigate"); err != nil {
		t.Fatalf("allowed action errored: %v", err)
	}
}

func TestFilterTasksDropsBlockedDomains(t *testing.T) {
	g := New(Config{BlockDomains: []string{"air"}})
	tasks := []model.TaskRecommendation{
		{ID: "t1", Action: "investigate", AssigneeDomain: "air"},
		{ID: "t2", Action: "investigate", AssigneeDomain: "land"},
	}

	kept, err := g.FilterTasks(tasks)
	if err != nil {
		t.Fatalf("filter tasks: %v", err)
	}
	if len(kept) != 1 || kept[0].ID != "t2" {
		t.Fatalf("kept = %+v, want only t2", kept)
	}
}

func TestFilterTasksHardStopsOnForbiddenAction(t *testing.T) {
	g := New(Config{ForbidActions: []string{"kinetic_strike"}})
	tasks := []model.TaskRecommendation{
		{ID: "t1", Action: "kinetic_strike", AssigneeDomain: "land"},
	}

	if _, err := g.FilterTasks(tasks); err == nil {
		t.Fatal("forbidden action must abort, not filter")
	}
}

func TestFilterEventsCountsDrops(t *testing.T) {
	g := New(Config{BlockDomains: []string{"air"}})
	events := []model.Event{
		event("air", "a", model.SevInfo),
		event("sea", "b", model.SevInfo),
		event("air", "c", model.SevInfo),
	}

	kept, dropped := g.FilterEvents(events)
	if len(kept) != 1 || dropped != 2 {
		t.Fatalf("kept=%d dropped=%d, want 1/2", len(kept), dropped)
	}
}
