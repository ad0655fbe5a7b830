// Package governance applies the static block/cap policy to events and
// tasks. Blocks and caps are soft outcomes; a forbidden action reaching
// decision time is a configuration bug and aborts the run.
package governance

import (
	"fmt"
	"slices"

	"github.com/ppiankov/vigil/internal/model"
)

// Config is the static governance policy for one run.
type Config struct {
	ForbidActions   []string                  `yaml:"forbid_actions"`
	BlockDomains    []string                  `yaml:"block_domains"`
	BlockCategories []string                  `yaml:"block_categories"`
	SeverityCaps    map[string]model.Severity `yaml:"severity_caps"`
}

// ForbiddenActionError is the hard-stop error raised when a forbidden
// action reaches the decision layer. Soft filtering outcomes
// (dropped/capped) are statuses, not errors.
type ForbiddenActionError struct {
	Action string
}

func (e *ForbiddenActionError) Error() string {
	return fmt.Sprintf("governance: action %q is forbidden by policy", e.Action)
}

// Governance filters events and tasks against a Config.
type Governance struct {
	cfg Config
}

// New builds a Governance from cfg.
func New(cfg Config) *Governance {
	return &Governance{cfg: cfg}
}

// CheckAction returns a *ForbiddenActionError if the action is forbidden.
func (g *Governance) CheckAction(action string) error {
	if slices.Contains(g.cfg.ForbidActions, action) {
		return &ForbiddenActionError{Action: action}
	}
	return nil
}

// FilterEvent returns nil when the event's domain or category is blocked;
// otherwise it caps the severity to the domain's configured maximum (if
// any) and returns the event. Capping is idempotent: a second pass with
// the same cap leaves the severity unchanged.
func (g *Governance) FilterEvent(ev *model.Event) *model.Event {
	if ev == nil {
		return nil
	}
	if slices.Contains(g.cfg.BlockDomains, ev.Domain) {
		return nil
	}
	if slices.Contains(g.cfg.BlockCategories, ev.Category) {
		return nil
	}

	if cap, ok := g.cfg.SeverityCaps[ev.Domain]; ok {
		if ev.Severity.Rank() > cap.Rank() {
			ev.Severity = cap
		}
	}
	return ev
}

// FilterEvents applies FilterEvent to a list, returning the kept events and
// the number dropped.
func (g *Governance) FilterEvents(events []model.Event) ([]model.Event, int) {
	kept := make([]model.Event, 0, len(events))
	for i := range events {
		if ev := g.FilterEvent(&events[i]); ev != nil {
			kept = append(kept, *ev)
		}
	}
	return kept, len(events) - len(kept)
}

// FilterTasks drops tasks whose assignee domain is blocked and hard-stops
// on any forbidden action. A forbidden action here means policy
// configuration let a banned action through decision synthesis — that must
// never be silently swallowed.
func (g *Governance) FilterTasks(tasks []model.TaskRecommendation) ([]model.TaskRecommendation, error) {
	kept := make([]model.TaskRecommendation, 0, len(tasks))
	for _, t := range tasks {
		if err := g.CheckAction(t.Action); err != nil {
			return nil, err
		}
		if slices.Contains(g.cfg.BlockDomains, t.AssigneeDomain) {
			continue
		}
		kept = append(kept, t)
	}
	return kept, nil
}
