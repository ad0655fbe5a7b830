// Package rules turns sensor readings into events by evaluating a static,
// YAML-loaded rule set over a closed condition vocabulary.
package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/vigil/internal/hashutil"
	"github.com/ppiankov/vigil/internal/model"
)

// Condition names. The vocabulary is closed: anything else never matches.
const (
	CondAltitudeBelow = "altitude_below"
	CondNightMotion   = "night_motion"
	CondPortScan      = "port_scan"
	CondKeyword       = "keyword"
	CondDetailEquals  = "detail_equals"
	CondDetailFlag    = "detail_flag"
)

// When is the conjunction a reading must satisfy for a rule to fire.
// Domain and SourceType are optional exact matches.
type When struct {
	Domain     string `yaml:"domain,omitempty"`
	SourceType string `yaml:"source_type,omitempty"`
	Condition  string `yaml:"condition"`
	Threshold  any    `yaml:"threshold,omitempty"`
	Field      string `yaml:"field,omitempty"`
}

// Then describes the event synthesized on a match.
type Then struct {
	Category string         `yaml:"category"`
	Severity model.Severity `yaml:"severity"`
	Summary  string         `yaml:"summary"`
}

// Rule is one declarative sensing rule.
type Rule struct {
	ID   string `yaml:"id"`
	When When   `yaml:"when"`
	Then Then   `yaml:"then"`
}

// Engine evaluates rules against readings. Stateless: Apply on identical
// input always yields events with identical ids and fields.
type Engine struct {
	rules []Rule
}

// New builds an engine from an already-parsed rule list.
func New(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

// Load reads a YAML rules file of the form `rules: [{id, when, then}, ...]`.
func Load(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", path, err)
	}

	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("rules: parse %s: %w", path, err)
	}
	for i, r := range doc.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rules: rule %d in %s has no id", i, path)
		}
	}
	return New(doc.Rules), nil
}

// Rules returns the loaded rule list.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Apply evaluates every rule against every reading. A single reading may
// trigger multiple rules, producing multiple events — no dedup here.
func (e *Engine) Apply(readings []model.SensorReading) []model.Event {
	var events []model.Event
	for _, r := range readings {
		for _, rule := range e.rules {
			if matches(rule, r) {
				events = append(events, makeEvent(rule, r))
			}
		}
	}
	return events
}

// matches evaluates the rule's when clause as a conjunction. Unknown
// conditions never match: fail-closed, not fail-fast.
func matches(rule Rule, r model.SensorReading) bool {
	when := rule.When
	if when.Domain != "" && when.Domain != r.Domain {
		return false
	}
	if when.SourceType != "" && when.SourceType != r.SourceType {
		return false
	}

	switch when.Condition {
	case CondAltitudeBelow:
		alt, _ := model.DetailFloat(r.Details, "altitude_ft")
		threshold, ok := toFloat(when.Threshold)
		return ok && alt < threshold
	case CondNightMotion:
		return model.DetailBool(r.Details, "night_motion")
	case CondPortScan:
		count, _ := model.DetailFloat(r.Details, "scan_count")
		threshold, ok := toFloat(when.Threshold)
		return ok && count >= threshold
	case CondKeyword:
		if when.Threshold == nil {
			return false
		}
		text := strings.ToLower(model.DetailString(r.Details, "text"))
		needle := strings.ToLower(fmt.Sprintf("%v", when.Threshold))
		return needle != "" && strings.Contains(text, needle)
	case CondDetailEquals:
		if when.Field == "" {
			return false
		}
		return detailEquals(r.Details[when.Field], when.Threshold)
	case CondDetailFlag:
		if when.Field == "" {
			return false
		}
		return model.DetailBool(r.Details, when.Field)
	default:
		return false
	}
}

// makeEvent synthesizes the event for a rule×reading match. The id is
// deterministic so reruns on identical input reproduce identical events.
func makeEvent(rule Rule, r model.SensorReading) model.Event {
	details := r.Details
	if details == nil {
		details = map[string]any{}
	}
	evidenceHash, err := hashutil.SHA256JSON(details)
	if err != nil {
		evidenceHash = ""
	}

	entity := model.DetailString(r.Details, "track_id")
	if entity == "" {
		entity = "unknown"
	}

	category := rule.Then.Category
	if category == "" {
		category = "status"
	}
	severity := rule.Then.Severity
	if severity == "" {
		severity = model.SevInfo
	}
	summary := rule.Then.Summary
	if summary == "" {
		summary = "rule_triggered"
	}

	return model.Event{
		ID:         fmt.Sprintf("ev_%s_%s", r.ID, rule.ID),
		Category:   category,
		Severity:   severity,
		Status:     model.EventOpen,
		Domain:     r.Domain,
		Summary:    summary,
		TimeWindow: model.TimeWindow{StartMs: r.TsMs, EndMs: r.TsMs},
		Entities:   []string{entity},
		Sources:    []string{r.SensorID},
		Tags:       []string{rule.ID},
		Evidence: []model.Evidence{{
			Type:        "sensor_reading",
			ID:          r.ID,
			Source:      r.SensorID,
			Hash:        evidenceHash,
			Observables: details,
		}},
	}
}

// detailEquals compares a detail value with a YAML threshold, tolerating
// the int/float mismatch between YAML and JSON decoders.
func detailEquals(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if fa, okA := toFloat(a); okA {
		if fb, okB := toFloat(b); okB {
			return fa == fb
		}
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
