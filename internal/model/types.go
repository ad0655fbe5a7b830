package model

// Severity classifies how serious an event is.
type Severity string

const (
	SevInfo     Severity = "info"
	SevNotice   Severity = "notice"
	SevWarning  Severity = "warning"
	SevCritical Severity = "critical"
)

// SeverityRank maps severity to a comparable integer for capping and
// priority derivation. Unknown severities rank 0 — below info — so a
// malformed severity is never promoted by a cap check.
var SeverityRank = map[Severity]int{
	SevInfo:     1,
	SevNotice:   2,
	SevWarning:  3,
	SevCritical: 4,
}

// Rank returns the comparable rank of a severity. Fail-closed: unknown → 0.
func (s Severity) Rank() int {
	return SeverityRank[s]
}

// Event statuses.
const (
	EventOpen = "open"
)

// Task statuses. Approved is the default; pending_approval and risk_hold
// are soft outcomes recorded on the task, never raised as errors.
const (
	TaskApproved        = "approved"
	TaskPendingApproval = "pending_approval"
	TaskRiskHold        = "risk_hold"
)

// SensorReading is a normalized sensor observation, the atomic input unit.
// Immutable once created.
type SensorReading struct {
	ID         string             `json:"id" yaml:"id"`
	SensorID   string             `json:"sensor_id" yaml:"sensor_id"`
	Domain     string             `json:"domain" yaml:"domain"`
	SourceType string             `json:"source_type" yaml:"source_type"`
	TsMs       int64              `json:"ts_ms" yaml:"ts_ms"`
	Geo        map[string]float64 `json:"geo,omitempty" yaml:"geo,omitempty"`
	Details    map[string]any     `json:"details" yaml:"details"`
}

// EntityTrack is a transient fusion aggregate grouping readings by track id.
// Not persisted across runs and not consumed by the rules engine.
type EntityTrack struct {
	ID         string         `json:"id"`
	Domain     string         `json:"domain"`
	Label      string         `json:"label"`
	Attributes map[string]any `json:"attributes"`
	LastSeenMs int64          `json:"last_seen_ms"`
}

// TimeWindow bounds the observation interval of an event.
type TimeWindow struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

// Evidence ties an event or task back to the originating reading with a
// content hash for tamper evidence.
type Evidence struct {
	Type        string         `json:"type"`
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	Hash        string         `json:"hash"`
	Observables map[string]any `json:"observables"`
}

// Event is a rule-triggered, policy-filterable incident derived from a
// reading. Created by the rules engine, mutated only by governance
// (severity capped downward) or dropped, terminal once exported.
type Event struct {
	ID         string     `json:"id"`
	Category   string     `json:"category"`
	Severity   Severity   `json:"severity"`
	Status     string     `json:"status"`
	Domain     string     `json:"domain"`
	Summary    string     `json:"summary"`
	TimeWindow TimeWindow `json:"time_window"`
	Entities   []string   `json:"entities"`
	Sources    []string   `json:"sources"`
	Tags       []string   `json:"tags"`
	Evidence   []Evidence `json:"evidence"`
}

// TaskRecommendation is a recommended response action derived from an open
// event, subject to approval, guardrail, and risk gating.
type TaskRecommendation struct {
	ID                 string     `json:"id"`
	EventID            string     `json:"event_id"`
	Action             string     `json:"action"`
	AssigneeDomain     string     `json:"assignee_domain"`
	Priority           int        `json:"priority"`
	Rationale          string     `json:"rationale"`
	Confidence         float64    `json:"confidence"`
	InfrastructureType string     `json:"infrastructure_type,omitempty"`
	AssetID            string     `json:"asset_id,omitempty"`
	RequiresApproval   bool       `json:"requires_approval"`
	Status             string     `json:"status"`
	ApprovedBy         string     `json:"approved_by,omitempty"`
	Evidence           []Evidence `json:"evidence,omitempty"`
	Tenant             string     `json:"tenant"`
	HoldReason         string     `json:"hold_reason,omitempty"`
	HoldUntilEpoch     float64    `json:"hold_until_epoch,omitempty"`
	Route              []string   `json:"route,omitempty"`
	LinkHint           string     `json:"link_hint,omitempty"`
}

// LinkState describes whether a platform link is currently usable.
type LinkState struct {
	Target    string `json:"target"`
	Available bool   `json:"available"`
}

// PlatformCommand is one actuation command emitted for an approved task.
type PlatformCommand struct {
	ID       string         `json:"id"`
	Target   string         `json:"target"`
	Command  string         `json:"command"`
	Args     map[string]any `json:"args,omitempty"`
	Priority int            `json:"priority"`
	Status   string         `json:"status"`
	TaskID   string         `json:"task_id,omitempty"`
	AssetID  string         `json:"asset_id,omitempty"`
	Domain   string         `json:"domain,omitempty"`
}

// DetailString reads a string detail, empty when absent or non-string.
func DetailString(details map[string]any, key string) string {
	if details == nil {
		return ""
	}
	if s, ok := details[key].(string); ok {
		return s
	}
	return ""
}

// DetailFloat reads a numeric detail, accepting the int/float shapes YAML
// and JSON decoders produce.
func DetailFloat(details map[string]any, key string) (float64, bool) {
	if details == nil {
		return 0, false
	}
	switch n := details[key].(type) {
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

// DetailBool reads a flag detail with loose truthiness: true, a nonzero
// number, or a nonempty string all count. Feeds encode flags
// inconsistently, so night_motion: 1 must match like night_motion: true.
func DetailBool(details map[string]any, key string) bool {
	if details == nil {
		return false
	}
	switch v := details[key].(type) {
	case bool:
		return v
	case string:
		return v != ""
	default:
		n, ok := DetailFloat(details, key)
		return ok && n != 0
	}
}
