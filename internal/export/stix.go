package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/vigil/internal/hashutil"
	"github.com/ppiankov/vigil/internal/model"
)

const stixSpecVersion = "2.1"

// STIXObject is a loosely typed STIX 2.1 object. Events become
// observed-data objects, tasks become notes; domain fields ride in
// x-vigil-* extensions.
type STIXObject map[string]any

// STIXBundle is a STIX 2.1 bundle with a content hash over its objects.
type STIXBundle struct {
	Type        string       `json:"type"`
	ID          string       `json:"id"`
	SpecVersion string       `json:"spec_version"`
	Objects     []STIXObject `json:"objects"`
	XVigilHash  string       `json:"x_vigil_hash"`
}

// BuildSTIXBundle converts events and tasks to a STIX 2.1 bundle. Object
// ids are fresh UUIDs per call; the x_vigil_hash covers the object list so
// consumers can detect truncation or reordering.
func BuildSTIXBundle(events []model.Event, tasks []model.TaskRecommendation) STIXBundle {
	now := time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
	objects := make([]STIXObject, 0, len(events)+len(tasks))

	for _, ev := range events {
		objects = append(objects, STIXObject{
			"type":            "observed-data",
			"spec_version":    stixSpecVersion,
			"id":              fmt.Sprintf("observed-data--%s", uuid.NewString()),
			"created":         now,
			"modified":        now,
			"first_observed":  now,
			"last_observed":   now,
			"number_observed": 1,
			"labels":          []string{ev.Category, ev.Domain},
			"extensions": map[string]any{
				"x-vigil-event": map[string]any{
					"id":       ev.ID,
					"severity": ev.Severity,
					"status":   ev.Status,
					"summary":  ev.Summary,
					"tags":     ev.Tags,
					"entities": ev.Entities,
					"sources":  ev.Sources,
					"evidence": ev.Evidence,
				},
			},
		})
	}

	for _, task := range tasks {
		objects = append(objects, STIXObject{
			"type":         "note",
			"spec_version": stixSpecVersion,
			"id":           fmt.Sprintf("note--%s", uuid.NewString()),
			"created":      now,
			"modified":     now,
			"abstract":     fmt.Sprintf("Task %s for event %s", task.Action, task.EventID),
			"content":      task.Rationale,
			"object_refs":  []string{},
			"labels":       []string{task.AssigneeDomain, fmt.Sprintf("priority-%d", task.Priority), task.Status},
			"extensions": map[string]any{
				"x-vigil-task": map[string]any{
					"id":                task.ID,
					"event_id":          task.EventID,
					"action":            task.Action,
					"assignee_domain":   task.AssigneeDomain,
					"priority":          task.Priority,
					"confidence":        task.Confidence,
					"requires_approval": task.RequiresApproval,
					"status":            task.Status,
					"approved_by":       task.ApprovedBy,
					"evidence":          task.Evidence,
					"tenant":            task.Tenant,
					"hold_reason":       task.HoldReason,
					"hold_until_epoch":  task.HoldUntilEpoch,
				},
			},
		})
	}

	// Maps of JSON-safe values never fail to marshal.
	hash, _ := hashutil.SHA256JSON(objects)

	return STIXBundle{
		Type:        "bundle",
		ID:          fmt.Sprintf("bundle--%s", uuid.NewString()),
		SpecVersion: stixSpecVersion,
		Objects:     objects,
		XVigilHash:  hash,
	}
}

// WriteSTIX writes the bundle to <outDir>/events_stix.json.
func WriteSTIX(outDir string, bundle STIXBundle) (string, error) {
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("export: marshal stix bundle: %w", err)
	}
	path := filepath.Join(outDir, "events_stix.json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("export: write %s: %w", path, err)
	}
	return path, nil
}
