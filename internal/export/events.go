// Package export writes run artifacts: the events.json summary, a
// STIX 2.1 bundle, a task JSONL feed, webhook delivery, and the
// infrastructure effector. File sinks are authoritative; network sinks are
// best-effort with bounded retries and a dead-letter fallback.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/vigil/internal/model"
)

// EventsDocument is the top-level shape of events.json. Field names are a
// wire contract with downstream consumers. Tasks and PendingTasks are
// disjoint partitions, so counting both never double-counts a task.
type EventsDocument struct {
	SchemaVersion string                     `json:"schema_version"`
	GeneratedAt   string                     `json:"generated_at"`
	Events        []model.Event              `json:"events"`
	Tasks         []model.TaskRecommendation `json:"tasks"`
	PendingTasks  []model.TaskRecommendation `json:"pending_tasks"`
}

// WriteEventsJSON writes the run summary document to <outDir>/events.json
// and returns the path.
func WriteEventsJSON(outDir, schemaVersion string, events []model.Event, tasks, pending []model.TaskRecommendation) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("export: create out dir: %w", err)
	}

	doc := EventsDocument{
		SchemaVersion: schemaVersion,
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
		Events:        events,
		Tasks:         tasks,
		PendingTasks:  pending,
	}
	if doc.Events == nil {
		doc.Events = []model.Event{}
	}
	if doc.Tasks == nil {
		doc.Tasks = []model.TaskRecommendation{}
	}
	if doc.PendingTasks == nil {
		doc.PendingTasks = []model.TaskRecommendation{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("export: marshal events document: %w", err)
	}

	path := filepath.Join(outDir, "events.json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("export: write %s: %w", path, err)
	}
	return path, nil
}
