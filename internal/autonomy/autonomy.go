// Package autonomy turns approved tasks into per-domain plans and platform
// commands. Only approved tasks ever reach this stage.
package autonomy

import (
	"fmt"

	"github.com/ppiankov/vigil/internal/model"
)

// PlanItem is one task slot in a domain plan.
type PlanItem struct {
	ID       string `json:"id"`
	EventID  string `json:"event_id"`
	Priority int    `json:"priority"`
}

// Plan clusters tasks by assignee domain, preserving input order within
// each domain.
func Plan(tasks []model.TaskRecommendation) map[string][]PlanItem {
	byDomain := make(map[string][]PlanItem)
	for _, task := range tasks {
		byDomain[task.AssigneeDomain] = append(byDomain[task.AssigneeDomain], PlanItem{
			ID:       task.ID,
			EventID:  task.EventID,
			Priority: task.Priority,
		})
	}
	return byDomain
}

// CommandForTask builds the actuation command for one approved task. The
// command targets the task's link hint when set, else its assignee domain.
func CommandForTask(task model.TaskRecommendation) model.PlatformCommand {
	target := task.LinkHint
	if target == "" {
		target = task.AssigneeDomain
	}
	cmd := model.PlatformCommand{
		ID:       fmt.Sprintf("cmd_%s", task.ID),
		Target:   target,
		Command:  task.Action,
		Priority: task.Priority,
		Status:   StatusQueued,
		TaskID:   task.ID,
		AssetID:  task.AssetID,
		Domain:   task.AssigneeDomain,
	}
	if task.AssetID != "" {
		cmd.Args = map[string]any{"asset_id": task.AssetID}
	}
	return cmd
}
