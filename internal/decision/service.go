// Package decision turns governed events into task recommendations,
// resolves RBAC approval, and expands infrastructure-mapping sub-tasks.
package decision

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ppiankov/vigil/internal/config"
	"github.com/ppiankov/vigil/internal/model"
)

// SystemApprover is recorded when an unsigned auto-approval is granted.
const SystemApprover = "system"

// DefaultAction is the baseline response recommended for every open event.
const DefaultAction = "investigate"

// Service synthesizes tasks from events.
type Service struct {
	humanLoop config.HumanLoopConfig
	rbac      config.RBACConfig
	infra     []config.InfraMapping
	tenant    string
	resolver  *resolver
}

// New builds a Service from the pipeline configuration.
func New(cfg *config.Config) *Service {
	return &Service{
		humanLoop: cfg.Pipeline.HumanLoop,
		rbac:      cfg.Pipeline.RBAC,
		infra:     cfg.Pipeline.Infrastructure.Mappings,
		tenant:    cfg.Pipeline.Tenant,
		resolver:  newResolver(cfg.Pipeline.RBAC),
	}
}

// Run produces one primary task per open event plus zero or more
// infrastructure sub-tasks per matching mapping. Tasks carry their final
// approval status; pending_approval is terminal for the run.
func (s *Service) Run(events []model.Event) []model.TaskRecommendation {
	var tasks []model.TaskRecommendation
	for i := range events {
		ev := &events[i]
		if ev.Status != model.EventOpen {
			continue
		}
		tasks = append(tasks, s.primaryTask(ev))
		tasks = append(tasks, s.infrastructureTasks(ev)...)
	}
	return tasks
}

func (s *Service) primaryTask(ev *model.Event) model.TaskRecommendation {
	priority := 5 - ev.Severity.Rank()
	if priority < 1 {
		priority = 1
	}

	assignee := ev.Domain
	if assignee == "multi" {
		assignee = "land"
	}

	confidence := 0.6
	if ev.Severity == model.SevWarning || ev.Severity == model.SevCritical {
		confidence = 0.8
	}

	task := model.TaskRecommendation{
		ID:             fmt.Sprintf("task_%s", ev.ID),
		EventID:        ev.ID,
		Action:         DefaultAction,
		AssigneeDomain: assignee,
		Priority:       priority,
		Rationale:      fmt.Sprintf("%s (severity=%s, domain=%s)", ev.Summary, ev.Severity, ev.Domain),
		Confidence:     confidence,
		Status:         model.TaskApproved,
		Evidence:       ev.Evidence,
		Tenant:         s.tenant,
	}

	task.RequiresApproval = s.domainRequiresApproval(assignee)
	if task.RequiresApproval {
		s.resolveApproval(&task, s.rbac.RequiredRoles[assignee], s.rbac.MinApprovals)
	}
	return task
}

func (s *Service) infrastructureTasks(ev *model.Event) []model.TaskRecommendation {
	var tasks []model.TaskRecommendation
	for _, mapping := range s.infra {
		if mapping.Match.Category != ev.Category || mapping.Match.Domain != ev.Domain {
			continue
		}
		for _, spec := range mapping.Tasks {
			priority := spec.Priority
			if priority < 1 {
				priority = 3
			}
			task := model.TaskRecommendation{
				ID:                 fmt.Sprintf("task_%s_%s_%s", ev.ID, spec.Action, spec.AssetID),
				EventID:            ev.ID,
				Action:             spec.Action,
				AssigneeDomain:     spec.AssigneeDomain,
				Priority:           priority,
				Rationale:          spec.Rationale,
				Confidence:         0.7,
				InfrastructureType: spec.InfrastructureType,
				AssetID:            spec.AssetID,
				Status:             model.TaskApproved,
				Evidence:           ev.Evidence,
				Tenant:             s.tenant,
			}

			task.RequiresApproval = spec.RequiresApproval || s.domainRequiresApproval(spec.AssigneeDomain)
			if task.RequiresApproval {
				minApprovals := spec.MinApprovals
				if minApprovals < 1 {
					minApprovals = s.rbac.MinApprovals
				}
				s.resolveApproval(&task, spec.RequiredRoles, minApprovals)
			}
			tasks = append(tasks, task)
		}
	}
	return tasks
}

func (s *Service) domainRequiresApproval(domain string) bool {
	if !s.humanLoop.AutoApprove {
		return true
	}
	return slices.Contains(s.humanLoop.DomainRequireApproval, domain)
}

// resolveApproval verifies signed approvals for the task. The signature
// message is keyed on this task's action and assignee, so an approval for
// "investigate" cannot be replayed to authorize "lock".
func (s *Service) resolveApproval(task *model.TaskRecommendation, requiredRoles []string, minApprovals int) {
	message := ApprovalMessage(task.EventID, task.AssigneeDomain, task.Action, task.Tenant)
	signers, roles := s.resolver.verifySigners(message)

	if len(signers) >= minApprovals && rolesSatisfied(roles, requiredRoles) {
		task.Status = model.TaskApproved
		task.ApprovedBy = strings.Join(signers, ",")
		return
	}

	if s.humanLoop.AllowUnsignedAutoApprove && len(requiredRoles) == 0 && len(signers) == 0 {
		task.Status = model.TaskApproved
		task.ApprovedBy = SystemApprover
		return
	}

	task.Status = model.TaskPendingApproval
	task.ApprovedBy = ""
}
