package guardrail

import (
	"fmt"
	"math"
	"time"

	"github.com/ppiankov/vigil/internal/config"
	"github.com/ppiankov/vigil/internal/model"
)

// HoldReasonRiskBudget is stamped on tasks held by the risk-budget stage.
const HoldReasonRiskBudget = "risk_budget_exceeded"

// TenantCounter counts critical tasks per tenant within a rolling window.
// The sqlite-backed riskstore satisfies it for cross-run budgets; MemCounter
// covers the per-run case.
type TenantCounter interface {
	IncrementAndGet(tenant string, now time.Time) (int, error)
}

// MemCounter is an in-process TenantCounter with no persistence or window
// reset. It lives for one pipeline run.
type MemCounter map[string]int

func NewMemCounter() MemCounter { return make(MemCounter) }

func (m MemCounter) IncrementAndGet(tenant string, _ time.Time) (int, error) {
	m[tenant]++
	return m[tenant], nil
}

// ApplyRiskBudget holds tasks of critical events once their tenant exceeds
// its critical_limit. Held tasks stay in the list with status risk_hold and
// a backoff release time of now + base * 2^(count-limit); they are never
// discarded, so operators can see and escalate them.
func ApplyRiskBudget(tasks []model.TaskRecommendation, events []model.Event, cfg config.GuardrailsConfig, counter TenantCounter, now time.Time) ([]model.TaskRecommendation, int, error) {
	if len(cfg.RiskBudgets) == 0 {
		return tasks, 0, nil
	}

	critical := make(map[string]bool)
	for _, ev := range events {
		if ev.Severity == model.SevCritical {
			critical[ev.ID] = true
		}
	}

	base := cfg.RiskBackoffBaseSec
	if base < 1 {
		base = 60
	}

	held := 0
	for i := range tasks {
		task := &tasks[i]
		if !critical[task.EventID] {
			continue
		}
		budget, ok := cfg.RiskBudgets[task.Tenant]
		if !ok || budget.CriticalLimit == nil {
			continue
		}
		count, err := counter.IncrementAndGet(task.Tenant, now)
		if err != nil {
			return tasks, held, fmt.Errorf("guardrail: risk counter for tenant %q: %w", task.Tenant, err)
		}
		limit := *budget.CriticalLimit
		if count <= limit {
			continue
		}
		over := count - limit
		task.Status = model.TaskRiskHold
		task.HoldReason = HoldReasonRiskBudget
		task.HoldUntilEpoch = float64(now.Unix()) + float64(base)*math.Pow(2, float64(over))
		held++
	}
	return tasks, held, nil
}
