// Package guardrail enforces rate limits and risk budgets over the task
// list. Drops and holds are expected control-flow outcomes and are reported
// through counters, never as errors.
package guardrail

import (
	"sort"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"

	"github.com/ppiankov/vigil/internal/config"
	"github.com/ppiankov/vigil/internal/model"
)

// Drop reason keys. These appear in audit payloads and exports, so the
// strings are load-bearing.
const (
	DropTotal      = "total"
	DropPerDomain  = "per_domain"
	DropPerEvent   = "per_event"
	DropPerAsset   = "per_asset_infra"
	DropPerPattern = "per_asset_pattern"
)

// ApplyRateLimits admits tasks greedily in input order. A task is dropped
// on the first breached limit, checked total, then per_domain, per_event,
// per_asset_infra (exact asset id), per_asset_pattern (glob, first matching
// pattern wins with its own running count). A zero scalar limit means
// unlimited, but a per-asset map entry is a budget keyed by its presence,
// so a zero entry drops every matching task.
// len(kept) + sum(dropped) always equals len(tasks).
func ApplyRateLimits(tasks []model.TaskRecommendation, limits config.RateLimits) ([]model.TaskRecommendation, map[string]int) {
	dropped := make(map[string]int)
	kept := make([]model.TaskRecommendation, 0, len(tasks))

	total := 0
	perDomain := make(map[string]int)
	perEvent := make(map[string]int)
	perAsset := make(map[string]int)
	perPattern := make(map[string]int)

	// Map iteration order is random; first-match-wins over the patterns
	// must be stable across runs.
	patterns := make([]string, 0, len(limits.PerAssetPatterns))
	for p := range limits.PerAssetPatterns {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	for _, task := range tasks {
		if limits.Total > 0 && total >= limits.Total {
			dropped[DropTotal]++
			continue
		}
		if limit := limits.PerDomain; limit > 0 && perDomain[task.AssigneeDomain] >= limit {
			dropped[DropPerDomain]++
			continue
		}
		if limit := limits.PerEvent; limit > 0 && perEvent[task.EventID] >= limit {
			dropped[DropPerEvent]++
			continue
		}

		matchedPattern := ""
		if task.AssetID != "" {
			if limit, ok := limits.PerAssetInfra[task.AssetID]; ok && perAsset[task.AssetID] >= limit {
				dropped[DropPerAsset]++
				continue
			}
			for _, pattern := range patterns {
				if !wildcard.Match(pattern, task.AssetID) {
					continue
				}
				matchedPattern = pattern
				break
			}
			if matchedPattern != "" && perPattern[matchedPattern] >= limits.PerAssetPatterns[matchedPattern] {
				dropped[DropPerPattern]++
				continue
			}
		}

		total++
		perDomain[task.AssigneeDomain]++
		perEvent[task.EventID]++
		if task.AssetID != "" {
			perAsset[task.AssetID]++
			if matchedPattern != "" {
				perPattern[matchedPattern]++
			}
		}
		kept = append(kept, task)
	}
	return kept, dropped
}
