// Package pipeline runs the sensor-to-action batch pipeline: ingest,
// fusion, rules, governance, decision, guardrails, risk budgeting,
// autonomy planning, and export, with an audit record at every stage
// boundary. A run either completes or returns an error; policy rejections
// are outcomes, not errors.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ppiankov/vigil/internal/audit"
	"github.com/ppiankov/vigil/internal/autonomy"
	"github.com/ppiankov/vigil/internal/config"
	"github.com/ppiankov/vigil/internal/decision"
	"github.com/ppiankov/vigil/internal/export"
	"github.com/ppiankov/vigil/internal/fusion"
	"github.com/ppiankov/vigil/internal/governance"
	"github.com/ppiankov/vigil/internal/guardrail"
	"github.com/ppiankov/vigil/internal/hashutil"
	"github.com/ppiankov/vigil/internal/ingest"
	"github.com/ppiankov/vigil/internal/metrics"
	"github.com/ppiankov/vigil/internal/model"
	"github.com/ppiankov/vigil/internal/riskstore"
	"github.com/ppiankov/vigil/internal/rules"
)

// AuditFileName is the audit log file created in every out directory.
const AuditFileName = "audit_log.jsonl"

// Result is the outcome of one pipeline run. Tasks and PendingTasks are
// disjoint: Tasks holds the approved partition only, pending and held
// tasks appear solely in PendingTasks.
type Result struct {
	Events       []model.Event
	Tasks        []model.TaskRecommendation
	PendingTasks []model.TaskRecommendation
	Plan         map[string][]autonomy.PlanItem
	Paths        map[string]string
}

// Run executes the full pipeline for one scenario into outDir. configHash
// identifies the loaded config in the run_start record; pass "" to derive
// it from the config value.
func Run(cfg *config.Config, configHash, scenarioPath, outDir string) (*Result, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: create out dir: %w", err)
	}
	if configHash == "" {
		h, err := hashutil.SHA256JSON(cfg)
		if err != nil {
			return nil, err
		}
		configHash = h
	}

	auditLog, err := openAudit(cfg, outDir)
	if err != nil {
		return nil, err
	}
	defer auditLog.Close()

	run := metrics.NewRun()

	if err := auditLog.Write("run_start", map[string]any{
		"schema_version": cfg.Vigil.SchemaVersion,
		"config_hash":    configHash,
		"scenario":       scenarioPath,
	}); err != nil {
		return nil, err
	}

	engine, err := rules.Load(cfg.Pipeline.RulesConfig)
	if err != nil {
		return nil, err
	}

	// Ingest.
	start := time.Now()
	readings, skipped, err := loadReadings(scenarioPath)
	if err != nil {
		return nil, err
	}
	run.Readings.Add(float64(len(readings)))
	run.ObserveStage("ingest", start)
	if err := auditLog.Write("ingest_done", map[string]any{
		"count":   len(readings),
		"skipped": len(skipped),
	}); err != nil {
		return nil, err
	}

	// Fusion. Tracks are informational; rules consume the raw readings.
	start = time.Now()
	fused := fusion.Fuse(readings)
	run.ObserveStage("fusion", start)
	if err := auditLog.Write("fusion_done", map[string]any{
		"tracks":  len(fused.Tracks),
		"domains": fused.DomainCounts,
	}); err != nil {
		return nil, err
	}

	// Rules.
	start = time.Now()
	events := engine.Apply(fused.Readings)
	run.Events.Add(float64(len(events)))
	run.ObserveStage("rules", start)
	if err := auditLog.Write("rules_done", map[string]any{"events": len(events)}); err != nil {
		return nil, err
	}

	// Governance over events.
	gov := governance.New(cfg.Pipeline.Governance)
	events, droppedEvents := gov.FilterEvents(events)
	run.EventsDropped.Add(float64(droppedEvents))
	if err := auditLog.Write("governance_events", map[string]any{
		"kept":    len(events),
		"dropped": droppedEvents,
	}); err != nil {
		return nil, err
	}

	// Decision and RBAC.
	start = time.Now()
	tasks := decision.New(cfg).Run(events)
	run.Tasks.Add(float64(len(tasks)))
	run.ObserveStage("decision", start)
	if err := auditLog.Write("decision_done", map[string]any{"tasks": len(tasks)}); err != nil {
		return nil, err
	}

	// Governance over tasks. A forbidden action is a configuration bug and
	// aborts the run.
	before := len(tasks)
	tasks, err = gov.FilterTasks(tasks)
	if err != nil {
		var forbidden *governance.ForbiddenActionError
		if errors.As(err, &forbidden) {
			if werr := auditLog.Write("governance_tasks", map[string]any{"forbidden_action": forbidden.Action}); werr != nil {
				return nil, errors.Join(err, werr)
			}
		}
		return nil, err
	}
	if err := auditLog.Write("governance_tasks", map[string]any{
		"kept":    len(tasks),
		"dropped": before - len(tasks),
	}); err != nil {
		return nil, err
	}

	// Guardrails: rate limits, then risk budget.
	tasks, droppedTasks := guardrail.ApplyRateLimits(tasks, cfg.Pipeline.Guardrails.RateLimits)
	for reason, n := range droppedTasks {
		run.TasksDropped.WithLabelValues(reason).Add(float64(n))
	}
	if err := auditLog.Write("guardrails_done", map[string]any{
		"kept":    len(tasks),
		"dropped": droppedTasks,
	}); err != nil {
		return nil, err
	}
	if alert := guardrail.EvaluateHealth(droppedTasks, len(tasks), cfg.Pipeline.Guardrails.HealthAlertThreshold); alert != nil {
		if err := auditLog.Write("guardrail_alert", map[string]any{
			"drop_ratio": alert.DropRatio,
			"dropped":    alert.Dropped,
			"kept":       alert.Kept,
			"threshold":  alert.Threshold,
		}); err != nil {
			return nil, err
		}
	}

	counter, closeCounter, err := riskCounter(cfg.Pipeline.Guardrails)
	if err != nil {
		return nil, err
	}
	tasks, held, err := guardrail.ApplyRiskBudget(tasks, events, cfg.Pipeline.Guardrails, counter, time.Now())
	closeCounter()
	if err != nil {
		return nil, err
	}
	run.RiskHolds.Add(float64(held))
	if err := auditLog.Write("risk_budget_done", map[string]any{"held": held}); err != nil {
		return nil, err
	}

	// Partition. Only approved tasks feed autonomy and actuation.
	approved, pending := partition(tasks)
	if err := auditLog.Write("partition", map[string]any{
		"approved": len(approved),
		"pending":  len(pending),
	}); err != nil {
		return nil, err
	}

	// Autonomy planning and platform command emission.
	plan := autonomy.Plan(approved)
	queue := autonomy.NewCommandQueue(filepath.Join(outDir, "commands.jsonl"))
	for _, task := range approved {
		queue.Enqueue(autonomy.CommandForTask(task))
	}
	sent, deferred := queue.AttemptSend(linkStates(approved))
	domains := make([]string, 0, len(plan))
	for domain := range plan {
		domains = append(domains, domain)
	}
	if err := auditLog.Write("autonomy_plan", map[string]any{
		"domains":  domains,
		"sent":     len(sent),
		"deferred": len(deferred),
	}); err != nil {
		return nil, err
	}

	// Export. Only the approved partition is published as tasks; pending
	// and held tasks travel in pending_tasks.
	start = time.Now()
	paths, err := runExports(cfg, outDir, events, approved, pending)
	if err != nil {
		return nil, err
	}
	paths["audit"] = auditLog.Path()
	if promPath, err := run.WriteProm(outDir); err == nil {
		paths["metrics"] = promPath
	} else {
		log.Warn().Err(err).Msg("metrics artifact not written")
	}
	run.ObserveStage("export", start)

	exportPayload := map[string]any{"events": len(events), "tasks": len(approved)}
	for name, p := range paths {
		exportPayload["path_"+name] = p
	}
	if err := auditLog.Write("export_done", exportPayload); err != nil {
		return nil, err
	}

	if err := auditLog.Write("run_end", map[string]any{
		"events":  len(events),
		"tasks":   len(approved),
		"pending": len(pending),
	}); err != nil {
		return nil, err
	}

	return &Result{
		Events:       events,
		Tasks:        approved,
		PendingTasks: pending,
		Plan:         plan,
		Paths:        paths,
	}, nil
}

func openAudit(cfg *config.Config, outDir string) (*audit.Log, error) {
	opts := []audit.Option{}
	if cfg.Pipeline.Audit.Secret != "" {
		opts = append(opts, audit.WithSecret(cfg.Pipeline.Audit.Secret))
	}
	if cfg.Pipeline.Audit.RequireSigning {
		opts = append(opts, audit.WithRequireSigning())
	}
	if cfg.Pipeline.Audit.VerifyOnStart {
		opts = append(opts, audit.WithVerifyOnOpen())
	}
	return audit.Open(filepath.Join(outDir, AuditFileName), opts...)
}

// loadReadings picks the adapter from the file extension: NDJSON feeds go
// through the tail adapter, everything else is a YAML scenario.
func loadReadings(path string) ([]model.SensorReading, []error, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ndjson", ".jsonl":
		readings, skipped := ingest.TailFile(path, 0)
		for _, note := range skipped {
			log.Warn().Err(note).Msg("malformed feed line skipped")
		}
		return readings, skipped, nil
	default:
		readings, err := ingest.LoadScenario(path)
		return readings, nil, err
	}
}

// riskCounter returns the persistent store when a path is configured, else
// a per-run in-memory counter.
func riskCounter(cfg config.GuardrailsConfig) (guardrail.TenantCounter, func(), error) {
	if cfg.RiskStorePath == "" {
		return guardrail.NewMemCounter(), func() {}, nil
	}
	window := cfg.RiskWindowSec
	if window < 1 {
		window = riskstore.DefaultWindowSeconds
	}
	store, err := riskstore.Open(cfg.RiskStorePath, window)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func partition(tasks []model.TaskRecommendation) (approved, pending []model.TaskRecommendation) {
	for _, task := range tasks {
		switch task.Status {
		case model.TaskPendingApproval, model.TaskRiskHold:
			pending = append(pending, task)
		default:
			approved = append(approved, task)
		}
	}
	return approved, pending
}

// linkStates reports every approved task's target as available. There is
// no live comms layer in batch runs; deferred delivery only happens when a
// task carries a link hint pointing at an unlisted target.
func linkStates(approved []model.TaskRecommendation) map[string]model.LinkState {
	states := make(map[string]model.LinkState)
	for _, task := range approved {
		target := task.LinkHint
		if target == "" {
			target = task.AssigneeDomain
		}
		states[target] = model.LinkState{Target: target, Available: true}
	}
	return states
}

func runExports(cfg *config.Config, outDir string, events []model.Event, approved, pending []model.TaskRecommendation) (map[string]string, error) {
	paths := make(map[string]string)
	exportCfg := cfg.Pipeline.Export

	for _, format := range exportCfg.Formats {
		switch format {
		case "json":
			path, err := export.WriteEventsJSON(outDir, cfg.Vigil.SchemaVersion, events, approved, pending)
			if err != nil {
				return nil, err
			}
			paths["json"] = path
		case "stix":
			path, err := export.WriteSTIX(outDir, export.BuildSTIXBundle(events, approved))
			if err != nil {
				return nil, err
			}
			paths["stix"] = path
		case "jsonl":
			path := exportCfg.JSONL.Path
			if path == "" {
				path = filepath.Join(outDir, "tasks.jsonl")
			}
			if err := export.AppendTasksJSONL(path, approved); err != nil {
				return nil, err
			}
			paths["jsonl"] = path
		default:
			log.Warn().Str("format", format).Msg("unknown export format skipped")
		}
	}

	// Network sinks are best-effort: failures are logged, never fatal.
	if exportCfg.Webhook.URL != "" {
		payload := map[string]any{
			"schema_version": cfg.Vigil.SchemaVersion,
			"events":         len(events),
			"tasks":          len(approved),
			"pending_tasks":  len(pending),
		}
		if err := export.SendWebhook(context.Background(), exportCfg.Webhook, payload); err != nil {
			log.Warn().Err(err).Msg("webhook delivery failed")
		}
	}

	if exportCfg.Infrastructure.Path != "" {
		effector := export.NewInfraEffector(exportCfg.Infrastructure)
		var actions []export.InfraAction
		for _, task := range approved {
			if task.InfrastructureType == "" {
				continue
			}
			actions = append(actions, effector.ActionForTask(task))
		}
		if err := effector.Emit(context.Background(), actions); err != nil {
			log.Warn().Err(err).Msg("infrastructure effector failed")
		} else if len(actions) > 0 {
			paths["infrastructure"] = exportCfg.Infrastructure.Path
		}
	}

	return paths, nil
}
