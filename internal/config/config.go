// Package config holds the typed pipeline configuration. Defaults are
// resolved once at load time; no stage re-derives settings ad hoc.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/vigil/internal/governance"
	"github.com/ppiankov/vigil/internal/hashutil"
)

// SchemaVersion is the version stamped on exported documents.
const SchemaVersion = "0.1"

// Config is the full per-run configuration document.
type Config struct {
	Vigil    VigilSection    `yaml:"vigil"`
	Pipeline PipelineSection `yaml:"pipeline"`
}

// VigilSection carries document-level settings.
type VigilSection struct {
	SchemaVersion string `yaml:"schema_version"`
}

// PipelineSection configures every pipeline stage.
type PipelineSection struct {
	RulesConfig    string                `yaml:"rules_config"`
	Tenant         string                `yaml:"tenant"`
	Governance     governance.Config     `yaml:"governance"`
	HumanLoop      HumanLoopConfig       `yaml:"human_loop"`
	RBAC           RBACConfig            `yaml:"rbac"`
	Infrastructure InfrastructureConfig  `yaml:"infrastructure"`
	Guardrails     GuardrailsConfig      `yaml:"guardrails"`
	Export         ExportConfig          `yaml:"export"`
	Audit          AuditConfig           `yaml:"audit"`
}

// HumanLoopConfig decides which tasks need human sign-off.
type HumanLoopConfig struct {
	AutoApprove              bool     `yaml:"auto_approve"`
	DomainRequireApproval    []string `yaml:"domain_require_approval"`
	AllowUnsignedAutoApprove bool     `yaml:"allow_unsigned_auto_approve"`
}

// Approver is a registered principal who may sign approvals.
type Approver struct {
	ID     string   `yaml:"id"`
	Secret string   `yaml:"secret"`
	Roles  []string `yaml:"roles"`
}

// ActiveApprover is a signer presenting a token for this run.
type ActiveApprover struct {
	ID    string `yaml:"id"`
	Token string `yaml:"token"`
}

// RBACConfig drives cryptographic multi-party sign-off.
type RBACConfig struct {
	MinApprovals    int                 `yaml:"min_approvals"`
	RequiredRoles   map[string][]string `yaml:"required_roles"`
	Approvers       []Approver          `yaml:"approvers"`
	ActiveApprovers []ActiveApprover    `yaml:"active_approvers"`
}

// InfraMatch selects events an infrastructure mapping applies to.
type InfraMatch struct {
	Category string `yaml:"category"`
	Domain   string `yaml:"domain"`
}

// InfraTaskSpec is one sub-task an infrastructure mapping spawns.
type InfraTaskSpec struct {
	Action             string   `yaml:"action"`
	AssetID            string   `yaml:"asset_id"`
	InfrastructureType string   `yaml:"infrastructure_type"`
	Rationale          string   `yaml:"rationale"`
	AssigneeDomain     string   `yaml:"assignee_domain"`
	Priority           int      `yaml:"priority"`
	RequiresApproval   bool     `yaml:"requires_approval"`
	RequiredRoles      []string `yaml:"required_roles"`
	MinApprovals       int      `yaml:"min_approvals"`
}

// InfraMapping fans one matching event out into infrastructure sub-tasks.
type InfraMapping struct {
	Match InfraMatch      `yaml:"match"`
	Tasks []InfraTaskSpec `yaml:"tasks"`
}

// InfrastructureConfig lists all mappings.
type InfrastructureConfig struct {
	Mappings []InfraMapping `yaml:"mappings"`
}

// RateLimits bounds task admission. Zero means no limit for that check.
type RateLimits struct {
	Total            int            `yaml:"total"`
	PerDomain        int            `yaml:"per_domain"`
	PerEvent         int            `yaml:"per_event"`
	PerAssetInfra    map[string]int `yaml:"per_asset_infra"`
	PerAssetPatterns map[string]int `yaml:"per_asset_patterns"`
}

// RiskBudget caps critical-severity tasks for one tenant. A nil
// CriticalLimit means the tenant is unbudgeted.
type RiskBudget struct {
	CriticalLimit *int `yaml:"critical_limit"`
}

// GuardrailsConfig configures rate limiting and risk budgeting.
type GuardrailsConfig struct {
	RateLimits           RateLimits            `yaml:"rate_limits"`
	RiskBudgets          map[string]RiskBudget `yaml:"risk_budgets"`
	RiskBackoffBaseSec   int                   `yaml:"risk_backoff_base_sec"`
	RiskStorePath        string                `yaml:"risk_store_path"`
	RiskWindowSec        int                   `yaml:"risk_window_sec"`
	HealthAlertThreshold float64               `yaml:"health_alert_threshold"`
}

// WebhookConfig configures the webhook export sink.
type WebhookConfig struct {
	URL            string            `yaml:"url"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	Retries        int               `yaml:"retries"`
	DeadLetterPath string            `yaml:"dead_letter_path"`
	Headers        map[string]string `yaml:"headers"`
}

// InfraHTTPConfig configures the optional HTTP infrastructure effector.
type InfraHTTPConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Retries        int    `yaml:"retries"`
}

// InfraExportConfig configures the infrastructure actuation sink.
type InfraExportConfig struct {
	Path           string           `yaml:"path"`
	RotateMaxBytes int64            `yaml:"rotate_max_bytes"`
	HTTP           *InfraHTTPConfig `yaml:"http"`
}

// JSONLConfig configures the task feed sink.
type JSONLConfig struct {
	Path string `yaml:"path"`
}

// ExportConfig selects export formats and their sinks.
type ExportConfig struct {
	Formats        []string          `yaml:"formats"`
	JSONL          JSONLConfig       `yaml:"jsonl"`
	Webhook        WebhookConfig     `yaml:"webhook"`
	Infrastructure InfraExportConfig `yaml:"infrastructure"`
}

// AuditConfig configures audit log signing.
type AuditConfig struct {
	Secret         string `yaml:"secret"`
	RequireSigning bool   `yaml:"require_signing"`
	VerifyOnStart  bool   `yaml:"verify_on_start"`
}

// Default returns the built-in configuration. Loading overlays YAML on top
// of these values, so only specified fields change.
func Default() *Config {
	return &Config{
		Vigil: VigilSection{SchemaVersion: SchemaVersion},
		Pipeline: PipelineSection{
			RulesConfig: "configs/rules.sample.yaml",
			Tenant:      "default",
			HumanLoop:   HumanLoopConfig{AutoApprove: true},
			RBAC:        RBACConfig{MinApprovals: 1},
			Guardrails: GuardrailsConfig{
				RiskBackoffBaseSec: 60,
				RiskWindowSec:      300,
			},
			Export: ExportConfig{Formats: []string{"json"}},
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads a config and returns the SHA-256 hash of the raw YAML
// bytes, recorded in the run-start audit entry so a reviewer can tie a run
// to the exact policy that produced it.
func LoadWithHash(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("config: parse %s: %w", path, err)
	}
	normalize(cfg)

	return cfg, hashutil.SHA256Hex(data), nil
}

// normalize re-applies invariants YAML can clobber.
func normalize(cfg *Config) {
	if cfg.Vigil.SchemaVersion == "" {
		cfg.Vigil.SchemaVersion = SchemaVersion
	}
	if cfg.Pipeline.Tenant == "" {
		cfg.Pipeline.Tenant = "default"
	}
	if cfg.Pipeline.RBAC.MinApprovals < 1 {
		cfg.Pipeline.RBAC.MinApprovals = 1
	}
	if cfg.Pipeline.Guardrails.RiskBackoffBaseSec <= 0 {
		cfg.Pipeline.Guardrails.RiskBackoffBaseSec = 60
	}
	if cfg.Pipeline.Guardrails.RiskWindowSec <= 0 {
		cfg.Pipeline.Guardrails.RiskWindowSec = 300
	}
	if len(cfg.Pipeline.Export.Formats) == 0 {
		cfg.Pipeline.Export.Formats = []string{"json"}
	}
}

// PolicyPack is a partial overlay document. Only the sections present
// replace the corresponding base config sections.
type PolicyPack struct {
	Governance *governance.Config `yaml:"governance"`
	HumanLoop  *HumanLoopConfig   `yaml:"human_loop"`
	Guardrails *GuardrailsConfig  `yaml:"guardrails"`
}

// LoadPolicyPack reads a policy pack YAML file.
func LoadPolicyPack(path string) (*PolicyPack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read policy pack %s: %w", path, err)
	}

	var pack PolicyPack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("config: parse policy pack %s: %w", path, err)
	}
	return &pack, nil
}

// Merge applies a policy pack over cfg, replacing whole sections when the
// pack provides them.
func Merge(cfg *Config, pack *PolicyPack) *Config {
	if pack == nil {
		return cfg
	}
	if pack.Governance != nil {
		cfg.Pipeline.Governance = *pack.Governance
	}
	if pack.HumanLoop != nil {
		cfg.Pipeline.HumanLoop = *pack.HumanLoop
	}
	if pack.Guardrails != nil {
		cfg.Pipeline.Guardrails = *pack.Guardrails
	}
	normalize(cfg)
	return cfg
}

// SetActiveApprover injects CLI-provided approver credentials as the
// run's single active signer.
func (c *Config) SetActiveApprover(id, token string) {
	c.Pipeline.RBAC.ActiveApprovers = append(c.Pipeline.RBAC.ActiveApprovers, ActiveApprover{ID: id, Token: token})
}
