package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/vigil/internal/model"
	"github.com/ppiankov/vigil/internal/pipeline"
)

var (
	armsScenario string
	armsOut      string
	armsSpecs    []string
)

func init() {
	rootCmd.AddCommand(armsCmd)
	armsCmd.Flags().StringVar(&armsScenario, "scenario", "", "Path to scenario YAML or NDJSON feed (required)")
	armsCmd.Flags().StringVar(&armsOut, "out", "", "Output directory (required)")
	armsCmd.Flags().StringArrayVar(&armsSpecs, "arm", nil, "Arm as NAME:CONFIG, repeatable (required)")
	armsCmd.MarkFlagRequired("scenario")
	armsCmd.MarkFlagRequired("out")
}

var armsCmd = &cobra.Command{
	Use:     "simulate-arms",
	Aliases: []string{"simulate_arms"},
	Short:   "Run one scenario under several configs and compare outcomes",
	Long: "Runs the same scenario once per arm, each with its own config, into\n" +
		"per-arm subdirectories, and writes comparison_summary.json with per-arm\n" +
		"event, task, and audit counts.",
	RunE: runArms,
}

// Arm is one named configuration variant.
type Arm struct {
	Name       string
	ConfigPath string
}

// ParseArmSpecs parses NAME:CONFIG specs, rejecting malformed entries and
// duplicate names. Order is preserved.
func ParseArmSpecs(specs []string) ([]Arm, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one --arm NAME:CONFIG is required")
	}
	seen := make(map[string]bool)
	arms := make([]Arm, 0, len(specs))
	for _, spec := range specs {
		name, configPath, ok := strings.Cut(spec, ":")
		if !ok || name == "" || configPath == "" {
			return nil, fmt.Errorf("malformed arm spec %q, want NAME:CONFIG", spec)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate arm name %q", name)
		}
		seen[name] = true
		arms = append(arms, Arm{Name: name, ConfigPath: configPath})
	}
	return arms, nil
}

// ArmSummary is the per-arm block of comparison_summary.json.
type ArmSummary struct {
	Config  string         `json:"config"`
	OutDir  string         `json:"out_dir"`
	Summary map[string]any `json:"summary"`
}

func runArms(cmd *cobra.Command, args []string) error {
	arms, err := ParseArmSpecs(armsSpecs)
	if err != nil {
		return err
	}

	results := make(map[string]ArmSummary, len(arms))
	for _, arm := range arms {
		cfg, hash, err := loadRunConfig(arm.ConfigPath, "", "", "")
		if err != nil {
			return fmt.Errorf("arm %s: %w", arm.Name, err)
		}
		outDir := filepath.Join(armsOut, "arm_"+arm.Name)
		res, err := pipeline.Run(cfg, hash, armsScenario, outDir)
		if err != nil {
			return fmt.Errorf("arm %s: %w", arm.Name, err)
		}
		results[arm.Name] = ArmSummary{
			Config:  arm.ConfigPath,
			OutDir:  outDir,
			Summary: summarize(res),
		}
	}

	summaryPath := filepath.Join(armsOut, "comparison_summary.json")
	doc := map[string]any{
		"scenario": armsScenario,
		"arms":     results,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(summaryPath, append(data, '\n'), 0o644); err != nil {
		return err
	}
	fmt.Println(summaryPath)
	return nil
}

func summarize(res *pipeline.Result) map[string]any {
	riskHold := 0
	for _, task := range res.PendingTasks {
		if task.Status == model.TaskRiskHold {
			riskHold++
		}
	}
	approved := 0
	for _, task := range res.Tasks {
		if task.Status == model.TaskApproved {
			approved++
		}
	}

	_, hasMetrics := res.Paths["metrics"]
	return map[string]any{
		"events":          len(res.Events),
		"tasks":           len(res.Tasks),
		"pending_tasks":   len(res.PendingTasks),
		"risk_hold_tasks": riskHold,
		"approved_tasks":  approved,
		"audit_entries":   countLines(res.Paths["audit"]),
		"has_metrics":     hasMetrics,
	}
}

func countLines(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			n++
		}
	}
	return n
}
