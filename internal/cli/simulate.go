package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/vigil/internal/config"
	"github.com/ppiankov/vigil/internal/pipeline"
)

var (
	simScenario      string
	simOut           string
	simConfig        string
	simPolicyPack    string
	simApproverID    string
	simApproverToken string
)

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simScenario, "scenario", "", "Path to scenario YAML or NDJSON feed (required)")
	simulateCmd.Flags().StringVar(&simOut, "out", "", "Output directory (required)")
	simulateCmd.Flags().StringVar(&simConfig, "config", "", "Path to pipeline config YAML (defaults apply when omitted)")
	simulateCmd.Flags().StringVar(&simPolicyPack, "policy-pack", "", "Path to a policy pack overriding governance, human loop, and guardrails")
	simulateCmd.Flags().StringVar(&simApproverID, "approver-id", "", "Approver id presenting a signed token for this run")
	simulateCmd.Flags().StringVar(&simApproverToken, "approver-token", "", "Signed approval token for --approver-id")
	simulateCmd.MarkFlagRequired("scenario")
	simulateCmd.MarkFlagRequired("out")
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one scenario through the full pipeline",
	Long: "Runs the scenario through ingest, fusion, rules, governance, decision,\n" +
		"guardrails, and export, writing all artifacts and the audit log to --out.",
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, hash, err := loadRunConfig(simConfig, simPolicyPack, simApproverID, simApproverToken)
	if err != nil {
		return err
	}

	res, err := pipeline.Run(cfg, hash, simScenario, simOut)
	if err != nil {
		return err
	}

	fmt.Printf("events=%d tasks=%d pending=%d\n", len(res.Events), len(res.Tasks), len(res.PendingTasks))
	for name, path := range res.Paths {
		fmt.Printf("  %s: %s\n", name, path)
	}
	return nil
}

// loadRunConfig resolves the effective config for one run: file or
// defaults, policy pack applied on top, CLI approver injected last as the
// single active approver.
func loadRunConfig(configPath, packPath, approverID, approverToken string) (*config.Config, string, error) {
	cfg := config.Default()
	hash := ""
	if configPath != "" {
		var err error
		cfg, hash, err = config.LoadWithHash(configPath)
		if err != nil {
			return nil, "", err
		}
	}
	if packPath != "" {
		pack, err := config.LoadPolicyPack(packPath)
		if err != nil {
			return nil, "", err
		}
		cfg = config.Merge(cfg, pack)
	}
	if approverID != "" && approverToken != "" {
		cfg.SetActiveApprover(approverID, approverToken)
	}
	return cfg, hash, nil
}
