package cli

import (
	"context"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ppiankov/vigil/internal/pipeline"
	"github.com/ppiankov/vigil/internal/watch"
)

var (
	watchDir    string
	watchOut    string
	watchConfig string
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchDir, "dir", "", "Directory to watch for scenario files (required)")
	watchCmd.Flags().StringVar(&watchOut, "out", "", "Base output directory (required)")
	watchCmd.Flags().StringVar(&watchConfig, "config", "", "Path to pipeline config YAML (defaults apply when omitted)")
	watchCmd.MarkFlagRequired("dir")
	watchCmd.MarkFlagRequired("out")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the pipeline for each scenario dropped into a directory",
	Long: "Watches --dir for new scenario files and runs each through the\n" +
		"pipeline into a per-scenario subdirectory of --out. A malformed\n" +
		"scenario is logged and skipped; the watcher keeps running.",
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, hash, err := loadRunConfig(watchConfig, "", "", "")
	if err != nil {
		return err
	}

	handler := func(scenario string) {
		base := strings.TrimSuffix(filepath.Base(scenario), filepath.Ext(scenario))
		outDir := filepath.Join(watchOut, base)
		res, err := pipeline.Run(cfg, hash, scenario, outDir)
		if err != nil {
			log.Error().Err(err).Str("scenario", scenario).Msg("run failed")
			return
		}
		log.Info().
			Str("scenario", scenario).
			Int("events", len(res.Events)).
			Int("tasks", len(res.Tasks)).
			Int("pending", len(res.PendingTasks)).
			Msg("run complete")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("dir", watchDir).Msg("watching for scenarios")
	return watch.New(watchDir, handler).Run(ctx)
}
