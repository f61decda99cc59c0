package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/revenue-digest/internal/digest"
	"github.com/sells-group/revenue-digest/internal/notify"
)

var reportDryRun bool

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Send yesterday's revenue digest once",
	Long:  "Fetches pipelines, users and yesterday's won leads, totals revenue per manager, and delivers the summary. Run faults are logged; the exit status is non-zero only for configuration errors.",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := "report"
		if reportDryRun {
			mode = "dry-run"
		}
		if err := cfg.Validate(mode); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := ensureAccessToken(ctx, env.Source); err != nil {
			return err
		}

		var sink digest.Sink
		if reportDryRun {
			sink = notify.NewWriter(cmd.OutOrStdout())
		} else {
			sink = initTelegram()
		}

		runner, err := env.runner(sink)
		if err != nil {
			return err
		}

		result := runner.Run(ctx)
		if result.Failed() {
			zap.L().Warn("report: run finished with faults", zap.String("run_id", result.RunID))
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().BoolVar(&reportDryRun, "dry-run", false, "print the message instead of sending it")
	rootCmd.AddCommand(reportCmd)
}
