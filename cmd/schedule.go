package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/revenue-digest/internal/model"
	"github.com/sells-group/revenue-digest/internal/schedule"
)

var scheduleRunNow bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Send the digest every day at schedule.at",
	Long:  "Runs in the foreground and sends the digest once a day. With schedule.refresh_tokens set, the token pair is renewed before each run. Stops on SIGINT or SIGTERM.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("schedule"); err != nil {
			return err
		}
		daily, err := schedule.Parse(cfg.Schedule.At, cfg.Schedule.Timezone)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := ensureAccessToken(ctx, e.Source); err != nil {
			return err
		}

		runner, err := e.runner(initTelegram())
		if err != nil {
			return err
		}

		job := scheduledJob(runner, e.Tokens, cfg.Schedule.RefreshTokens)
		zap.L().Info("schedule: started", zap.Stringer("daily", daily))
		if scheduleRunNow {
			job(ctx)
		}

		if err := daily.Run(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

type refresher interface {
	Refresh(ctx context.Context) (*model.TokenPair, error)
}

// scheduledJob refreshes tokens (when enabled) and then sends one digest. A
// failed refresh is logged and the run proceeds with the previous token.
func scheduledJob(runner reportRunner, tokens refresher, refresh bool) func(context.Context) {
	return func(ctx context.Context) {
		if refresh {
			if _, err := tokens.Refresh(ctx); err != nil {
				zap.L().Warn("schedule: token refresh failed, using previous token", zap.Error(err))
			}
		}
		runner.Run(ctx)
	}
}

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleRunNow, "run-now", false, "send one digest immediately before waiting")
	rootCmd.AddCommand(scheduleCmd)
}
