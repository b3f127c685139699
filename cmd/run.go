package cmd

import (
	"context"
	"os/signal"
	"syscall"

	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation engine until interrupted",
	Long: `Start the engine in daemon mode: recover reminders for durable state
left by a previous run, then keep the periodic pull request checks and
pending-update drains firing until the process is interrupted.`,
	RunE: runEngine,
}

//nolint:gochecknoinits // required by cobra CLI pattern
func init() {
	rootCmd.AddCommand(runCmd)
}

func runEngine(_ *cobra.Command, _ []string) error {
	engine, err := buildEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Service.Recover(ctx); err != nil {
		return err
	}

	logger.Info("engine running, waiting for reminders; press Ctrl+C to stop")
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
