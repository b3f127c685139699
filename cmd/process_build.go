package cmd

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var (
	processBuildID      string
	processBuildChannel string
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var processBuildCmd = &cobra.Command{
	Use:   "process-build",
	Short: "Fan a build-completion event out to watching subscriptions",
	Long: `Notify every enabled subscription watching the given channel and the
build's source repository. Distinct reconciliation units are processed
concurrently.`,
	RunE: runProcessBuild,
}

//nolint:gochecknoinits // required by cobra CLI pattern
func init() {
	processBuildCmd.Flags().StringVar(&processBuildID, "build", "",
		"Build id that completed")
	processBuildCmd.Flags().StringVar(&processBuildChannel, "channel", "",
		"Channel the build was published to")
	_ = processBuildCmd.MarkFlagRequired("build")
	_ = processBuildCmd.MarkFlagRequired("channel")
	rootCmd.AddCommand(processBuildCmd)
}

func runProcessBuild(_ *cobra.Command, _ []string) error {
	engine, err := buildEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	results, err := engine.Service.ProcessBuild(
		context.Background(), processBuildID, processBuildChannel,
	)
	if err != nil {
		return err
	}

	for _, result := range results {
		if result.Err != nil {
			logger.Errorf("subscription %s: %v", result.SubscriptionID, result.Err)
			continue
		}
		logger.Infof(
			"subscription %s: %s %s",
			result.SubscriptionID, result.Outcome.Kind, result.Outcome.Message,
		)
	}
	return nil
}
