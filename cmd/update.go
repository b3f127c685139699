package cmd

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var (
	updateSubscriptionID string
	updateBuildID        string
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var updateAssetsCmd = &cobra.Command{
	Use:   "update-assets",
	Short: "Reconcile one subscription against a registered build",
	Long: `Run one reconciliation pass for a subscription and a build.

Depending on the state of the unit's in-flight pull request this creates a
new pull request, amends the existing one, or queues the update durably
until the pull request becomes updatable.`,
	RunE: runUpdateAssets,
}

//nolint:gochecknoinits // required by cobra CLI pattern
func init() {
	updateAssetsCmd.Flags().StringVar(&updateSubscriptionID, "subscription", "",
		"Subscription id to reconcile")
	updateAssetsCmd.Flags().StringVar(&updateBuildID, "build", "",
		"Build id carrying the new assets")
	_ = updateAssetsCmd.MarkFlagRequired("subscription")
	_ = updateAssetsCmd.MarkFlagRequired("build")
	rootCmd.AddCommand(updateAssetsCmd)
}

func runUpdateAssets(_ *cobra.Command, _ []string) error {
	engine, err := buildEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	outcome, err := engine.Service.UpdateAssets(
		context.Background(), updateSubscriptionID, updateBuildID,
	)
	if err != nil {
		return err
	}

	logger.Infof("%s: %s", outcome.Kind, outcome.Message)
	return nil
}
