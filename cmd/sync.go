package cmd

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var syncSubscriptionID string

//nolint:gochecknoglobals // required by cobra CLI pattern
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Re-examine the in-flight pull request of a subscription",
	Long: `Evaluate merge policies against the in-flight pull request of the
subscription's reconciliation unit, refresh its status comment, merge it when
the policies pass, and clean up state for merged or closed pull requests.`,
	RunE: runSync,
}

//nolint:gochecknoinits // required by cobra CLI pattern
func init() {
	syncCmd.Flags().StringVar(&syncSubscriptionID, "subscription", "",
		"Subscription id whose unit should be synchronized")
	_ = syncCmd.MarkFlagRequired("subscription")
	rootCmd.AddCommand(syncCmd)
}

func runSync(_ *cobra.Command, _ []string) error {
	engine, err := buildEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	inFlight, err := engine.Service.Synchronize(context.Background(), syncSubscriptionID)
	if err != nil {
		return err
	}

	if inFlight {
		logger.Info("pull request is still in flight")
	} else {
		logger.Info("no pull request in flight")
	}
	return nil
}
