package cmd

import (
	"fmt"

	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rios0rios0/depflow/config"
	"github.com/rios0rios0/depflow/internal"
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var (
	configPath string
	verbose    bool
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var rootCmd = &cobra.Command{
	Use:   "depflow",
	Short: "Cross-repository dependency flow reconciliation engine",
	Long: `depflow propagates dependency versions between repositories.

Producer repositories publish builds to channels; subscriptions declare that
a target repository branch follows a channel. When a build completes, depflow
computes the required dependency updates (including transitive coherency
moves), opens or amends a pull request on the target branch, evaluates merge
policies, and merges the pull request automatically once they pass.`,
}

func Execute() error {
	return rootCmd.Execute()
}

//nolint:gochecknoinits // required by cobra CLI pattern
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to config file (default: auto-detect)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable verbose output")
}

// buildEngine loads the configuration and wires the engine. Callers own the
// returned engine and must Close it.
func buildEngine() (*internal.Engine, error) {
	if verbose {
		logger.SetLevel(logger.DebugLevel)
	}

	cfgPath := configPath
	if cfgPath == "" {
		var err error
		cfgPath, err = config.FindConfigFile()
		if err != nil {
			return nil, fmt.Errorf(
				"no config file found: %w\nSpecify one with --config or create depflow.yaml",
				err,
			)
		}
	}

	logger.Infof("Using config file: %s", cfgPath)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return internal.InjectEngine(cfg)
}
