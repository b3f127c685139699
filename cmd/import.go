package cmd

import (
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load subscriptions, builds and channels from a metadata file",
	Long: `Import a declarative YAML snapshot of subscriptions, builds, default
channels and branch merge policies into the store. Merge policies are
validated before anything is written.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

//nolint:gochecknoinits // required by cobra CLI pattern
func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(_ *cobra.Command, args []string) error {
	engine, err := buildEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	return engine.Service.ImportMetadata(args[0])
}
