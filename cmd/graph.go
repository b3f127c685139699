package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var (
	graphChannelFilter   string
	graphIncludeDisabled bool
	graphOutputPath      string
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Render the dependency flow graph in graphviz format",
	Long: `Build the repo+branch dependency flow graph from the registered
default channels and subscriptions and write it as graphviz (dot) output.

With --channel the graph is pruned to the subgraph that flows into channels
whose name contains the given substring.`,
	RunE: runGraph,
}

//nolint:gochecknoinits // required by cobra CLI pattern
func init() {
	graphCmd.Flags().StringVar(&graphChannelFilter, "channel", "",
		"Prune to flows reaching channels containing this substring")
	graphCmd.Flags().BoolVar(&graphIncludeDisabled, "include-disabled", false,
		"Traverse disabled and frequency-none subscriptions when pruning")
	graphCmd.Flags().StringVarP(&graphOutputPath, "output", "o", "",
		"Write the graph to this file instead of stdout")
	rootCmd.AddCommand(graphCmd)
}

func runGraph(_ *cobra.Command, _ []string) error {
	engine, err := buildEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	graph, err := engine.Service.FlowGraph(graphChannelFilter, graphIncludeDisabled)
	if err != nil {
		return err
	}

	out := os.Stdout
	if graphOutputPath != "" {
		file, err := os.Create(graphOutputPath)
		if err != nil {
			return fmt.Errorf("failed to create output file %q: %w", graphOutputPath, err)
		}
		defer file.Close()
		out = file
	}

	return graph.WriteGraphViz(out)
}
