// Package main provides the entry point for the tablefang CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tablefang/cmd/tablefang/commands"
	"github.com/Sumatoshi-tech/tablefang/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tablefang",
		Short: "Tablefang - generative table execution service",
		Long: `Tablefang runs generative tables: tabular stores whose output columns
are produced by language models, embedders and code snippets.

Commands:
  serve     Run the service (flusher, metrics, index maintenance)
  inspect   Show a table's schema and recent rows
  export    Write a table to an archive file
  import    Create a table from an archive file`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")

	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewInspectCommand())
	rootCmd.AddCommand(commands.NewExportCommand())
	rootCmd.AddCommand(commands.NewImportCommand())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "tablefang %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
