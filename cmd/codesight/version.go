package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/codesight/internal/embedder"
	"github.com/dshills/codesight/internal/storage"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "codesight %s\n", version)
		fmt.Fprintf(out, "Build Time:     %s\n", buildTime)
		fmt.Fprintf(out, "Build Mode:     %s\n", storage.BuildMode)
		fmt.Fprintf(out, "SQLite Driver:  %s\n", storage.DriverName)
		fmt.Fprintf(out, "Schema Version: %s\n", storage.CurrentSchemaVersion)
		fmt.Fprintf(out, "Providers:      %v\n", embedder.Providers())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
