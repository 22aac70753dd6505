package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <root>",
	Short: "Show the index status of a folder",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	eng, err := a.registry.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	status, err := eng.Status(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Root:       %s\n", status.RootPath)
	fmt.Fprintf(out, "Collection: %s\n", eng.Dir())
	if !status.Indexed {
		fmt.Fprintln(out, "Indexed:    no (run `codesight index` first)")
		return nil
	}
	fmt.Fprintf(out, "Indexed:    %s (%s ago)\n",
		status.LastIndexedAt.Format(time.RFC3339), time.Since(status.LastIndexedAt).Round(time.Second))
	fmt.Fprintf(out, "Stale:      %t\n", status.IsStale)
	fmt.Fprintf(out, "Files:      %d\n", status.FileCount)
	fmt.Fprintf(out, "Chunks:     %d\n", status.ChunkCount)
	fmt.Fprintf(out, "Embedding:  %s (%d dims)\n", status.EmbeddingModel, status.EmbeddingDims)
	if status.LastCommit != "" {
		fmt.Fprintf(out, "Commit:     %s\n", status.LastCommit)
	}
	return nil
}
