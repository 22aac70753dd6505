package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var indexForce bool

var indexCmd = &cobra.Command{
	Use:   "index <root>",
	Short: "Index a folder",
	Long: `Brings the collection for <root> in step with the folder. Only new or
changed files are chunked and embedded; deleted files are pruned.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVarP(&indexForce, "force", "f", false, "discard the collection and re-index every file")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	eng, err := a.registry.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	stats, err := eng.Index(cmd.Context(), indexForce)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexed %s\n", eng.Root())
	if stats.FullRebuild {
		fmt.Fprintln(out, "  Full rebuild")
	}
	fmt.Fprintf(out, "  Files:  %d processed, %d unchanged, %d deleted, %d failed\n",
		stats.FilesProcessed, stats.FilesUnchanged, stats.FilesDeleted, stats.FilesFailed)
	fmt.Fprintf(out, "  Chunks: %d written, %d reused, %d deleted, %d total\n",
		stats.ChunksWritten, stats.ChunksReused, stats.ChunksDeleted, stats.ChunksTotal)
	fmt.Fprintf(out, "  Embedding calls: %d (%d texts)\n", stats.EmbeddingCalls, stats.TextsEmbedded)
	fmt.Fprintf(out, "  Duration: %s\n", stats.Duration.Round(time.Millisecond))

	if len(stats.Failures) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Failed files:")
		for _, f := range stats.Failures {
			fmt.Fprintf(out, "  - %s: %s\n", f.Path, f.Reason)
		}
	}
	return nil
}
