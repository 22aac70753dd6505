package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/codesight/internal/searcher"
	"github.com/dshills/codesight/pkg/types"
)

var (
	searchTopK    int
	searchGlob    string
	searchRefresh string
	searchMode    string
	searchJSON    bool
)

var searchCmd = &cobra.Command{
	Use:   "search <root> <query>",
	Short: "Search an indexed folder",
	Long: `Performs hybrid search over the collection for <root>.
Combines keyword (BM25) and semantic (vector) rankings with Reciprocal Rank Fusion.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "maximum number of results (default from config)")
	searchCmd.Flags().StringVarP(&searchGlob, "glob", "g", "", "only search files whose relative path matches this glob")
	searchCmd.Flags().StringVar(&searchRefresh, "refresh", string(types.RefreshNone), "refresh a stale collection first: none, blocking or background")
	searchCmd.Flags().StringVar(&searchMode, "mode", string(searcher.SearchModeHybrid), "hybrid, vector or keyword")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	eng, err := a.registry.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	resp, err := eng.SearchDetailed(cmd.Context(), types.SearchOptions{
		Query:    strings.Join(args[1:], " "),
		TopK:     searchTopK,
		FileGlob: searchGlob,
		Refresh:  types.RefreshMode(searchRefresh),
	}, searcher.SearchMode(searchMode))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		data, err := json.MarshalIndent(resp.Results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	return outputSearchText(cmd, resp)
}

func outputSearchText(cmd *cobra.Command, resp *searcher.Response) error {
	if resp.Degraded != "" {
		cmd.PrintErrf("warning: %s search unavailable, results are partial\n", resp.Degraded)
	}
	if len(resp.Results) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	for i, r := range resp.Results {
		header := fmt.Sprintf("[%d] %s:%d-%d", i+1, r.FilePath, r.StartLine, r.EndLine)
		if r.Scope != "" {
			header += "  " + r.Scope
		}
		cmd.Printf("%s  (score %.4f, keyword %s, vector %s)\n", header, r.FusedScore, rankString(r.KeywordRank), rankString(r.VectorRank))
		cmd.Println(indent(snippet(r.Content, 6), "    "))
		cmd.Println()
	}
	return nil
}

func rankString(rank *int) string {
	if rank == nil {
		return "-"
	}
	return fmt.Sprintf("#%d", *rank)
}

// snippet keeps the first n lines of s
func snippet(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = append(lines[:n], "...")
	}
	return strings.Join(lines, "\n")
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
