package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	scope    string
	limit    int
	format   string // "text", "json"
	embedder string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a scope's synced documents",
		Long: `Search runs hybrid retrieval over one scope.

Keyword and semantic rankings are fused with reciprocal rank fusion,
near-duplicate passages are suppressed, and the top passages come back
with their source keys.

Examples:
  clementine search "rotate credentials" --scope tenant-a
  clementine search "failover procedure" --scope ops -k 10 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.scope, "scope", "s", "", "Scope to search (required)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "k", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringVar(&opts.embedder, "embedder", "", "Embedding provider override: ollama, static")
	_ = cmd.MarkFlagRequired("scope")

	return cmd
}

// searchResultJSON is the stable JSON shape for scripted consumers.
type searchResultJSON struct {
	ID        string  `json:"id"`
	SourceKey string  `json:"source_key"`
	Seq       int     `json:"seq"`
	Score     float64 `json:"score"`
	LexRank   int     `json:"lex_rank,omitempty"`
	VecRank   int     `json:"vec_rank,omitempty"`
	Content   string  `json:"content"`
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	a, err := openApp(ctx, opts.embedder)
	if err != nil {
		return err
	}
	defer a.Close()

	ranker, err := a.ranker()
	if err != nil {
		return err
	}

	limit := opts.limit
	if limit <= 0 {
		limit = a.cfg.Search.MaxResults
	}

	results, err := ranker.Retrieve(ctx, opts.scope, query, limit)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		out := make([]searchResultJSON, len(results))
		for i, r := range results {
			out[i] = searchResultJSON{
				ID:        r.Passage.ID,
				SourceKey: r.Passage.SourceKey,
				Seq:       r.Passage.Seq,
				Score:     r.Score,
				LexRank:   r.LexRank,
				VecRank:   r.VecRank,
				Content:   r.Passage.Content,
			}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No results.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%d. %s #%d (score %.4f)\n",
			i+1, r.Passage.SourceKey, r.Passage.Seq, r.Score)
		fmt.Fprintln(cmd.OutOrStdout(), indent(snippet(r.Passage.Content, 400), "   "))
	}
	return nil
}

// snippet truncates content at a rune boundary for terminal display.
func snippet(s string, max int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "…"
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
