package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/clementine-kb/clementine/internal/embed"
	"github.com/clementine-kb/clementine/internal/store"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store health and per-scope counts",
		Long: `Display store diagnostics:
  - Active sources and passages per scope
  - Standby and deactivated generations awaiting purge
  - Vector index size and orphan count
  - Embedder provider and availability`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// statusInfo aggregates the diagnostics shown by the status command.
type statusInfo struct {
	DataDir       string             `json:"data_dir"`
	Scopes        []*store.ScopeStat `json:"scopes"`
	Orphans       *store.OrphanStat  `json:"inactive"`
	Vectors       int                `json:"vectors"`
	VectorOrphans int                `json:"vector_orphans"`
	Embedder      embed.EmbedderInfo `json:"embedder"`
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	a, err := openApp(ctx, "")
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := os.Stat(store.StorePath(a.dataDir)); err != nil {
		return fmt.Errorf("no store found in %s\nRun 'clementine sync' to create one", a.dataDir)
	}

	scopes, err := a.store.ScopeStats(ctx)
	if err != nil {
		return err
	}
	orphans, err := a.store.OrphanStats(ctx)
	if err != nil {
		return err
	}

	info := statusInfo{
		DataDir:       a.dataDir,
		Scopes:        scopes,
		Orphans:       orphans,
		Vectors:       a.vector.Count(),
		VectorOrphans: a.vector.Orphans(),
		Embedder:      embed.GetInfo(ctx, a.embedder),
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Data directory: %s\n\n", info.DataDir)

	w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCOPE\tSOURCES\tPASSAGES")
	for _, s := range info.Scopes {
		fmt.Fprintf(w, "%s\t%d\t%d\n", s.Scope, s.Sources, s.ActivePassages)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nInactive: %d standby, %d deactivated generations (%d passages awaiting purge)\n",
		info.Orphans.StandbyGenerations, info.Orphans.DeactivatedGenerations, info.Orphans.InactivePassages)
	fmt.Fprintf(out, "Vector index: %d vectors (%d orphaned nodes)\n",
		info.Vectors, info.VectorOrphans)
	fmt.Fprintf(out, "Embedder: %s %s (%d dims, available: %t)\n",
		info.Embedder.Provider, info.Embedder.Model, info.Embedder.Dimensions, info.Embedder.Available)
	return nil
}
