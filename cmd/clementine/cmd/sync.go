package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clementine-kb/clementine/internal/store"
	clsync "github.com/clementine-kb/clementine/internal/sync"
)

// syncOptions holds CLI flags for sync.
type syncOptions struct {
	manifest string
	scope    string
	watch    bool
	embedder string
}

func newSyncCmd() *cobra.Command {
	var opts syncOptions

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync document sources into the passage store",
		Long: `Sync reconciles each scope's source directory with the passage store.

Unchanged documents are skipped, changed ones ingest as standby
generations and flip active atomically, and deleted ones are
deactivated. With --watch, sync keeps running: filesystem events
trigger per-scope resyncs and a periodic pass catches anything missed.

Examples:
  clementine sync --manifest clementine.yaml
  clementine sync --scope tenant-a
  clementine sync --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.manifest, "manifest", "m", "clementine.yaml", "Sync manifest path")
	cmd.Flags().StringVarP(&opts.scope, "scope", "s", "", "Sync only this scope")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Keep running and resync on filesystem changes")
	cmd.Flags().StringVar(&opts.embedder, "embedder", "", "Embedding provider override: ollama, static")

	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command, opts syncOptions) error {
	manifest, err := clsync.LoadManifest(opts.manifest)
	if err != nil {
		return err
	}
	sources, err := manifest.Sources()
	if err != nil {
		return err
	}

	dirs := make(map[string]string, len(manifest.Scopes))
	for scope, spec := range manifest.Scopes {
		dirs[scope] = spec.Path
	}

	if opts.scope != "" {
		src, ok := sources[opts.scope]
		if !ok {
			return fmt.Errorf("scope %q not in manifest %s", opts.scope, opts.manifest)
		}
		sources = map[string]clsync.Source{opts.scope: src}
		dirs = map[string]string{opts.scope: dirs[opts.scope]}
	}

	a, err := openApp(ctx, opts.embedder)
	if err != nil {
		return err
	}
	defer a.Close()

	coord, err := a.coordinator()
	if err != nil {
		return err
	}

	lock := clsync.NewProcessLock(a.dataDir)
	runner := clsync.NewRunner(coord, a.store, a.vector, a.lexical, sources, dirs, lock, clsync.RunnerConfig{
		SyncInterval:    a.cfg.Sync.Interval,
		PurgeGrace:      a.cfg.Sync.PurgeGrace,
		OrphanThreshold: a.cfg.Sync.OrphanThreshold,
		MinOrphanCount:  a.cfg.Sync.MinOrphanCount,
		Watch:           opts.watch,
		VectorIndexPath: store.VectorIndexPath(a.dataDir),
	})

	if opts.watch {
		fmt.Fprintln(cmd.OutOrStdout(), "Watching for changes. Press Ctrl-C to stop.")
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}

	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	if err := runner.SyncAll(ctx); err != nil {
		return err
	}
	if err := runner.Purge(ctx); err != nil {
		return err
	}

	stats, err := a.store.ScopeStats(ctx)
	if err != nil {
		return err
	}
	for _, st := range stats {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sources, %d passages\n",
			st.Scope, st.Sources, st.ActivePassages)
	}
	return nil
}
