package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/clementine-kb/clementine/internal/store"
)

// RunnerConfig tunes the long-running sync loop.
type RunnerConfig struct {
	// SyncInterval is how often every scope is reconciled even without
	// filesystem events. Safety net for missed events and remote edits.
	SyncInterval time.Duration

	// PurgeInterval is how often inactive generations are swept.
	PurgeInterval time.Duration

	// PurgeGrace is how long a generation stays after deactivation so
	// in-flight queries finish against it.
	PurgeGrace time.Duration

	// Watch enables filesystem watching for near-immediate resync.
	Watch bool

	// OrphanThreshold is the vector-index orphan ratio that triggers a
	// compacting rebuild after a purge.
	OrphanThreshold float64

	// MinOrphanCount skips compaction below this many orphans, whatever
	// the ratio.
	MinOrphanCount int

	// VectorIndexPath, when set, persists the vector index after each
	// sync pass and on shutdown.
	VectorIndexPath string
}

// DefaultRunnerConfig returns the standard loop tuning.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		SyncInterval:    5 * time.Minute,
		PurgeInterval:   15 * time.Minute,
		PurgeGrace:      time.Minute,
		OrphanThreshold: 0.2,
		MinOrphanCount:  100,
	}
}

// Runner owns the sync lifecycle for a data directory: an exclusive
// process lock, an initial full pass, periodic reconciliation, optional
// watch triggers, and a trailing purge that removes aged-out generations
// from the store and both indexes.
type Runner struct {
	coord    *Coordinator
	store    *store.Store
	vector   store.VectorIndex
	lexical  store.LexicalIndex
	sources  map[string]Source
	dirs     map[string]string
	lock     *ProcessLock
	cfg      RunnerConfig
	watchOpt WatcherOptions
}

// NewRunner wires the loop. sources maps scope names to their backends;
// dirs maps scope names to watched directories and may be nil when
// watching is off.
func NewRunner(coord *Coordinator, s *store.Store, vector store.VectorIndex, lexical store.LexicalIndex, sources map[string]Source, dirs map[string]string, lock *ProcessLock, cfg RunnerConfig) *Runner {
	def := DefaultRunnerConfig()
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = def.PurgeInterval
	}
	if cfg.PurgeGrace <= 0 {
		cfg.PurgeGrace = def.PurgeGrace
	}
	if cfg.OrphanThreshold <= 0 {
		cfg.OrphanThreshold = def.OrphanThreshold
	}
	if cfg.MinOrphanCount <= 0 {
		cfg.MinOrphanCount = def.MinOrphanCount
	}
	return &Runner{
		coord:    coord,
		store:    s,
		vector:   vector,
		lexical:  lexical,
		sources:  sources,
		dirs:     dirs,
		lock:     lock,
		cfg:      cfg,
		watchOpt: DefaultWatcherOptions(),
	}
}

// SyncAll reconciles every scope once. Per-scope failures are logged and
// the pass continues; the error covers scopes that could not even start.
func (r *Runner) SyncAll(ctx context.Context) error {
	var errs []error
	for scope, src := range r.sources {
		if _, err := r.coord.SyncScope(ctx, scope, src); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("scope sync failed",
				slog.String("scope", scope),
				slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	r.saveVectorIndex()
	return errors.Join(errs...)
}

// SyncScope reconciles a single named scope.
func (r *Runner) SyncScope(ctx context.Context, scope string) error {
	src, ok := r.sources[scope]
	if !ok {
		return errors.New("unknown scope: " + scope)
	}
	_, err := r.coord.SyncScope(ctx, scope, src)
	r.saveVectorIndex()
	return err
}

// Run holds the process lock and loops until the context is cancelled.
// Order inside the loop: watch triggers resync single scopes, the sync
// ticker resyncs everything, and the purge ticker trails both so grace
// periods have elapsed before anything is removed.
func (r *Runner) Run(ctx context.Context) error {
	if r.lock != nil {
		if err := r.lock.Acquire(); err != nil {
			return err
		}
		defer func() {
			if err := r.lock.Release(); err != nil {
				slog.Warn("release process lock", slog.String("error", err.Error()))
			}
		}()
	}

	if err := r.SyncAll(ctx); err != nil {
		slog.Warn("initial sync incomplete", slog.String("error", err.Error()))
	}

	var triggers <-chan string
	if r.cfg.Watch && len(r.dirs) > 0 {
		w, err := NewWatcher(r.dirs, r.watchOpt)
		if err != nil {
			return err
		}
		triggers = w.Triggers()
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("watcher stopped", slog.String("error", err.Error()))
			}
		}()
		defer func() { _ = w.Stop() }()
	}

	syncTicker := time.NewTicker(r.cfg.SyncInterval)
	defer syncTicker.Stop()
	purgeTicker := time.NewTicker(r.cfg.PurgeInterval)
	defer purgeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.saveVectorIndex()
			return ctx.Err()
		case scope, ok := <-triggers:
			if !ok {
				triggers = nil
				continue
			}
			if err := r.SyncScope(ctx, scope); err != nil {
				slog.Warn("triggered sync failed",
					slog.String("scope", scope),
					slog.String("error", err.Error()))
			}
		case <-syncTicker.C:
			if err := r.SyncAll(ctx); err != nil {
				slog.Warn("periodic sync incomplete", slog.String("error", err.Error()))
			}
		case <-purgeTicker.C:
			if err := r.Purge(ctx); err != nil {
				slog.Warn("purge failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Purge removes generations inactive longer than the grace period, then
// drops their passages from the vector and lexical indexes. The store is
// the source of truth; index deletions follow whatever it purged.
func (r *Runner) Purge(ctx context.Context) error {
	ids, err := r.store.PurgeInactive(ctx, time.Now().Add(-r.cfg.PurgeGrace))
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	if err := r.vector.Delete(ctx, ids); err != nil {
		return err
	}
	if err := r.lexical.Delete(ctx, ids); err != nil {
		return err
	}

	slog.Info("purged inactive generations", slog.Int("passages", len(ids)))
	r.compactVectorIndex(ctx)
	r.saveVectorIndex()
	return nil
}

// compactVectorIndex rebuilds the HNSW graph once lazy deletions pile up.
// Other VectorIndex implementations reclaim space on Delete and skip this.
func (r *Runner) compactVectorIndex(ctx context.Context) {
	hn, ok := r.vector.(*store.HNSWIndex)
	if !ok {
		return
	}

	orphans := hn.Orphans()
	live := hn.Count()
	if orphans < r.cfg.MinOrphanCount {
		return
	}
	if float64(orphans)/float64(orphans+live) < r.cfg.OrphanThreshold {
		return
	}

	n, err := hn.Compact(ctx, r.store)
	if err != nil {
		slog.Warn("vector index compaction failed", slog.String("error", err.Error()))
		return
	}
	slog.Info("vector index compacted",
		slog.Int("vectors", n),
		slog.Int("orphans_dropped", orphans))
}

func (r *Runner) saveVectorIndex() {
	if r.cfg.VectorIndexPath == "" {
		return
	}
	if err := r.vector.Save(r.cfg.VectorIndexPath); err != nil {
		slog.Warn("save vector index", slog.String("error", err.Error()))
	}
}
