package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clementine-kb/clementine/internal/chunk"
	"github.com/clementine-kb/clementine/internal/embed"
	apperrors "github.com/clementine-kb/clementine/internal/errors"
	"github.com/clementine-kb/clementine/internal/store"
)

// CoordinatorConfig tunes sync behavior.
type CoordinatorConfig struct {
	// Workers bounds how many source keys sync in parallel within a scope.
	Workers int

	// EmbedWorkers bounds concurrent embedding calls per source.
	EmbedWorkers int

	// DocPrefix is prepended to passage text before embedding, for models
	// with asymmetric document/query prefixes.
	DocPrefix string

	// OpTimeout bounds each store or embedding call. Zero disables.
	OpTimeout time.Duration
}

// DefaultCoordinatorConfig returns the standard sync tuning.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Workers:      4,
		EmbedWorkers: 4,
		OpTimeout:    30 * time.Second,
	}
}

// ScopeResult summarizes one sync pass over a scope.
type ScopeResult struct {
	Scope     string
	Synced    int // new generations activated
	Unchanged int // fingerprints already active
	Removed   int // keys gone from the source, deactivated
	Deferred  int // fingerprint moved mid-sync, generation left standby
	Failed    int // keys that could not be ingested this pass
}

// Coordinator drives the ingest pipeline for each changed source key:
// fetch, chunk, embed, standby upsert, fingerprint re-check, activate.
// Work for the same (scope, key) serializes on a keyed mutex; distinct keys
// proceed in parallel, and one key's failure never touches another's
// generation.
type Coordinator struct {
	store    *store.Store
	lexical  store.LexicalIndex
	vector   store.VectorIndex
	chunker  *chunk.Chunker
	embedder embed.Embedder
	cfg      CoordinatorConfig

	keys     *keyedMutex
	retryCfg apperrors.RetryConfig
}

// NewCoordinator wires the pipeline. All dependencies are required.
func NewCoordinator(s *store.Store, lexical store.LexicalIndex, vector store.VectorIndex, chunker *chunk.Chunker, embedder embed.Embedder, cfg CoordinatorConfig) (*Coordinator, error) {
	if s == nil || lexical == nil || vector == nil || chunker == nil || embedder == nil {
		return nil, apperrors.New(apperrors.CodeConfigInvalid,
			"sync coordinator requires store, lexical index, vector index, chunker, and embedder", nil)
	}

	def := DefaultCoordinatorConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.EmbedWorkers <= 0 {
		cfg.EmbedWorkers = def.EmbedWorkers
	}

	return &Coordinator{
		store:    s,
		lexical:  lexical,
		vector:   vector,
		chunker:  chunker,
		embedder: embedder,
		cfg:      cfg,
		keys:     newKeyedMutex(),
		retryCfg: apperrors.RetryConfig{
			MaxRetries:   2,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
			Jitter:       true,
		},
	}, nil
}

// SyncScope reconciles one scope against its source: a snapshot listing is
// diffed against the active fingerprints, unchanged keys are skipped,
// changed and new keys ingest in parallel, and keys missing from the source
// are deactivated and left for the purge pass.
func (c *Coordinator) SyncScope(ctx context.Context, scope string, src Source) (*ScopeResult, error) {
	objects, err := src.List(ctx)
	if err != nil {
		return nil, err
	}

	active, err := c.store.ActiveFingerprints(ctx, scope)
	if err != nil {
		return nil, err
	}

	result := &ScopeResult{Scope: scope}
	present := make(map[string]struct{}, len(objects))
	var work []Object
	for _, obj := range objects {
		present[obj.Key] = struct{}{}
		if active[obj.Key] == obj.Fingerprint {
			result.Unchanged++
			continue
		}
		work = append(work, obj)
	}

	for key := range active {
		if _, ok := present[key]; ok {
			continue
		}
		if err := c.store.Deactivate(ctx, scope, key); err != nil {
			slog.Warn("deactivate removed source failed",
				slog.String("scope", scope),
				slog.String("key", key),
				slog.String("error", err.Error()))
			result.Failed++
			continue
		}
		slog.Info("source removed, generation deactivated",
			slog.String("scope", scope),
			slog.String("key", key))
		result.Removed++
	}

	var mu gosync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for _, obj := range work {
		g.Go(func() error {
			err := c.syncSource(gctx, scope, src, obj)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Synced++
			case apperrors.GetCode(err) == apperrors.CodeStaleFingerprint:
				result.Deferred++
			default:
				// One key's failure stays its own: the prior active
				// generation is untouched and other keys keep going.
				slog.Warn("source sync failed",
					slog.String("scope", scope),
					slog.String("key", obj.Key),
					slog.String("error", err.Error()))
				result.Failed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	slog.Info("scope sync complete",
		slog.String("scope", scope),
		slog.Int("synced", result.Synced),
		slog.Int("unchanged", result.Unchanged),
		slog.Int("removed", result.Removed),
		slog.Int("deferred", result.Deferred),
		slog.Int("failed", result.Failed))
	return result, nil
}

// syncSource ingests one object as a standby generation and flips it
// active. If the source's fingerprint moves between listing and activation
// the generation stays standby for the next pass to supersede; the
// currently active generation keeps serving either way.
func (c *Coordinator) syncSource(ctx context.Context, scope string, src Source, obj Object) error {
	unlock := c.keys.lock(scope + "\x00" + obj.Key)
	defer unlock()

	content, err := src.Fetch(ctx, obj.Key)
	if err != nil {
		return err
	}

	segments, err := c.chunker.Chunk(string(content))
	if err != nil {
		return err
	}

	vectors, err := c.embedSegments(ctx, segments)
	if err != nil {
		return err
	}

	passages := make([]*store.Passage, len(segments))
	ids := make([]string, len(segments))
	for i, seg := range segments {
		id := store.PassageID(scope, obj.Key, obj.Fingerprint, i, seg)
		passages[i] = &store.Passage{
			ID:        id,
			Scope:     scope,
			SourceKey: obj.Key,
			Seq:       i,
			Content:   seg,
			Embedding: vectors[i],
		}
		ids[i] = id
	}

	gen := store.Generation{Scope: scope, SourceKey: obj.Key, Fingerprint: obj.Fingerprint}
	opCtx, cancel := c.opContext(ctx)
	_, err = c.store.UpsertStandby(opCtx, gen, passages)
	cancel()
	if err != nil {
		if apperrors.GetCode(err) != apperrors.CodeConflict {
			return err
		}
		// Another run already inserted this generation but may have died
		// before indexing or activating it. Resume from here: re-indexing
		// is an upsert, and Activate is a no-op when the other run won.
		slog.Debug("generation already present, resuming",
			slog.String("scope", scope),
			slog.String("key", obj.Key),
			slog.String("fingerprint", obj.Fingerprint))
	}

	// Standby vectors go into the shared indexes now; readers cannot see
	// them until the active flag flips.
	if err := c.vector.Add(ctx, scope, ids, vectors); err != nil {
		return err
	}
	if err := c.lexical.Index(ctx, passages); err != nil {
		return err
	}

	current, err := src.Stat(ctx, obj.Key)
	if err != nil {
		return err
	}
	if current != obj.Fingerprint {
		return apperrors.New(apperrors.CodeStaleFingerprint,
			fmt.Sprintf("%s/%s changed during sync (%s -> %s)", scope, obj.Key, obj.Fingerprint, current), nil)
	}

	opCtx, cancel = c.opContext(ctx)
	defer cancel()
	return c.store.Activate(opCtx, scope, obj.Key, obj.Fingerprint)
}

// embedSegments embeds every segment with bounded concurrency. Retryable
// embedding failures get a short backoff; any segment failing permanently
// abandons the whole generation.
func (c *Coordinator) embedSegments(ctx context.Context, segments []string) ([][]float32, error) {
	vectors := make([][]float32, len(segments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.EmbedWorkers)
	for i, seg := range segments {
		g.Go(func() error {
			return apperrors.Retry(gctx, c.retryCfg, func() error {
				opCtx, cancel := c.opContext(gctx)
				defer cancel()
				vec, err := c.embedder.Embed(opCtx, c.cfg.DocPrefix+seg)
				if err != nil {
					return err
				}
				vectors[i] = vec
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (c *Coordinator) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.OpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.OpTimeout)
}
