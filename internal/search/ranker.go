package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/clementine-kb/clementine/internal/embed"
	"github.com/clementine-kb/clementine/internal/store"
)

// ErrNilDependency is returned when a required dependency is missing.
var ErrNilDependency = errors.New("nil dependency")

// Ranker runs hybrid retrieval over one passage store. Lexical candidates
// come from the configured lexical backend, vector candidates from the ANN
// index; both are filtered to the active generations before fusion so a
// half-finished sync can never leak standby passages into results.
type Ranker struct {
	store    *store.Store
	lexical  store.LexicalIndex
	vector   store.VectorIndex
	embedder embed.Embedder
	cfg      RankerConfig
}

// NewRanker creates a ranker. All dependencies are required.
func NewRanker(s *store.Store, lexical store.LexicalIndex, vector store.VectorIndex, embedder embed.Embedder, cfg RankerConfig) (*Ranker, error) {
	if s == nil {
		return nil, errors.Join(ErrNilDependency, errors.New("store is required"))
	}
	if lexical == nil {
		return nil, errors.Join(ErrNilDependency, errors.New("lexical index is required"))
	}
	if vector == nil {
		return nil, errors.Join(ErrNilDependency, errors.New("vector index is required"))
	}
	if embedder == nil {
		return nil, errors.Join(ErrNilDependency, errors.New("embedder is required"))
	}

	def := DefaultRankerConfig()
	if cfg.RankOffset <= 0 {
		cfg.RankOffset = def.RankOffset
	}
	if cfg.OverfetchFactor <= 0 {
		cfg.OverfetchFactor = def.OverfetchFactor
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.Weights.Lexical == 0 && cfg.Weights.Vector == 0 {
		cfg.Weights = def.Weights
	}

	return &Ranker{store: s, lexical: lexical, vector: vector, embedder: embedder, cfg: cfg}, nil
}

// Retrieve returns the top k passages for a query within one scope.
//
// The two lookups run concurrently, each overfetching so fusion sees enough
// candidates. If exactly one signal fails the other's results are returned
// alone; only a total failure surfaces an error. A zero weight skips its
// lookup entirely.
func (r *Ranker) Retrieve(ctx context.Context, scope, query string, k int) ([]*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*Result{}, nil
	}
	if k <= 0 {
		k = r.cfg.MaxResults
	}
	overfetch := max(k*r.cfg.OverfetchFactor, k)

	var (
		lexResults []*store.LexicalResult
		vecResults []*store.VectorResult
		lexErr     error
		vecErr     error
	)
	lexEnabled := r.cfg.Weights.Lexical > 0
	vecEnabled := r.cfg.Weights.Vector > 0

	g, gctx := errgroup.WithContext(ctx)
	if lexEnabled {
		g.Go(func() error {
			lexResults, lexErr = r.lexical.Search(gctx, scope, query, overfetch)
			return nil
		})
	}
	if vecEnabled {
		g.Go(func() error {
			embedding, err := r.embedder.Embed(gctx, r.cfg.QueryPrefix+query)
			if err != nil {
				vecErr = err
				return nil
			}
			vecResults, vecErr = r.vector.Search(gctx, scope, embedding, overfetch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lexFailed := lexEnabled && lexErr != nil
	vecFailed := vecEnabled && vecErr != nil
	switch {
	case lexFailed && vecFailed:
		return nil, errors.Join(lexErr, vecErr)
	case (lexFailed && !vecEnabled) || (vecFailed && !lexEnabled):
		if lexErr != nil {
			return nil, lexErr
		}
		return nil, vecErr
	case lexFailed:
		slog.Warn("lexical search failed, degrading to vector only",
			slog.String("scope", scope),
			slog.String("error", lexErr.Error()))
		lexResults = nil
	case vecFailed:
		slog.Warn("vector search failed, degrading to lexical only",
			slog.String("scope", scope),
			slog.String("error", vecErr.Error()))
		vecResults = nil
	}

	lexResults, vecResults, err := r.filterActive(ctx, scope, lexResults, vecResults)
	if err != nil {
		return nil, err
	}

	fused := fuse(lexResults, vecResults, r.cfg.Weights, r.cfg.RankOffset)
	if len(fused) == 0 {
		return []*Result{}, nil
	}

	results, err := r.enrich(ctx, fused)
	if err != nil {
		return nil, err
	}

	results = dedupeResults(results, r.cfg.DedupeThreshold)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// filterActive drops candidates that do not belong to an active generation.
// The SQLite lexical backend is already active-only; the Bleve backend and
// the vector index are not, since they hold standby and not-yet-purged
// entries.
func (r *Ranker) filterActive(ctx context.Context, scope string, lex []*store.LexicalResult, vec []*store.VectorResult) ([]*store.LexicalResult, []*store.VectorResult, error) {
	seen := make(map[string]struct{}, len(lex)+len(vec))
	var candidates []string
	for _, c := range lex {
		if _, ok := seen[c.ID]; !ok {
			seen[c.ID] = struct{}{}
			candidates = append(candidates, c.ID)
		}
	}
	for _, c := range vec {
		if _, ok := seen[c.ID]; !ok {
			seen[c.ID] = struct{}{}
			candidates = append(candidates, c.ID)
		}
	}
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	active, err := r.store.ActiveIDs(ctx, scope, candidates)
	if err != nil {
		return nil, nil, err
	}

	lexOut := lex[:0]
	for _, c := range lex {
		if _, ok := active[c.ID]; ok {
			lexOut = append(lexOut, c)
		}
	}
	vecOut := vec[:0]
	for _, c := range vec {
		if _, ok := active[c.ID]; ok {
			vecOut = append(vecOut, c)
		}
	}
	return lexOut, vecOut, nil
}

// enrich loads full passage rows for the fused candidates, preserving the
// fusion order. Candidates purged between lookup and load drop out.
func (r *Ranker) enrich(ctx context.Context, fused []*fusedPassage) ([]*Result, error) {
	ids := make([]string, len(fused))
	byID := make(map[string]*fusedPassage, len(fused))
	for i, f := range fused {
		ids[i] = f.id
		byID[f.id] = f
	}

	passages, err := r.store.GetPassages(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(passages))
	for _, p := range passages {
		f, ok := byID[p.ID]
		if !ok {
			continue
		}
		results = append(results, &Result{
			Passage:     p,
			Score:       f.score,
			LexScore:    f.lexScore,
			VecScore:    f.vecScore,
			LexRank:     f.lexRank,
			VecRank:     f.vecRank,
			InBothLists: f.inBothLists,
		})
	}
	return results, nil
}
