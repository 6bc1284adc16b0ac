package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/clementine-kb/clementine/internal/chunk"
	"github.com/clementine-kb/clementine/internal/config"
	"github.com/clementine-kb/clementine/internal/embed"
	"github.com/clementine-kb/clementine/internal/search"
	"github.com/clementine-kb/clementine/internal/store"
	clsync "github.com/clementine-kb/clementine/internal/sync"
)

// app holds the wired retrieval stack for one CLI invocation.
type app struct {
	cfg      *config.Config
	dataDir  string
	store    *store.Store
	lexical  store.LexicalIndex
	vector   *store.HNSWIndex
	embedder embed.Embedder
}

// openApp loads config and opens the store, indexes, and embedder.
// embedderOverride, when non-empty, forces a provider regardless of config.
func openApp(ctx context.Context, embedderOverride string) (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return nil, err
	}

	dataDir := cfg.Storage.DataDir
	if dataDirFlag != "" {
		dataDir = dataDirFlag
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	s, err := store.NewStore(store.StorePath(dataDir), store.StoreOptions{
		CacheMB:     cfg.Storage.SQLiteCacheMB,
		BusyTimeout: cfg.Storage.BusyTimeout,
	})
	if err != nil {
		return nil, err
	}

	provider := cfg.Embeddings.Provider
	if embedderOverride != "" {
		provider = embedderOverride
	}
	embedder, err := embed.NewEmbedder(ctx, embed.FactoryConfig{
		Provider:   provider,
		Model:      cfg.Embeddings.Model,
		Host:       cfg.Embeddings.OllamaHost,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
		Timeout:    cfg.Embeddings.Timeout,
		CacheSize:  cfg.Embeddings.CacheSize,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	lexical, err := store.NewLexicalIndex(cfg.Search.LexicalBackend, s, dataDir)
	if err != nil {
		_ = embedder.Close()
		_ = s.Close()
		return nil, err
	}

	vector, err := openVectorIndex(ctx, s, embedder.Dimensions(), store.VectorIndexPath(dataDir))
	if err != nil {
		lexical.Close()
		_ = embedder.Close()
		_ = s.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		dataDir:  dataDir,
		store:    s,
		lexical:  lexical,
		vector:   vector,
		embedder: embedder,
	}, nil
}

// openVectorIndex loads the persisted HNSW graph, or rebuilds it from the
// store when the file is absent, unreadable, or built for different
// dimensions. The store holds every embedding, so a rebuild loses nothing.
func openVectorIndex(ctx context.Context, s *store.Store, dims int, path string) (*store.HNSWIndex, error) {
	idx, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(dims))
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(path); statErr == nil {
		loadErr := idx.Load(path)
		if loadErr == nil && idx.Dimensions() == dims {
			return idx, nil
		}
		if loadErr != nil {
			slog.Warn("vector index unreadable, rebuilding from store",
				slog.String("path", path),
				slog.String("error", loadErr.Error()))
		} else {
			slog.Warn("vector index dimensions changed, rebuilding from store",
				slog.Int("index", idx.Dimensions()),
				slog.Int("embedder", dims))
		}
		_ = idx.Close()
		if idx, err = store.NewHNSWIndex(store.DefaultVectorIndexConfig(dims)); err != nil {
			return nil, err
		}
	}

	n, err := store.RebuildVectorIndex(ctx, s, idx)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	if n > 0 {
		slog.Info("vector index rebuilt", slog.Int("vectors", n))
	}
	return idx, nil
}

func (a *app) Close() {
	a.lexical.Close()
	_ = a.vector.Close()
	_ = a.embedder.Close()
	_ = a.store.Close()
}

func (a *app) ranker() (*search.Ranker, error) {
	return search.NewRanker(a.store, a.lexical, a.vector, a.embedder, search.RankerConfig{
		Weights: search.Weights{
			Lexical: a.cfg.Search.LexWeight,
			Vector:  a.cfg.Search.VecWeight,
		},
		RankOffset:      a.cfg.Search.RankOffset,
		OverfetchFactor: a.cfg.Search.Overfetch,
		MaxResults:      a.cfg.Search.MaxResults,
		DedupeThreshold: a.cfg.Search.DedupeThreshold,
		QueryPrefix:     a.cfg.Embeddings.QueryPrefix,
	})
}

func (a *app) coordinator() (*clsync.Coordinator, error) {
	chunker := chunk.New(chunk.Options{
		TargetSize: a.cfg.Chunking.TargetSize,
		MaxSize:    a.cfg.Chunking.MaxSize,
		MinSize:    a.cfg.Chunking.MinSize,
	})
	return clsync.NewCoordinator(a.store, a.lexical, a.vector, chunker, a.embedder, clsync.CoordinatorConfig{
		Workers:      a.cfg.Sync.Workers,
		EmbedWorkers: a.cfg.Sync.Workers,
		DocPrefix:    a.cfg.Embeddings.DocPrefix,
		OpTimeout:    a.cfg.Embeddings.Timeout,
	})
}
