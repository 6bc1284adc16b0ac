package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ProviderType represents an embedding provider.
type ProviderType string

const (
	// ProviderOllama uses the Ollama HTTP API (default).
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings (offline fallback).
	ProviderStatic ProviderType = "static"

	// ProviderAuto probes Ollama and falls back to static.
	ProviderAuto ProviderType = ""
)

// FactoryConfig configures embedder construction.
type FactoryConfig struct {
	// Provider selects the embedder; empty means auto-detect.
	Provider string
	// Model is the embedding model name (Ollama only).
	Model string
	// Host is the Ollama endpoint override.
	Host string
	// Dimensions overrides dimension auto-detection when non-zero.
	Dimensions int
	// BatchSize for batch embedding requests.
	BatchSize int
	// Timeout per embedding request.
	Timeout time.Duration
	// CacheSize is the LRU embedding cache capacity; 0 disables caching.
	CacheSize int
}

// NewEmbedder creates an embedder for the given configuration.
//
// With an explicit provider, failure to construct it is an error; no
// silent fallback, since a fallback silently changes the vector space
// the index was built in. Auto-detection tries Ollama and falls back to
// the static embedder with a warning.
func NewEmbedder(ctx context.Context, cfg FactoryConfig) (Embedder, error) {
	var embedder Embedder
	var err error

	switch ParseProvider(cfg.Provider) {
	case ProviderOllama:
		embedder, err = newOllama(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("ollama unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Or use offline embeddings: clementine sync --embedder=static", err)
		}

	case ProviderStatic:
		embedder = NewStaticEmbedder()

	default: // auto-detect
		embedder, err = newOllama(ctx, cfg)
		if err != nil {
			slog.Warn("ollama unreachable, using static embeddings",
				slog.String("error", err.Error()))
			embedder = NewStaticEmbedder()
		}
	}

	if cfg.CacheSize > 0 {
		embedder = NewCachedEmbedder(embedder, cfg.CacheSize)
	}

	return embedder, nil
}

func newOllama(ctx context.Context, cfg FactoryConfig) (Embedder, error) {
	return NewOllamaEmbedder(ctx, OllamaConfig{
		Host:       cfg.Host,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		BatchSize:  cfg.BatchSize,
		Timeout:    cfg.Timeout,
	})
}

// ParseProvider converts a string to a ProviderType. Unknown values
// fall back to auto-detection.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama":
		return ProviderOllama
	case "static":
		return ProviderStatic
	default:
		return ProviderAuto
	}
}

// EmbedderInfo describes a constructed embedder.
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo returns information about an embedder, unwrapping the cache
// layer when present.
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Inner()
	}

	switch inner.(type) {
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	default:
		info.Provider = ProviderStatic
	}

	return info
}
