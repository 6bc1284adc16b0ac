// Package store provides the persistence layer for passages: a SQLite
// metadata store with generation-scoped visibility, an FTS5 lexical index,
// an HNSW vector index, and an alternate Bleve lexical backend.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// Generation is one immutable ingest of a source. At most one generation per
// (scope, sourceKey) is active; visibility flips atomically inside SQLite.
type Generation struct {
	ID            int64
	Scope         string
	SourceKey     string
	Fingerprint   string
	Active        bool
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}

// Passage is a retrievable unit of content belonging to one generation.
type Passage struct {
	ID          string
	Generation  int64
	Scope       string
	SourceKey   string
	Fingerprint string
	Seq         int
	Content     string
	Embedding   []float32
	CreatedAt   time.Time
}

// PassageID derives the content-addressed passage ID. Since the fingerprint
// participates in the hash, two generations with different fingerprints can
// never share an ID.
func PassageID(scope, sourceKey, fingerprint string, seq int, text string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d|%s", scope, sourceKey, fingerprint, seq, text)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// LexicalResult is a single lexical search hit.
type LexicalResult struct {
	ID    string
	Score float64
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID       string
	Distance float32
	Score    float32
}

// ScopeStat summarizes the active corpus for one scope.
type ScopeStat struct {
	Scope          string
	Sources        int
	ActivePassages int
}

// OrphanStat counts inactive generations awaiting purge.
type OrphanStat struct {
	StandbyGenerations     int // never activated
	DeactivatedGenerations int // previously active, now replaced or removed
	InactivePassages       int
}

// LexicalIndex is the keyword search capability. The SQLite backend maintains
// its FTS5 rows inside Store transactions, so its Index and Delete are
// no-ops; the Bleve backend is maintained explicitly by the caller.
type LexicalIndex interface {
	Index(ctx context.Context, passages []*Passage) error
	Search(ctx context.Context, scope, query string, limit int) ([]*LexicalResult, error)
	Delete(ctx context.Context, ids []string) error
	Close() error
}

// StoredEmbedding is one persisted passage vector and the scope it belongs
// to, as returned by Store.AllEmbeddings.
type StoredEmbedding struct {
	Scope  string
	Vector []float32
}

// VectorIndex provides approximate nearest neighbor search over passage
// embeddings, partitioned by scope: Search only ever returns candidates from
// the requested scope, so one tenant's corpus cannot crowd another's out of
// the candidate budget. Candidates may still include standby or purged
// passages; callers filter results through Store.ActiveIDs.
type VectorIndex interface {
	Add(ctx context.Context, scope string, ids []string, vectors [][]float32) error
	Search(ctx context.Context, scope string, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	Contains(id string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// VectorIndexConfig configures the HNSW vector index.
type VectorIndexConfig struct {
	Dimensions int
	Metric     string // "cos" or "l2"
	M          int
	EfSearch   int
}

// DefaultVectorIndexConfig returns sensible HNSW defaults.
func DefaultVectorIndexConfig(dimensions int) VectorIndexConfig {
	return VectorIndexConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// encodeEmbedding serializes a vector as little-endian float32 bytes for the
// SQLite embedding column.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeEmbedding deserializes a vector stored by encodeEmbedding.
func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
