package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"

	apperrors "github.com/clementine-kb/clementine/internal/errors"
)

// BleveLexicalIndex is the alternate lexical backend. Unlike the SQLite
// FTS5 path it lives outside the store transactions, so the sync coordinator
// maintains it explicitly and the ranker filters its candidates through
// Store.ActiveIDs before fusing.
type BleveLexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

type bleveDoc struct {
	Scope   string `json:"scope"`
	Content string `json:"content"`
}

// validateBleveIntegrity checks a Bleve index directory before opening.
func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isBleveCorruption(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

func bleveMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()

	scopeField := bleve.NewTextFieldMapping()
	scopeField.Analyzer = keyword.Name
	scopeField.Store = false
	docMapping.AddFieldMappingsAt("scope", scopeField)

	contentField := bleve.NewTextFieldMapping()
	contentField.Store = false
	docMapping.AddFieldMappingsAt("content", contentField)

	im.DefaultMapping = docMapping
	return im, nil
}

// NewBleveLexicalIndex opens (or creates) a Bleve index at path. An empty
// path creates an in-memory index for tests. Corrupt on-disk indexes are
// cleared and recreated; a full sync repopulates them.
func NewBleveLexicalIndex(path string) (*BleveLexicalIndex, error) {
	im, err := bleveMapping()
	if err != nil {
		return nil, apperrors.New(apperrors.CodeStoreFailed, "create index mapping", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, apperrors.New(apperrors.CodeStoreUnavailable, "create index directory", mkErr)
		}

		if validErr := validateBleveIntegrity(path); validErr != nil {
			slog.Warn("lexical index corrupted, clearing",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, apperrors.New(apperrors.CodeStoreCorrupt, "clear corrupt lexical index", rmErr)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, im)
		} else if err != nil && isBleveCorruption(err) {
			slog.Warn("lexical index open failed, recreating",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, apperrors.New(apperrors.CodeStoreCorrupt, "clear corrupt lexical index", rmErr)
			}
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, apperrors.New(apperrors.CodeStoreUnavailable, "open lexical index", err)
	}

	return &BleveLexicalIndex{index: idx, path: path}, nil
}

// Index adds passages as a single batch.
func (b *BleveLexicalIndex) Index(ctx context.Context, passages []*Passage) error {
	if len(passages) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return apperrors.New(apperrors.CodeStoreUnavailable, "lexical index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, p := range passages {
		doc := bleveDoc{Scope: p.Scope, Content: p.Content}
		if err := batch.Index(p.ID, doc); err != nil {
			return apperrors.New(apperrors.CodeStoreFailed,
				fmt.Sprintf("index passage %s", p.ID), err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return apperrors.New(apperrors.CodeStoreFailed, "execute index batch", err)
	}
	return nil
}

// Search runs a match query restricted to one scope. Scores come from
// Bleve's ranking and are only comparable within a single result list,
// which is all rank fusion needs.
func (b *BleveLexicalIndex) Search(ctx context.Context, scope, query string, limit int) ([]*LexicalResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, apperrors.New(apperrors.CodeStoreUnavailable, "lexical index is closed", nil)
	}
	if strings.TrimSpace(query) == "" {
		return []*LexicalResult{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	scopeQuery := bleve.NewTermQuery(scope)
	scopeQuery.SetField("scope")

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(scopeQuery, matchQuery))
	req.Size = limit

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeStoreFailed, "lexical search", err)
	}

	results := make([]*LexicalResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &LexicalResult{ID: hit.ID, Score: hit.Score})
	}
	return results, nil
}

// Delete removes passages as a single batch.
func (b *BleveLexicalIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return apperrors.New(apperrors.CodeStoreUnavailable, "lexical index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return apperrors.New(apperrors.CodeStoreFailed, "execute delete batch", err)
	}
	return nil
}

// DocCount returns the number of indexed passages.
func (b *BleveLexicalIndex) DocCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}
	n, _ := b.index.DocCount()
	return int(n)
}

// Close closes the underlying index. Disk-backed indexes persist
// automatically, so there is no separate save step.
func (b *BleveLexicalIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

var _ LexicalIndex = (*BleveLexicalIndex)(nil)
