package store

import (
	"context"
	"fmt"
	"path/filepath"

	apperrors "github.com/clementine-kb/clementine/internal/errors"
)

// LexicalBackend selects the keyword search implementation.
type LexicalBackend string

const (
	// LexicalBackendSQLite uses the FTS5 table inside the passage store.
	// Rows ride the store's transactions, so no extra maintenance is needed.
	LexicalBackendSQLite LexicalBackend = "sqlite"

	// LexicalBackendBleve uses a separate Bleve v2 index. BoltDB holds an
	// exclusive file lock, so it is single-process only.
	LexicalBackendBleve LexicalBackend = "bleve"
)

// sqliteLexical adapts the store's built-in FTS5 search to the LexicalIndex
// interface. Index and Delete are no-ops: UpsertStandby and PurgeInactive
// already maintain the FTS rows transactionally.
type sqliteLexical struct {
	store *Store
}

func (s *sqliteLexical) Index(ctx context.Context, passages []*Passage) error { return nil }

func (s *sqliteLexical) Search(ctx context.Context, scope, query string, limit int) ([]*LexicalResult, error) {
	return s.store.LexicalSearch(ctx, scope, query, limit)
}

func (s *sqliteLexical) Delete(ctx context.Context, ids []string) error { return nil }

// Close is a no-op; the store owns the database lifecycle.
func (s *sqliteLexical) Close() error { return nil }

// NewLexicalIndex returns the lexical backend selected by config. dataDir is
// only used by the Bleve backend; an empty dataDir gives Bleve an in-memory
// index for tests.
func NewLexicalIndex(backend string, s *Store, dataDir string) (LexicalIndex, error) {
	switch LexicalBackend(backend) {
	case LexicalBackendSQLite, "":
		return &sqliteLexical{store: s}, nil

	case LexicalBackendBleve:
		var path string
		if dataDir != "" {
			path = BleveIndexPath(dataDir)
		}
		return NewBleveLexicalIndex(path)

	default:
		return nil, apperrors.New(apperrors.CodeConfigInvalid,
			fmt.Sprintf("unknown lexical backend %q (valid: sqlite, bleve)", backend), nil)
	}
}

// BleveIndexPath returns where the Bleve index lives under a data directory.
func BleveIndexPath(dataDir string) string {
	return filepath.Join(dataDir, "lexical.bleve")
}

// StorePath returns where the SQLite passage store lives under a data
// directory.
func StorePath(dataDir string) string {
	return filepath.Join(dataDir, "passages.db")
}

// VectorIndexPath returns where the HNSW graph lives under a data directory.
func VectorIndexPath(dataDir string) string {
	return filepath.Join(dataDir, "vectors.hnsw")
}
