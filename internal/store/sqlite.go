package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/clementine-kb/clementine/internal/errors"
)

const storeSchemaVersion = 1

// StoreOptions configures the SQLite passage store.
type StoreOptions struct {
	// CacheMB is the SQLite page cache size in megabytes.
	CacheMB int

	// BusyTimeout is how long a writer waits on a locked database.
	BusyTimeout time.Duration
}

// DefaultStoreOptions returns the standard store tuning.
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		CacheMB:     64,
		BusyTimeout: 5 * time.Second,
	}
}

// Store persists generations and passages in SQLite with an FTS5 lexical
// index maintained in the same transactions. Visibility is governed solely
// by the generations.active flag, so readers either see the whole prior
// generation or the whole new one.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// validateStoreIntegrity checks an existing database before opening it.
// Corrupt files are removed so the store can be rebuilt by a full sync.
func validateStoreIntegrity(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return removeCorrupt(path, fmt.Errorf("open for validation: %w", err))
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return removeCorrupt(path, fmt.Errorf("integrity check failed: %w", err))
	}
	if result != "ok" {
		return removeCorrupt(path, fmt.Errorf("integrity check: %s", result))
	}

	// An existing database must carry the expected tables. A missing table
	// means a partial create or a foreign file, either way unusable.
	var name string
	err = db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type IN ('table','view') AND name = 'generations'",
	).Scan(&name)
	if err == sql.ErrNoRows {
		return removeCorrupt(path, fmt.Errorf("generations table missing"))
	}
	if err != nil {
		return removeCorrupt(path, fmt.Errorf("schema probe failed: %w", err))
	}

	return nil
}

// removeCorrupt clears a corrupt database plus its WAL sidecars and logs the
// reason. Returns nil so the caller recreates from scratch.
func removeCorrupt(path string, cause error) error {
	slog.Warn("passage store corrupted, clearing",
		slog.String("path", path),
		slog.String("error", cause.Error()))

	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return apperrors.New(apperrors.CodeStoreCorrupt,
				fmt.Sprintf("cannot remove corrupt store file %s", p), err)
		}
	}
	return nil
}

// NewStore opens (or creates) the passage store at path.
// An empty path opens an in-memory database for tests.
func NewStore(path string, opts StoreOptions) (*Store, error) {
	if opts.CacheMB <= 0 {
		opts.CacheMB = DefaultStoreOptions().CacheMB
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultStoreOptions().BusyTimeout
	}

	dsn := path
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, apperrors.New(apperrors.CodeStoreUnavailable, "create store directory", err)
		}
		if err := validateStoreIntegrity(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeStoreUnavailable, "open passage store", err)
	}

	// modernc.org/sqlite ignores most DSN parameters, so tuning happens via
	// PRAGMA statements after open.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", opts.BusyTimeout.Milliseconds()),
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA cache_size=-%d", opts.CacheMB*1024),
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, apperrors.New(apperrors.CodeStoreUnavailable, fmt.Sprintf("apply %s", p), err)
		}
	}

	// Single connection: SQLite allows one writer, and a pool of one also
	// keeps the in-memory test database from fragmenting across connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS generations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scope TEXT NOT NULL,
		source_key TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		deactivated_at INTEGER,
		UNIQUE(scope, source_key, fingerprint)
	);

	CREATE INDEX IF NOT EXISTS idx_generations_source
		ON generations(scope, source_key, active);

	CREATE TABLE IF NOT EXISTS passages (
		id TEXT PRIMARY KEY,
		generation_id INTEGER NOT NULL
			REFERENCES generations(id) ON DELETE CASCADE,
		scope TEXT NOT NULL,
		source_key TEXT NOT NULL,
		seq INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_passages_generation
		ON passages(generation_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS passages_fts USING fts5(
		passage_id UNINDEXED,
		scope UNINDEXED,
		content,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return apperrors.New(apperrors.CodeStoreFailed, "create schema", err)
	}
	if _, err := s.db.Exec(
		"INSERT OR IGNORE INTO schema_version (version) VALUES (?)", storeSchemaVersion,
	); err != nil {
		return apperrors.New(apperrors.CodeStoreFailed, "record schema version", err)
	}
	return nil
}

// UpsertStandby inserts a new standby generation with its passages in one
// transaction. A generation with the same (scope, sourceKey, fingerprint)
// already present means another run has ingested this exact content;
// the call fails with a conflict error and changes nothing.
func (s *Store) UpsertStandby(ctx context.Context, gen Generation, passages []*Passage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, apperrors.New(apperrors.CodeStoreUnavailable, "store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.New(apperrors.CodeStoreFailed, "begin upsert", err)
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM generations WHERE scope = ? AND source_key = ? AND fingerprint = ?",
		gen.Scope, gen.SourceKey, gen.Fingerprint,
	).Scan(&existing)
	if err == nil {
		return 0, apperrors.New(apperrors.CodeConflict,
			fmt.Sprintf("generation for %s/%s with fingerprint %s already exists",
				gen.Scope, gen.SourceKey, gen.Fingerprint), nil)
	}
	if err != sql.ErrNoRows {
		return 0, apperrors.New(apperrors.CodeStoreFailed, "check existing generation", err)
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO generations (scope, source_key, fingerprint, active, created_at) VALUES (?, ?, ?, 0, ?)",
		gen.Scope, gen.SourceKey, gen.Fingerprint, now.Unix(),
	)
	if err != nil {
		return 0, apperrors.New(apperrors.CodeStoreFailed, "insert generation", err)
	}
	genID, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.New(apperrors.CodeStoreFailed, "generation id", err)
	}

	insPassage, err := tx.PrepareContext(ctx,
		"INSERT INTO passages (id, generation_id, scope, source_key, seq, content, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return 0, apperrors.New(apperrors.CodeStoreFailed, "prepare passage insert", err)
	}
	defer insPassage.Close()

	insFTS, err := tx.PrepareContext(ctx,
		"INSERT INTO passages_fts (passage_id, scope, content) VALUES (?, ?, ?)")
	if err != nil {
		return 0, apperrors.New(apperrors.CodeStoreFailed, "prepare fts insert", err)
	}
	defer insFTS.Close()

	for _, p := range passages {
		if _, err := insPassage.ExecContext(ctx,
			p.ID, genID, gen.Scope, gen.SourceKey, p.Seq, p.Content,
			encodeEmbedding(p.Embedding), now.Unix(),
		); err != nil {
			return 0, apperrors.New(apperrors.CodeStoreFailed,
				fmt.Sprintf("insert passage %s", p.ID), err)
		}
		if _, err := insFTS.ExecContext(ctx, p.ID, gen.Scope, p.Content); err != nil {
			return 0, apperrors.New(apperrors.CodeStoreFailed,
				fmt.Sprintf("index passage %s", p.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.New(apperrors.CodeStoreFailed, "commit upsert", err)
	}
	return genID, nil
}

// Activate flips the standby generation with the given fingerprint to active
// and the previously active generation off, in one transaction. If that
// fingerprint is already active the call is a no-op. A missing standby
// generation fails the call without touching the current active one.
func (s *Store) Activate(ctx context.Context, scope, sourceKey, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return apperrors.New(apperrors.CodeStoreUnavailable, "store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.New(apperrors.CodeStoreFailed, "begin activate", err)
	}
	defer tx.Rollback()

	var genID int64
	var active bool
	err = tx.QueryRowContext(ctx,
		"SELECT id, active FROM generations WHERE scope = ? AND source_key = ? AND fingerprint = ?",
		scope, sourceKey, fingerprint,
	).Scan(&genID, &active)
	if err == sql.ErrNoRows {
		return apperrors.New(apperrors.CodeNoStandby,
			fmt.Sprintf("no standby generation for %s/%s with fingerprint %s", scope, sourceKey, fingerprint), nil)
	}
	if err != nil {
		return apperrors.New(apperrors.CodeStoreFailed, "find standby generation", err)
	}
	if active {
		return nil
	}

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx,
		"UPDATE generations SET active = 0, deactivated_at = ? WHERE scope = ? AND source_key = ? AND active = 1",
		now, scope, sourceKey,
	); err != nil {
		return apperrors.New(apperrors.CodeStoreFailed, "deactivate prior generation", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE generations SET active = 1, deactivated_at = NULL WHERE id = ?", genID,
	); err != nil {
		return apperrors.New(apperrors.CodeStoreFailed, "activate generation", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.New(apperrors.CodeStoreFailed, "commit activate", err)
	}
	return nil
}

// Deactivate turns off the active generation for a source, removing it from
// search results immediately. The rows stay until PurgeInactive.
func (s *Store) Deactivate(ctx context.Context, scope, sourceKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return apperrors.New(apperrors.CodeStoreUnavailable, "store is closed", nil)
	}

	_, err := s.db.ExecContext(ctx,
		"UPDATE generations SET active = 0, deactivated_at = ? WHERE scope = ? AND source_key = ? AND active = 1",
		time.Now().Unix(), scope, sourceKey,
	)
	if err != nil {
		return apperrors.New(apperrors.CodeStoreFailed, "deactivate generation", err)
	}
	return nil
}

// PurgeInactive hard-deletes generations that have been inactive since
// before olderThan and returns the passage IDs removed, so the caller can
// drop the matching vector and lexical index entries. Standby generations
// that were never activated are aged by creation time.
func (s *Store) PurgeInactive(ctx context.Context, olderThan time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, apperrors.New(apperrors.CodeStoreUnavailable, "store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeStoreFailed, "begin purge", err)
	}
	defer tx.Rollback()

	cutoff := olderThan.Unix()
	rows, err := tx.QueryContext(ctx, `
		SELECT g.id, p.id
		FROM generations g
		JOIN passages p ON p.generation_id = g.id
		WHERE g.active = 0
		  AND COALESCE(g.deactivated_at, g.created_at) < ?`, cutoff)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeStoreFailed, "query purgeable passages", err)
	}

	genIDs := make(map[int64]struct{})
	var passageIDs []string
	for rows.Next() {
		var genID int64
		var pid string
		if err := rows.Scan(&genID, &pid); err != nil {
			rows.Close()
			return nil, apperrors.New(apperrors.CodeStoreFailed, "scan purgeable passage", err)
		}
		genIDs[genID] = struct{}{}
		passageIDs = append(passageIDs, pid)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, apperrors.New(apperrors.CodeStoreFailed, "iterate purgeable passages", err)
	}
	rows.Close()

	// Empty generations (ingest failed before any passage landed) still
	// need to go.
	emptyRows, err := tx.QueryContext(ctx, `
		SELECT g.id FROM generations g
		WHERE g.active = 0
		  AND COALESCE(g.deactivated_at, g.created_at) < ?
		  AND NOT EXISTS (SELECT 1 FROM passages p WHERE p.generation_id = g.id)`, cutoff)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeStoreFailed, "query empty generations", err)
	}
	for emptyRows.Next() {
		var genID int64
		if err := emptyRows.Scan(&genID); err != nil {
			emptyRows.Close()
			return nil, apperrors.New(apperrors.CodeStoreFailed, "scan empty generation", err)
		}
		genIDs[genID] = struct{}{}
	}
	if err := emptyRows.Err(); err != nil {
		emptyRows.Close()
		return nil, apperrors.New(apperrors.CodeStoreFailed, "iterate empty generations", err)
	}
	emptyRows.Close()

	if len(genIDs) == 0 {
		return nil, tx.Commit()
	}

	// FTS5 rows are not covered by the foreign key cascade.
	delFTS, err := tx.PrepareContext(ctx, "DELETE FROM passages_fts WHERE passage_id = ?")
	if err != nil {
		return nil, apperrors.New(apperrors.CodeStoreFailed, "prepare fts delete", err)
	}
	defer delFTS.Close()
	for _, pid := range passageIDs {
		if _, err := delFTS.ExecContext(ctx, pid); err != nil {
			return nil, apperrors.New(apperrors.CodeStoreFailed,
				fmt.Sprintf("delete fts row %s", pid), err)
		}
	}

	delGen, err := tx.PrepareContext(ctx, "DELETE FROM generations WHERE id = ?")
	if err != nil {
		return nil, apperrors.New(apperrors.CodeStoreFailed, "prepare generation delete", err)
	}
	defer delGen.Close()
	for genID := range genIDs {
		if _, err := delGen.ExecContext(ctx, genID); err != nil {
			return nil, apperrors.New(apperrors.CodeStoreFailed,
				fmt.Sprintf("delete generation %d", genID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.New(apperrors.CodeStoreFailed, "commit purge", err)
	}

	slog.Debug("purged inactive generations",
		slog.Int("generations", len(genIDs)),
		slog.Int("passages", len(passageIDs)))
	return passageIDs, nil
}

// ActiveFingerprints returns the active fingerprint per source key in a
// scope. Sources with only standby generations are absent.
func (s *Store) ActiveFingerprints(ctx context.Context, scope string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, apperrors.New(apperrors.CodeStoreUnavailable, "store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT source_key, fingerprint FROM generations WHERE scope = ? AND active = 1", scope)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeStoreFailed, "query active fingerprints", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, fp string
		if err := rows.Scan(&key, &fp); err != nil {
			return nil, apperrors.New(apperrors.CodeStoreFailed, "scan fingerprint", err)
		}
		out[key] = fp
	}
	return out, rows.Err()
}

// ActiveIDs filters a candidate passage ID set down to those belonging to
// the currently active generations of a scope.
func (s *Store) ActiveIDs(ctx context.Context, scope string, ids []string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, apperrors.New(apperrors.CodeStoreUnavailable, "store is closed", nil)
	}
	if len(ids) == 0 {
		return map[string]struct{}{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+1)
	args = append(args, scope)
	for _, id := range ids {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT p.id
		FROM passages p
		JOIN generations g ON g.id = p.generation_id
		WHERE g.active = 1 AND g.scope = ? AND p.id IN (%s)`, placeholders)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeStoreFailed, "query active ids", err)
	}
	defer rows.Close()

	out := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.New(apperrors.CodeStoreFailed, "scan active id", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// GetPassages batch-loads passages by ID. Missing IDs are silently skipped;
// the result order follows the input order.
func (s *Store) GetPassages(ctx context.Context, ids []string) ([]*Passage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, apperrors.New(apperrors.CodeStoreUnavailable, "store is closed", nil)
	}
	if len(ids) == 0 {
		return []*Passage{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT p.id, p.generation_id, p.scope, p.source_key, g.fingerprint,
		       p.seq, p.content, p.embedding, p.created_at
		FROM passages p
		JOIN generations g ON g.id = p.generation_id
		WHERE p.id IN (%s)`, placeholders)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeStoreFailed, "query passages", err)
	}
	defer rows.Close()

	byID := make(map[string]*Passage, len(ids))
	for rows.Next() {
		p := &Passage{}
		var blob []byte
		var created int64
		if err := rows.Scan(&p.ID, &p.Generation, &p.Scope, &p.SourceKey,
			&p.Fingerprint, &p.Seq, &p.Content, &blob, &created); err != nil {
			return nil, apperrors.New(apperrors.CodeStoreFailed, "scan passage", err)
		}
		p.Embedding = decodeEmbedding(blob)
		p.CreatedAt = time.Unix(created, 0)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.New(apperrors.CodeStoreFailed, "iterate passages", err)
	}

	out := make([]*Passage, 0, len(byID))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// LexicalSearch runs an FTS5 bm25 query over the active passages of a scope.
// Results are ordered best match first.
func (s *Store) LexicalSearch(ctx context.Context, scope, query string, limit int) ([]*LexicalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, apperrors.New(apperrors.CodeStoreUnavailable, "store is closed", nil)
	}

	match := ftsMatchExpr(query)
	if match == "" {
		return []*LexicalResult{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.passage_id, bm25(passages_fts) AS score
		FROM passages_fts f
		JOIN passages p ON p.id = f.passage_id
		JOIN generations g ON g.id = p.generation_id
		WHERE passages_fts MATCH ? AND g.active = 1 AND g.scope = ?
		ORDER BY score
		LIMIT ?`, match, scope, limit)
	if err != nil {
		// FTS5 reports malformed match expressions as query errors; treat
		// them as no results rather than failing the search.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return []*LexicalResult{}, nil
		}
		return nil, apperrors.New(apperrors.CodeStoreFailed, "lexical search", err)
	}
	defer rows.Close()

	var results []*LexicalResult
	for rows.Next() {
		r := &LexicalResult{}
		if err := rows.Scan(&r.ID, &r.Score); err != nil {
			return nil, apperrors.New(apperrors.CodeStoreFailed, "scan lexical result", err)
		}
		// bm25() returns more-negative for better matches; negate so higher
		// is better for the ranker.
		if r.Score < 0 {
			r.Score = -r.Score
		}
		results = append(results, r)
	}
	if results == nil {
		results = []*LexicalResult{}
	}
	return results, rows.Err()
}

// ftsMatchExpr turns free text into a safe FTS5 match expression: each token
// double-quoted, joined with OR so any term can match.
func ftsMatchExpr(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !isWordRune(r)
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r > 127:
		// Leave non-ASCII to the unicode61 tokenizer.
		return true
	}
	return false
}

// AllEmbeddings returns every stored passage embedding keyed by passage ID,
// active and standby alike, each tagged with its scope. Used to rebuild the
// vector index on startup and on compaction.
func (s *Store) AllEmbeddings(ctx context.Context) (map[string]StoredEmbedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, apperrors.New(apperrors.CodeStoreUnavailable, "store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, scope, embedding FROM passages WHERE embedding IS NOT NULL")
	if err != nil {
		return nil, apperrors.New(apperrors.CodeStoreFailed, "query embeddings", err)
	}
	defer rows.Close()

	out := make(map[string]StoredEmbedding)
	for rows.Next() {
		var id, scope string
		var blob []byte
		if err := rows.Scan(&id, &scope, &blob); err != nil {
			return nil, apperrors.New(apperrors.CodeStoreFailed, "scan embedding", err)
		}
		if v := decodeEmbedding(blob); v != nil {
			out[id] = StoredEmbedding{Scope: scope, Vector: v}
		}
	}
	return out, rows.Err()
}

// ScopeStats reports the active passage and source counts per scope.
func (s *Store) ScopeStats(ctx context.Context) ([]*ScopeStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, apperrors.New(apperrors.CodeStoreUnavailable, "store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT g.scope, COUNT(DISTINCT g.source_key), COUNT(p.id)
		FROM generations g
		LEFT JOIN passages p ON p.generation_id = g.id
		WHERE g.active = 1
		GROUP BY g.scope
		ORDER BY g.scope`)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeStoreFailed, "query scope stats", err)
	}
	defer rows.Close()

	var stats []*ScopeStat
	for rows.Next() {
		st := &ScopeStat{}
		if err := rows.Scan(&st.Scope, &st.Sources, &st.ActivePassages); err != nil {
			return nil, apperrors.New(apperrors.CodeStoreFailed, "scan scope stat", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// OrphanStats counts inactive generations and their passages, for purge
// scheduling and the status command.
func (s *Store) OrphanStats(ctx context.Context) (*OrphanStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, apperrors.New(apperrors.CodeStoreUnavailable, "store is closed", nil)
	}

	st := &OrphanStat{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN deactivated_at IS NULL THEN 1 END),
			COUNT(CASE WHEN deactivated_at IS NOT NULL THEN 1 END)
		FROM generations WHERE active = 0`,
	).Scan(&st.StandbyGenerations, &st.DeactivatedGenerations)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeStoreFailed, "query orphan generations", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(p.id)
		FROM passages p
		JOIN generations g ON g.id = p.generation_id
		WHERE g.active = 0`,
	).Scan(&st.InactivePassages)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeStoreFailed, "query orphan passages", err)
	}
	return st, nil
}

// Checkpoint flushes the WAL into the main database file.
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.path == "" {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return apperrors.New(apperrors.CodeStoreFailed, "wal checkpoint", err)
	}
	return nil
}

// Close checkpoints and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.path != "" {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			slog.Warn("wal checkpoint on close failed", slog.String("error", err.Error()))
		}
	}
	return s.db.Close()
}
