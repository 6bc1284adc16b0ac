package sync

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clementine-kb/clementine/internal/chunk"
	"github.com/clementine-kb/clementine/internal/embed"
	apperrors "github.com/clementine-kb/clementine/internal/errors"
	"github.com/clementine-kb/clementine/internal/store"
)

// fakeSource is an in-memory Source with per-key failure injection.
type fakeSource struct {
	objects  []Object
	content  map[string][]byte
	stats    map[string]string
	fetchErr map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		content:  make(map[string][]byte),
		stats:    make(map[string]string),
		fetchErr: make(map[string]error),
	}
}

func (s *fakeSource) put(key, body string) {
	fp := "fp-" + key + "-" + body[:min(8, len(body))]
	for i, obj := range s.objects {
		if obj.Key == key {
			s.objects[i].Fingerprint = fp
			s.content[key] = []byte(body)
			s.stats[key] = fp
			return
		}
	}
	s.objects = append(s.objects, Object{Key: key, Fingerprint: fp})
	s.content[key] = []byte(body)
	s.stats[key] = fp
}

func (s *fakeSource) remove(key string) {
	for i, obj := range s.objects {
		if obj.Key == key {
			s.objects = append(s.objects[:i], s.objects[i+1:]...)
			break
		}
	}
	delete(s.content, key)
	delete(s.stats, key)
}

func (s *fakeSource) List(_ context.Context) ([]Object, error) {
	out := make([]Object, len(s.objects))
	copy(out, s.objects)
	return out, nil
}

func (s *fakeSource) Fetch(_ context.Context, key string) ([]byte, error) {
	if err := s.fetchErr[key]; err != nil {
		return nil, err
	}
	body, ok := s.content[key]
	if !ok {
		return nil, apperrors.New(apperrors.CodeSourceMissing, "no such key: "+key, nil)
	}
	return body, nil
}

func (s *fakeSource) Stat(_ context.Context, key string) (string, error) {
	fp, ok := s.stats[key]
	if !ok {
		return "", apperrors.New(apperrors.CodeSourceMissing, "no such key: "+key, nil)
	}
	return fp, nil
}

type coordFixture struct {
	store   *store.Store
	lexical store.LexicalIndex
	vector  *store.HNSWIndex
	coord   *Coordinator
}

func newCoordFixture(t *testing.T) *coordFixture {
	t.Helper()

	s, err := store.NewStore("", store.DefaultStoreOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	lexical, err := store.NewLexicalIndex(string(store.LexicalBackendSQLite), s, "")
	require.NoError(t, err)

	vector, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(embed.StaticDimensions))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vector.Close() })

	coord, err := NewCoordinator(s, lexical, vector, chunk.New(chunk.Options{}), embed.NewStaticEmbedder(), CoordinatorConfig{Workers: 2, EmbedWorkers: 2})
	require.NoError(t, err)

	return &coordFixture{store: s, lexical: lexical, vector: vector, coord: coord}
}

func activeKeys(t *testing.T, s *store.Store, scope string) map[string]string {
	t.Helper()
	fps, err := s.ActiveFingerprints(t.Context(), scope)
	require.NoError(t, err)
	return fps
}

func TestSyncScopeIngestsAndActivates(t *testing.T) {
	f := newCoordFixture(t)
	src := newFakeSource()
	src.put("guide.md", "Restore the database from the newest snapshot before failover.")
	src.put("runbook.md", "Rotate the API credentials every ninety days.")

	result, err := f.coord.SyncScope(t.Context(), "ops", src)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Synced)
	assert.Zero(t, result.Failed)

	fps := activeKeys(t, f.store, "ops")
	require.Len(t, fps, 2)
	assert.Contains(t, fps, "guide.md")

	hits, err := f.store.LexicalSearch(t.Context(), "ops", "snapshot failover", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.True(t, f.vector.Contains(hits[0].ID))
}

func TestSyncScopeIdempotentResync(t *testing.T) {
	f := newCoordFixture(t)
	src := newFakeSource()
	src.put("notes.md", "Unchanged content stays put across passes.")

	first, err := f.coord.SyncScope(t.Context(), "kb", src)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Synced)

	second, err := f.coord.SyncScope(t.Context(), "kb", src)
	require.NoError(t, err)
	assert.Zero(t, second.Synced)
	assert.Equal(t, 1, second.Unchanged)
}

func TestSyncScopeReplacesChangedSource(t *testing.T) {
	f := newCoordFixture(t)
	src := newFakeSource()
	src.put("doc.md", "Original text about kestrels and falconry.")

	_, err := f.coord.SyncScope(t.Context(), "kb", src)
	require.NoError(t, err)
	oldFP := activeKeys(t, f.store, "kb")["doc.md"]

	src.put("doc.md", "Rewritten text about harbor dredging schedules.")
	result, err := f.coord.SyncScope(t.Context(), "kb", src)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)

	newFP := activeKeys(t, f.store, "kb")["doc.md"]
	assert.NotEqual(t, oldFP, newFP)

	hits, err := f.store.LexicalSearch(t.Context(), "kb", "kestrels falconry", 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "old generation must stop serving once replaced")
}

func TestSyncScopeDeactivatesRemovedSource(t *testing.T) {
	f := newCoordFixture(t)
	src := newFakeSource()
	src.put("keep.md", "This document survives.")
	src.put("gone.md", "This document gets deleted upstream.")

	_, err := f.coord.SyncScope(t.Context(), "kb", src)
	require.NoError(t, err)

	src.remove("gone.md")
	result, err := f.coord.SyncScope(t.Context(), "kb", src)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)

	fps := activeKeys(t, f.store, "kb")
	assert.Contains(t, fps, "keep.md")
	assert.NotContains(t, fps, "gone.md")
}

func TestSyncScopeIsolatesPerSourceFailures(t *testing.T) {
	f := newCoordFixture(t)
	src := newFakeSource()
	src.put("good.md", "Healthy document that ingests fine.")
	src.put("bad.md", "Never fetched.")
	src.fetchErr["bad.md"] = apperrors.New(apperrors.CodeFetchFailed, "disk on fire", nil)

	result, err := f.coord.SyncScope(t.Context(), "kb", src)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Failed)

	fps := activeKeys(t, f.store, "kb")
	assert.Contains(t, fps, "good.md")
	assert.NotContains(t, fps, "bad.md")
}

func TestSyncScopeFailureKeepsPriorGeneration(t *testing.T) {
	f := newCoordFixture(t)
	src := newFakeSource()
	src.put("doc.md", "Stable first version keeps serving.")

	_, err := f.coord.SyncScope(t.Context(), "kb", src)
	require.NoError(t, err)

	src.put("doc.md", "Second version that will fail to fetch.")
	src.fetchErr["doc.md"] = apperrors.New(apperrors.CodeFetchFailed, "transient outage", nil)

	result, err := f.coord.SyncScope(t.Context(), "kb", src)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	hits, err := f.store.LexicalSearch(t.Context(), "kb", "stable first version", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, hits, "failed resync must not disturb the active generation")
}

func TestSyncScopeDefersWhenFingerprintMoves(t *testing.T) {
	f := newCoordFixture(t)
	src := newFakeSource()
	src.put("doc.md", "Content captured at listing time.")
	// The source moves on between List and the post-ingest Stat.
	src.stats["doc.md"] = "fp-doc.md-later"

	result, err := f.coord.SyncScope(t.Context(), "kb", src)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deferred)
	assert.Zero(t, result.Synced)

	assert.Empty(t, activeKeys(t, f.store, "kb"))

	orphans, err := f.store.OrphanStats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, orphans.StandbyGenerations, "deferred generation stays standby for the purge pass")
}

// flakyVector fails a set number of Add calls before behaving normally,
// standing in for a vector backend with a transient outage.
type flakyVector struct {
	store.VectorIndex
	addFailures int
}

func (v *flakyVector) Add(ctx context.Context, scope string, ids []string, vectors [][]float32) error {
	if v.addFailures > 0 {
		v.addFailures--
		return apperrors.New(apperrors.CodeStoreFailed, "vector backend unavailable", nil)
	}
	return v.VectorIndex.Add(ctx, scope, ids, vectors)
}

func TestSyncScopeResumesAfterPartialFailure(t *testing.T) {
	f := newCoordFixture(t)
	flaky := &flakyVector{VectorIndex: f.vector, addFailures: 1}
	coord, err := NewCoordinator(f.store, f.lexical, flaky, chunk.New(chunk.Options{}), embed.NewStaticEmbedder(), CoordinatorConfig{Workers: 2, EmbedWorkers: 2})
	require.NoError(t, err)

	src := newFakeSource()
	src.put("doc.md", "Document whose first ingest dies after the standby insert.")

	// First pass: the generation commits as standby, then the vector write
	// fails, so nothing activates.
	result, err := coord.SyncScope(t.Context(), "kb", src)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, activeKeys(t, f.store, "kb"))

	orphans, err := f.store.OrphanStats(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, orphans.StandbyGenerations)

	// Second pass: the standby generation already exists, so the upsert
	// conflicts. The run must pick it back up, index it, and activate it
	// rather than declaring victory over an invisible document.
	result, err = coord.SyncScope(t.Context(), "kb", src)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Zero(t, result.Failed)
	assert.Contains(t, activeKeys(t, f.store, "kb"), "doc.md")

	hits, err := f.store.LexicalSearch(t.Context(), "kb", "standby insert", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.True(t, f.vector.Contains(hits[0].ID))
}

func TestSyncScopeConflictActivatesExistingGeneration(t *testing.T) {
	f := newCoordFixture(t)
	src := newFakeSource()
	src.put("doc.md", "Content another runner already ingested.")
	obj := src.objects[0]

	// Simulate the other runner: same generation already standby.
	segs, err := chunk.New(chunk.Options{}).Chunk(string(src.content["doc.md"]))
	require.NoError(t, err)
	passages := make([]*store.Passage, len(segs))
	for i, seg := range segs {
		vec, err := embed.NewStaticEmbedder().Embed(t.Context(), seg)
		require.NoError(t, err)
		passages[i] = &store.Passage{
			ID:        store.PassageID("kb", obj.Key, obj.Fingerprint, i, seg),
			Scope:     "kb",
			SourceKey: obj.Key,
			Seq:       i,
			Content:   seg,
			Embedding: vec,
		}
	}
	_, err = f.store.UpsertStandby(t.Context(), store.Generation{Scope: "kb", SourceKey: obj.Key, Fingerprint: obj.Fingerprint}, passages)
	require.NoError(t, err)

	result, err := f.coord.SyncScope(t.Context(), "kb", src)
	require.NoError(t, err)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 1, result.Synced)
	assert.Contains(t, activeKeys(t, f.store, "kb"), "doc.md")
}

func TestSyncScopeChunksLongDocuments(t *testing.T) {
	f := newCoordFixture(t)
	src := newFakeSource()

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("## Section\n\nEach section covers a distinct maintenance procedure with enough prose to fill a paragraph on its own, repeated to force several passages.\n\n")
	}
	src.put("long.md", b.String())

	_, err := f.coord.SyncScope(t.Context(), "kb", src)
	require.NoError(t, err)

	stats, err := f.store.ScopeStats(t.Context())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Greater(t, stats[0].ActivePassages, 1)
}

func TestNewCoordinatorRequiresDependencies(t *testing.T) {
	_, err := NewCoordinator(nil, nil, nil, nil, nil, CoordinatorConfig{})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
}
