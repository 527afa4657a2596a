package integration_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scicache-backend/internal/aliasindex"
	"scicache-backend/internal/graphstore"
	"scicache-backend/internal/models"
	"scicache-backend/test/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// usePostgres flips the suite onto a real Postgres container; the default
// in-memory SQLite keeps the suite runnable without Docker.
const usePostgres = false

func TestGraphStore_Integration_PaperLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	dbUtil := testutil.SetupTestDatabase(t, usePostgres)
	defer dbUtil.Cleanup()
	store := graphstore.New(dbUtil.DB(), testLogger())
	ctx := context.Background()

	// neighbor stub first, full fetch later
	require.NoError(t, store.UpsertNeighborStubs(ctx, []models.NeighborSummary{
		{PaperID: "649def34f8be52c8b66281af98ae884c09aef38b", Title: "Seen As Neighbor"},
	}))

	stub, err := store.GetPaper(ctx, "649def34f8be52c8b66281af98ae884c09aef38b")
	require.NoError(t, err)
	assert.False(t, stub.IsFull())
	assert.False(t, stub.IsFresh(time.Now(), 24*time.Hour), "a stub is never fresh")

	now := time.Now().UTC()
	full, err := store.UpsertPaper(ctx, &models.Paper{
		PaperID:           "649def34f8be52c8b66281af98ae884c09aef38b",
		Title:             "Advances in Machine Learning",
		CitationCount:     42,
		IngestStatus:      models.IngestStatusFull,
		FetchedAt:         now,
		MetadataUpdatedAt: now,
		ExternalIDs:       map[string]string{"DOI": "10.1000/test.001"},
	})
	require.NoError(t, err)
	assert.True(t, full.IsFull())
	assert.True(t, full.IsFresh(time.Now(), 24*time.Hour))

	// a later stub merge must not downgrade the full record
	require.NoError(t, store.UpsertNeighborStubs(ctx, []models.NeighborSummary{
		{PaperID: "649def34f8be52c8b66281af98ae884c09aef38b", Title: "Stale Stub Title"},
	}))
	reread, err := store.GetPaper(ctx, "649def34f8be52c8b66281af98ae884c09aef38b")
	require.NoError(t, err)
	assert.True(t, reread.IsFull())
	assert.Equal(t, "Advances in Machine Learning", reread.Title)
}

func TestGraphStore_Integration_RelationBlobAndEdges(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	dbUtil := testutil.SetupTestDatabase(t, usePostgres)
	defer dbUtil.Cleanup()
	store := graphstore.New(dbUtil.DB(), testLogger())
	ctx := context.Background()

	parent := dbUtil.SeedBasicData(t)

	neighbors := make([]models.NeighborSummary, 0, 250)
	for i := 0; i < 250; i++ {
		neighbors = append(neighbors, models.NeighborSummary{
			PaperID: testutil.SyntheticPaperID(i),
			Title:   "Citing Paper",
		})
	}

	// merge in two idempotent passes, with overlap
	require.NoError(t, store.UpsertNeighborStubs(ctx, neighbors[:150]))
	require.NoError(t, store.MergeEdges(ctx, parent.PaperID, models.RelationKindCitations, neighbors[:150], 250))
	require.NoError(t, store.UpsertNeighborStubs(ctx, neighbors[100:]))
	require.NoError(t, store.MergeEdges(ctx, parent.PaperID, models.RelationKindCitations, neighbors[100:], 250))

	items, total, err := store.GetRelationSlice(ctx, parent.PaperID, models.RelationKindCitations, 0, 300)
	require.NoError(t, err)
	assert.Equal(t, 250, total)
	assert.Len(t, items, 250, "overlapping merges must not duplicate neighbors")

	slice, total, err := store.GetRelationSlice(ctx, parent.PaperID, models.RelationKindCitations, 240, 10)
	require.NoError(t, err)
	assert.Equal(t, 250, total)
	assert.Len(t, slice, 10)

	dbUtil.AssertTableCount(t, "citation_edges", 250)
}

func TestAliasIndex_Integration_RecordResolveRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	dbUtil := testutil.SetupTestDatabase(t, usePostgres)
	defer dbUtil.Cleanup()
	idx := aliasindex.New(dbUtil.DB(), testLogger())
	ctx := context.Background()

	paperID := "649def34f8be52c8b66281af98ae884c09aef38b"
	conflicts, err := idx.Record(ctx, paperID, []aliasindex.Candidate{
		{Kind: models.AliasKindDOI, NormalizedValue: "10.18653/v1/n18-3011"},
		{Kind: models.AliasKindArXiv, NormalizedValue: "1805.02262"},
		{Kind: models.AliasKindCorpusID, NormalizedValue: "19170988"},
	})
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	// every recorded alias resolves back to the same canonical id
	for _, ref := range []string{"DOI:10.18653/v1/N18-3011", "ARXIV:1805.02262v1", "CORPUS_ID:19170988"} {
		_, _, resolved, err := idx.Resolve(ctx, ref)
		require.NoError(t, err, "ref %s", ref)
		assert.Equal(t, paperID, resolved, "ref %s", ref)
	}

	// conflicting re-record leaves the original mapping in place
	conflicts, err = idx.Record(ctx, "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef", []aliasindex.Candidate{
		{Kind: models.AliasKindDOI, NormalizedValue: "10.18653/v1/n18-3011"},
	})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, paperID, conflicts[0].ExistingPaperID)

	_, _, resolved, err := idx.Resolve(ctx, "DOI:10.18653/v1/n18-3011")
	require.NoError(t, err)
	assert.Equal(t, paperID, resolved)
}

func TestGraphStore_Integration_IngestProgressSurvivesRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	dbUtil := testutil.SetupTestDatabase(t, usePostgres)
	defer dbUtil.Cleanup()
	ctx := context.Background()

	// two stores over the same database stand in for a process restart
	first := graphstore.New(dbUtil.DB(), testLogger())
	require.NoError(t, first.SetIngestProgress(ctx, &models.IngestProgress{
		PaperID:       "649def34f8be52c8b66281af98ae884c09aef38b",
		Kind:          models.RelationKindCitations,
		PagesFetched:  7,
		ExpectedTotal: 3500,
		State:         models.IngestStateRunning,
	}))

	second := graphstore.New(dbUtil.DB(), testLogger())
	progress, err := second.GetIngestProgress(ctx, "649def34f8be52c8b66281af98ae884c09aef38b", models.RelationKindCitations)
	require.NoError(t, err)
	assert.Equal(t, 7, progress.PagesFetched)
	assert.Equal(t, models.IngestStateRunning, progress.State)
}
