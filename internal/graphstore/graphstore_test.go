package graphstore_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	scerrors "scicache-backend/internal/errors"
	"scicache-backend/internal/graphstore"
	"scicache-backend/internal/models"
)

func newTestStore(t *testing.T) graphstore.Store {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Paper{}, &models.Alias{}, &models.CitationEdge{}, &models.RelationBlob{}, &models.IngestProgress{}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return graphstore.New(db, logger)
}

func TestGraphStore_GetPaper_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetPaper(context.Background(), "missing")

	require.Error(t, err)
	var sfErr *scerrors.SciCacheError
	require.ErrorAs(t, err, &sfErr)
	assert.Equal(t, 404, sfErr.HTTPStatus())
}

func TestGraphStore_UpsertPaper_CreatesThenMerges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.UpsertPaper(ctx, &models.Paper{
		PaperID:      "p1",
		Title:        "Stub Title",
		IngestStatus: models.IngestStatusStub,
	})
	require.NoError(t, err)
	assert.False(t, created.IsFull())

	fetchedAt := time.Now().UTC()
	merged, err := store.UpsertPaper(ctx, &models.Paper{
		PaperID:      "p1",
		Title:        "Full Title",
		IngestStatus: models.IngestStatusFull,
		FetchedAt:    fetchedAt,
	})
	require.NoError(t, err)
	assert.True(t, merged.IsFull())
	assert.Equal(t, "Full Title", merged.Title)

	fetched, err := store.GetPaper(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, fetched.IsFull(), "merge must persist, not just return in memory")
}

func TestGraphStore_UpsertNeighborStubs_DoesNotOverwriteFullPaper(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertPaper(ctx, &models.Paper{
		PaperID:      "p1",
		Title:        "Already Full",
		IngestStatus: models.IngestStatusFull,
		FetchedAt:    time.Now(),
	})
	require.NoError(t, err)

	err = store.UpsertNeighborStubs(ctx, []models.NeighborSummary{{PaperID: "p1", Title: "Stub Title"}})
	require.NoError(t, err)

	paper, err := store.GetPaper(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, paper.IsFull())
	assert.Equal(t, "Already Full", paper.Title, "the on-conflict-do-nothing stub insert must never clobber a full record")
}

func TestGraphStore_MergeEdges_AccumulatesAndDedupes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.MergeEdges(ctx, "p1", models.RelationKindCitations, []models.NeighborSummary{
		{PaperID: "n1", Title: "Neighbor One"},
		{PaperID: "n2", Title: "Neighbor Two"},
	}, 10)
	require.NoError(t, err)

	err = store.MergeEdges(ctx, "p1", models.RelationKindCitations, []models.NeighborSummary{
		{PaperID: "n1", Title: "Neighbor One Updated", IsInfluential: true},
	}, 10)
	require.NoError(t, err)

	items, total, err := store.GetRelationSlice(ctx, "p1", models.RelationKindCitations, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	require.Len(t, items, 2)

	byID := map[string]models.NeighborSummary{}
	for _, item := range items {
		byID[item.PaperID] = item
	}
	assert.Equal(t, "Neighbor One Updated", byID["n1"].Title)
	assert.True(t, byID["n1"].IsInfluential)
}

func TestGraphStore_GetRelationSlice_Pagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	neighbors := make([]models.NeighborSummary, 0, 5)
	for i := 0; i < 5; i++ {
		neighbors = append(neighbors, models.NeighborSummary{PaperID: string(rune('a' + i))})
	}
	require.NoError(t, store.MergeEdges(ctx, "p1", models.RelationKindReferences, neighbors, 5))

	page, total, err := store.GetRelationSlice(ctx, "p1", models.RelationKindReferences, 3, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 2, "offset past the midpoint returns only the remaining items")

	page, _, err = store.GetRelationSlice(ctx, "p1", models.RelationKindReferences, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, page, "offset past the end returns an empty page, not an error")
}

func TestGraphStore_MergeEdges_PreservesBlobOrderAcrossMerges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.MergeEdges(ctx, "p1", models.RelationKindCitations, []models.NeighborSummary{
		{PaperID: "n1"}, {PaperID: "n2"},
	}, 4))
	require.NoError(t, store.MergeEdges(ctx, "p1", models.RelationKindCitations, []models.NeighborSummary{
		{PaperID: "n2", IsInfluential: true}, {PaperID: "n3"}, {PaperID: "n4"},
	}, 4))

	items, total, err := store.GetRelationSlice(ctx, "p1", models.RelationKindCitations, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, items, 4)
	assert.Equal(t, []string{"n1", "n2", "n3", "n4"}, []string{items[0].PaperID, items[1].PaperID, items[2].PaperID, items[3].PaperID})
	assert.True(t, items[1].IsInfluential)
}

func TestGraphStore_SearchPapersByTitle_FullPapersOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertPaper(ctx, &models.Paper{
		PaperID:      "full1",
		Title:        "Deep Learning for Citation Graphs",
		IngestStatus: models.IngestStatusFull,
		FetchedAt:    time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, store.UpsertNeighborStubs(ctx, []models.NeighborSummary{
		{PaperID: "stub1", Title: "Deep Learning Stub"},
	}))

	papers, err := store.SearchPapersByTitle(ctx, "deep learning", 10)
	require.NoError(t, err)
	require.Len(t, papers, 1, "stub papers never serve search results")
	assert.Equal(t, "full1", papers[0].PaperID)
}

func TestGraphStore_IngestProgress_UpsertsOnConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetIngestProgress(ctx, &models.IngestProgress{
		PaperID: "p1",
		Kind:    models.RelationKindCitations,
		State:   models.IngestStateRunning,
	}))

	require.NoError(t, store.SetIngestProgress(ctx, &models.IngestProgress{
		PaperID:      "p1",
		Kind:         models.RelationKindCitations,
		State:        models.IngestStateComplete,
		PagesFetched: 3,
	}))

	progress, err := store.GetIngestProgress(ctx, "p1", models.RelationKindCitations)
	require.NoError(t, err)
	assert.True(t, progress.IsDone())
	assert.Equal(t, 3, progress.PagesFetched)
}
