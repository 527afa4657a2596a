package benchmarks_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"scicache-backend/internal/aliasindex"
	"scicache-backend/internal/graphstore"
	"scicache-backend/internal/models"
	"scicache-backend/internal/projector"
)

func benchStore(b *testing.B) (graphstore.Store, aliasindex.Index) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		b.Fatal(err)
	}
	if err := db.AutoMigrate(&models.Paper{}, &models.Alias{}, &models.CitationEdge{}, &models.RelationBlob{}, &models.IngestProgress{}); err != nil {
		b.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return graphstore.New(db, logger), aliasindex.New(db, logger)
}

func benchPaper(i int) *models.Paper {
	now := time.Now().UTC()
	return &models.Paper{
		PaperID:           fmt.Sprintf("%040x", i+1),
		Title:             fmt.Sprintf("Benchmark Paper %d", i),
		CitationCount:     i,
		IngestStatus:      models.IngestStatusFull,
		FetchedAt:         now,
		MetadataUpdatedAt: now,
	}
}

func BenchmarkGraphStore_UpsertPaper(b *testing.B) {
	store, _ := benchStore(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.UpsertPaper(ctx, benchPaper(i)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGraphStore_GetPaper(b *testing.B) {
	store, _ := benchStore(b)
	ctx := context.Background()
	if _, err := store.UpsertPaper(ctx, benchPaper(0)); err != nil {
		b.Fatal(err)
	}
	id := benchPaper(0).PaperID

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.GetPaper(ctx, id); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGraphStore_MergeEdges100(b *testing.B) {
	store, _ := benchStore(b)
	ctx := context.Background()
	parent := benchPaper(0).PaperID

	page := make([]models.NeighborSummary, 100)
	for i := range page {
		page[i] = models.NeighborSummary{PaperID: fmt.Sprintf("%040x", 1000+i)}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.MergeEdges(ctx, parent, models.RelationKindCitations, page, 100); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGraphStore_GetRelationSlice(b *testing.B) {
	store, _ := benchStore(b)
	ctx := context.Background()
	parent := benchPaper(0).PaperID

	page := make([]models.NeighborSummary, 1000)
	for i := range page {
		page[i] = models.NeighborSummary{PaperID: fmt.Sprintf("%040x", 1000+i)}
	}
	if err := store.MergeEdges(ctx, parent, models.RelationKindCitations, page, 1000); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := store.GetRelationSlice(ctx, parent, models.RelationKindCitations, 500, 100); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAliasIndex_Resolve(b *testing.B) {
	_, idx := benchStore(b)
	ctx := context.Background()

	if _, err := idx.Record(ctx, benchPaper(0).PaperID, []aliasindex.Candidate{
		{Kind: models.AliasKindDOI, NormalizedValue: "10.1000/bench.001"},
	}); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, _, err := idx.Resolve(ctx, "DOI:10.1000/bench.001"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkProjector_Project(b *testing.B) {
	record := map[string]interface{}{
		"paperId": "649def34f8be52c8b66281af98ae884c09aef38b",
		"title":   "Benchmark Paper",
		"year":    2020.0,
		"authors": []interface{}{
			map[string]interface{}{"authorId": "a1", "name": "Alice"},
			map[string]interface{}{"authorId": "a2", "name": "Bob"},
		},
		"journal": map[string]interface{}{"name": "Nature", "volume": "1"},
	}
	fields := []string{"title", "year", "authors.name", "journal.name"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		projector.Project(record, fields)
	}
}
