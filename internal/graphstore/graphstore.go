// Package graphstore implements the durable tier: paper nodes, citation
// edges, merged relation blobs, and ingest-progress cursors, all of which
// survive hot-cache evictions and process restarts. It is a thin
// repository layer over GORM returning errors from the shared taxonomy.
package graphstore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	scerrors "scicache-backend/internal/errors"
	"scicache-backend/internal/models"
)

// Store is the Graph Store contract consumed by the Paper Resolver and
// Relation Ingestor.
type Store interface {
	GetPaper(ctx context.Context, paperID string) (*models.Paper, error)
	// UpsertPaper merges paper onto any existing record for the same id,
	// following Paper.MergeFrom's semantics, and returns the merged result.
	UpsertPaper(ctx context.Context, paper *models.Paper) (*models.Paper, error)
	// UpsertNeighborStubs ensures a minimal stub Paper row exists for every
	// given neighbor id, without disturbing any already-full record.
	UpsertNeighborStubs(ctx context.Context, neighbors []models.NeighborSummary) error

	// MergeEdges merges citation edges into the durable edge table, with
	// direction set by kind (citations: each neighbor cites fromPaperID;
	// references: fromPaperID cites each neighbor), following CitationEdge's
	// last-writer-wins attribute merge, and mirrors the same neighbors into
	// fromPaperID's relation blob of kind.
	MergeEdges(ctx context.Context, fromPaperID string, kind models.RelationKind, neighbors []models.NeighborSummary, total int) error

	GetRelationBlob(ctx context.Context, paperID string, kind models.RelationKind) (*models.RelationBlob, error)
	// GetRelationSlice returns a single page [offset, offset+limit) of the
	// relation blob, without requiring the whole blob be re-fetched.
	GetRelationSlice(ctx context.Context, paperID string, kind models.RelationKind, offset, limit int) ([]models.NeighborSummary, int, error)

	GetIngestProgress(ctx context.Context, paperID string, kind models.RelationKind) (*models.IngestProgress, error)
	SetIngestProgress(ctx context.Context, progress *models.IngestProgress) error

	// SearchPapersByTitle returns fully-ingested papers whose title
	// contains query, most-cited first. Best-effort: it backs the Search
	// Coordinator's prefer-local mode and makes no ranking promises
	// relative to Upstream.
	SearchPapersByTitle(ctx context.Context, query string, limit int) ([]models.Paper, error)
}

type gormStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New creates a Graph Store backed by db.
func New(db *gorm.DB, logger *slog.Logger) Store {
	return &gormStore{db: db, logger: logger}
}

func (s *gormStore) GetPaper(ctx context.Context, paperID string) (*models.Paper, error) {
	var paper models.Paper
	err := s.db.WithContext(ctx).First(&paper, "paper_id = ?", paperID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, scerrors.NewNotFoundError("paper", paperID)
		}
		return nil, scerrors.NewDatabaseError("get_paper", err)
	}
	return &paper, nil
}

func (s *gormStore) UpsertPaper(ctx context.Context, paper *models.Paper) (*models.Paper, error) {
	var merged *models.Paper
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Paper
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&existing, "paper_id = ?", paper.PaperID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if paper.FetchedAt.IsZero() {
				paper.FetchedAt = time.Now()
			}
			if paper.MetadataUpdatedAt.IsZero() {
				paper.MetadataUpdatedAt = paper.FetchedAt
			}
			if err := tx.Create(paper).Error; err != nil {
				return scerrors.NewDatabaseError("upsert_paper", err)
			}
			merged = paper
			return nil
		case err != nil:
			return scerrors.NewDatabaseError("upsert_paper", err)
		default:
			existing.MergeFrom(paper)
			if err := tx.Save(&existing).Error; err != nil {
				return scerrors.NewDatabaseError("upsert_paper", err)
			}
			merged = &existing
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *gormStore) UpsertNeighborStubs(ctx context.Context, neighbors []models.NeighborSummary) error {
	if len(neighbors) == 0 {
		return nil
	}
	now := time.Now()
	stubs := make([]models.Paper, 0, len(neighbors))
	for _, n := range neighbors {
		stubs = append(stubs, models.Paper{
			PaperID:      n.PaperID,
			Title:        n.Title,
			IngestStatus: models.IngestStatusStub,
			FetchedAt:    now,
		})
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "paper_id"}},
			DoNothing: true,
		}).
		Create(&stubs).Error
	if err != nil {
		return scerrors.NewDatabaseError("upsert_neighbor_stubs", err)
	}
	return nil
}

func (s *gormStore) MergeEdges(ctx context.Context, fromPaperID string, kind models.RelationKind, neighbors []models.NeighborSummary, total int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, n := range neighbors {
			// A citations neighbor cites fromPaperID; a references neighbor
			// is cited by it.
			edge := models.CitationEdge{
				CitingPaperID: n.PaperID,
				CitedPaperID:  fromPaperID,
				Contexts:      n.Contexts,
				Intents:       n.Intents,
				IsInfluential: n.IsInfluential,
			}
			if kind == models.RelationKindReferences {
				edge.CitingPaperID, edge.CitedPaperID = fromPaperID, n.PaperID
			}
			var existing models.CitationEdge
			err := tx.Where("citing_paper_id = ? AND cited_paper_id = ?", edge.CitingPaperID, edge.CitedPaperID).
				First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(&edge).Error; err != nil {
					return scerrors.NewDatabaseError("merge_edges", err)
				}
			case err != nil:
				return scerrors.NewDatabaseError("merge_edges", err)
			default:
				if n.Contexts != nil {
					existing.Contexts = n.Contexts
				}
				if n.Intents != nil {
					existing.Intents = n.Intents
				}
				existing.IsInfluential = n.IsInfluential
				if err := tx.Save(&existing).Error; err != nil {
					return scerrors.NewDatabaseError("merge_edges", err)
				}
			}
		}

		var blob models.RelationBlob
		err := tx.Where("paper_id = ? AND kind = ?", fromPaperID, kind).First(&blob).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return scerrors.NewDatabaseError("merge_edges", err)
		}
		// Merge keyed by neighbor id but keep append order stable, so the
		// blob's pagination stays consistent across re-merges.
		position := map[string]int{}
		items := append([]models.NeighborSummary(nil), blob.Items...)
		for i, item := range items {
			position[item.PaperID] = i
		}
		for _, n := range neighbors {
			if i, seen := position[n.PaperID]; seen {
				items[i].MergeFrom(n)
				continue
			}
			position[n.PaperID] = len(items)
			items = append(items, n)
		}
		blob.PaperID = fromPaperID
		blob.Kind = kind
		blob.Items = items
		if total > blob.Total {
			blob.Total = total
		}
		if err := tx.Save(&blob).Error; err != nil {
			return scerrors.NewDatabaseError("merge_edges", err)
		}
		return nil
	})
}

func (s *gormStore) GetRelationBlob(ctx context.Context, paperID string, kind models.RelationKind) (*models.RelationBlob, error) {
	var blob models.RelationBlob
	err := s.db.WithContext(ctx).Where("paper_id = ? AND kind = ?", paperID, kind).First(&blob).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, scerrors.NewNotFoundError("relation", paperID)
		}
		return nil, scerrors.NewDatabaseError("get_relation_blob", err)
	}
	return &blob, nil
}

func (s *gormStore) GetRelationSlice(ctx context.Context, paperID string, kind models.RelationKind, offset, limit int) ([]models.NeighborSummary, int, error) {
	blob, err := s.GetRelationBlob(ctx, paperID, kind)
	if err != nil {
		return nil, 0, err
	}
	if offset >= len(blob.Items) {
		return []models.NeighborSummary{}, blob.Total, nil
	}
	end := offset + limit
	if end > len(blob.Items) {
		end = len(blob.Items)
	}
	return blob.Items[offset:end], blob.Total, nil
}

func (s *gormStore) GetIngestProgress(ctx context.Context, paperID string, kind models.RelationKind) (*models.IngestProgress, error) {
	var progress models.IngestProgress
	err := s.db.WithContext(ctx).Where("paper_id = ? AND kind = ?", paperID, kind).First(&progress).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, scerrors.NewNotFoundError("ingest_progress", paperID)
		}
		return nil, scerrors.NewDatabaseError("get_ingest_progress", err)
	}
	return &progress, nil
}

func (s *gormStore) SearchPapersByTitle(ctx context.Context, query string, limit int) ([]models.Paper, error) {
	var papers []models.Paper
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	err := s.db.WithContext(ctx).
		Where("ingest_status = ? AND lower(title) LIKE ?", models.IngestStatusFull, pattern).
		Order("citation_count DESC").
		Limit(limit).
		Find(&papers).Error
	if err != nil {
		return nil, scerrors.NewDatabaseError("search_papers_by_title", err)
	}
	return papers, nil
}

func (s *gormStore) SetIngestProgress(ctx context.Context, progress *models.IngestProgress) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "paper_id"}, {Name: "kind"}},
			UpdateAll: true,
		}).
		Create(progress).Error
	if err != nil {
		return scerrors.NewDatabaseError("set_ingest_progress", err)
	}
	return nil
}
