// Package ingestor paginates large citation and reference lists from
// upstream in the background, merging each page idempotently into the
// graph store and keeping a resumable progress cursor, so a crash at any
// page boundary costs at most one page of rework.
package ingestor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"scicache-backend/internal/graphstore"
	"scicache-backend/internal/hotcache"
	"scicache-backend/internal/messaging"
	"scicache-backend/internal/models"
	"scicache-backend/internal/upstream"
)

// Config controls pagination and the single-flight-per-task guard.
type Config struct {
	PageSize               int
	MaxPages               int
	LargeRelationThreshold int
	LockTTL                time.Duration
	PageTTL                time.Duration
	ViewTTL                time.Duration
}

// Ingestor is the Relation Ingestor contract. Run is invoked once per
// (paperID, kind) ingest task, whether triggered synchronously by a
// Resolver cache miss or asynchronously by a queued ingest-needed event.
type Ingestor interface {
	Run(ctx context.Context, paperID string, kind models.RelationKind) error
}

type ingestor struct {
	graph     graphstore.Store
	cache     hotcache.Cache
	upstream  upstream.Client
	publisher *messaging.EventPublisher
	cfg       Config
	logger    *slog.Logger
}

// New creates a Relation Ingestor.
func New(graph graphstore.Store, cache hotcache.Cache, upstreamClient upstream.Client, publisher *messaging.EventPublisher, cfg Config, logger *slog.Logger) Ingestor {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &ingestor{graph: graph, cache: cache, upstream: upstreamClient, publisher: publisher, cfg: cfg, logger: logger}
}

// cachedView mirrors the merged relation shape the Resolver reads from
// the Hot Cache.
type cachedView struct {
	Items []models.NeighborSummary `json:"items"`
	Total int                      `json:"total"`
}

// Run implements the full algorithm: claim the single-flight guard for
// this (paperID, kind) pair, resume from any recorded progress, fetch
// pages until Upstream reports no more results or MaxPages is reached,
// merge each page idempotently, publish the merged view, and mark the
// task's terminal state.
func (ing *ingestor) Run(ctx context.Context, paperID string, kind models.RelationKind) error {
	lockKey := hotcache.LockKey("ingest." + paperID + "." + string(kind))
	token := uuid.NewString()
	acquired, err := ing.cache.AcquireLock(ctx, lockKey, token, ing.cfg.LockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		// A second request for a running ingest returns immediately; the
		// caller observes the partial view as it fills in.
		ing.logger.Debug("ingest already in flight, skipping",
			slog.String("paper_id", paperID), slog.String("kind", string(kind)))
		return nil
	}
	defer ing.cache.ReleaseLock(ctx, lockKey, token)

	started := time.Now()

	progress, err := ing.loadOrInitProgress(ctx, paperID, kind)
	if err != nil {
		return err
	}
	if progress.State == models.IngestStateComplete {
		return nil
	}
	progress.State = models.IngestStateRunning
	if err := ing.graph.SetIngestProgress(ctx, progress); err != nil {
		return err
	}

	runErr := ing.paginate(ctx, paperID, kind, progress)
	if runErr != nil {
		progress.State = models.IngestStateFailed
	} else {
		progress.State = models.IngestStateComplete
	}
	if err := ing.graph.SetIngestProgress(ctx, progress); err != nil {
		ing.logger.Warn("failed to persist terminal ingest state",
			slog.String("paper_id", paperID), slog.String("error", err.Error()))
	}

	neighbors := ing.publishMergedView(ctx, paperID, kind)

	if ing.publisher != nil {
		if err := ing.publisher.PublishRelationIngestCompleted(ctx, paperID, string(kind),
			progress.PagesFetched, neighbors, time.Since(started), runErr); err != nil {
			ing.logger.Warn("failed to publish ingest-completed event", slog.String("error", err.Error()))
		}
	}
	return runErr
}

// paginate drives the page loop, resuming at the recorded cursor. Every
// write below is an upsert or merge, so rerunning from any point is safe.
func (ing *ingestor) paginate(ctx context.Context, paperID string, kind models.RelationKind, progress *models.IngestProgress) error {
	offset := progress.PagesFetched * ing.cfg.PageSize
	for progress.PagesFetched < ing.cfg.MaxPages {
		page, err := ing.upstream.FetchRelationPage(ctx, paperID, kind, offset, ing.cfg.PageSize, upstream.DefaultRelationFields)
		if err != nil {
			return err
		}

		if err := ing.graph.UpsertNeighborStubs(ctx, page.Items); err != nil {
			return err
		}
		if err := ing.graph.MergeEdges(ctx, paperID, kind, page.Items, page.Total); err != nil {
			return err
		}
		ing.cacheRawPage(ctx, paperID, kind, progress.PagesFetched, page)

		progress.PagesFetched++
		progress.ExpectedTotal = page.Total
		offset += ing.cfg.PageSize
		progress.LastPageCursor = offset
		if err := ing.graph.SetIngestProgress(ctx, progress); err != nil {
			return err
		}

		if page.Next == nil || len(page.Items) == 0 || offset >= page.Total {
			return nil
		}
	}
	ing.logger.Warn("ingest stopped at page cap",
		slog.String("paper_id", paperID),
		slog.String("kind", string(kind)),
		slog.Int("pages_fetched", progress.PagesFetched),
		slog.Int("expected_total", progress.ExpectedTotal))
	return nil
}

func (ing *ingestor) cacheRawPage(ctx context.Context, paperID string, kind models.RelationKind, pageIndex int, page *upstream.RelationPage) {
	encoded, err := json.Marshal(cachedView{Items: page.Items, Total: page.Total})
	if err != nil {
		return
	}
	key := hotcache.RelationPageKey(paperID, string(kind), pageIndex)
	if err := ing.cache.Set(ctx, key, encoded, ing.cfg.PageTTL); err != nil {
		ing.logger.Warn("failed to cache relation page", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// publishMergedView copies the Graph Store's merged blob into the Hot
// Cache's relation view and returns the neighbor count.
func (ing *ingestor) publishMergedView(ctx context.Context, paperID string, kind models.RelationKind) int {
	blob, err := ing.graph.GetRelationBlob(ctx, paperID, kind)
	if err != nil {
		return 0
	}
	encoded, err := json.Marshal(cachedView{Items: blob.Items, Total: blob.Total})
	if err != nil {
		return len(blob.Items)
	}
	if err := ing.cache.Set(ctx, hotcache.RelationKey(paperID, string(kind)), encoded, ing.cfg.ViewTTL); err != nil {
		ing.logger.Warn("failed to publish merged relation view", slog.String("error", err.Error()))
	}
	return len(blob.Items)
}

func (ing *ingestor) loadOrInitProgress(ctx context.Context, paperID string, kind models.RelationKind) (*models.IngestProgress, error) {
	progress, err := ing.graph.GetIngestProgress(ctx, paperID, kind)
	if err == nil {
		return progress, nil
	}
	return &models.IngestProgress{
		PaperID: paperID,
		Kind:    kind,
		State:   models.IngestStatePending,
	}, nil
}
