// Package resolver implements the read path for single-paper, batch, and
// relation queries: alias resolution, hot-cache lookup, negative cache,
// fresh graph-store reads, single-flight coordination, and the upstream
// fetch with its write-through and async fan-out. It is the only
// component that writes to every tier.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"scicache-backend/internal/aliasindex"
	scerrors "scicache-backend/internal/errors"
	"scicache-backend/internal/graphstore"
	"scicache-backend/internal/hotcache"
	"scicache-backend/internal/messaging"
	"scicache-backend/internal/models"
	"scicache-backend/internal/projector"
	"scicache-backend/internal/upstream"
)

// Durations bundles the Hot Cache TTLs and single-flight timing the
// resolver needs, mirroring config.CacheDurations.
type Durations struct {
	PaperTTL         time.Duration
	RelationTTL      time.Duration
	RelationPageTTL  time.Duration
	NegativeTTL      time.Duration
	LockTTL          time.Duration
	WaitPollInterval time.Duration
	WaitTimeout      time.Duration
	FreshnessWindow  time.Duration
}

// Options carries the resolver's policy knobs beyond the TTLs.
type Options struct {
	Durations Durations
	// LargeRelationThreshold is the relation count at or above which
	// pagination is handed to the Relation Ingestor instead of being
	// served page-by-page on demand.
	LargeRelationThreshold int
	// RelationPageSize bounds on-demand relation page fetches.
	RelationPageSize int
	// MaxBatchSize caps POST /paper/batch input length.
	MaxBatchSize int
	// RequestDeadline bounds each read operation end to end; zero means
	// the caller's context governs alone.
	RequestDeadline time.Duration
}

// Resolver is the Paper Resolver contract consumed by the API handlers.
type Resolver interface {
	// GetPaper resolves ref to a canonical paper id and returns it projected
	// onto fields. When Upstream is unreachable and only a stale Graph Store
	// copy could serve, the projection carries data_may_be_outdated = true.
	GetPaper(ctx context.Context, ref string, fields []string) (map[string]interface{}, error)
	// GetBatch resolves every ref in refs, preserving input order; a ref
	// that cannot be resolved yields a nil entry at its index rather than
	// failing the whole batch. Misses are fetched from Upstream in one
	// batched call.
	GetBatch(ctx context.Context, refs []string, fields []string) ([]map[string]interface{}, error)
	// GetRelationPage returns one page of a paper's citations or references.
	GetRelationPage(ctx context.Context, ref string, kind models.RelationKind, offset, limit int, fields []string) ([]map[string]interface{}, int, error)
	// Invalidate drops every Hot Cache entry for the paper ref resolves to.
	Invalidate(ctx context.Context, ref string) error
	// Warm forces a fresh Upstream fetch for the paper ref resolves to,
	// regardless of current freshness.
	Warm(ctx context.Context, ref string) error
}

type resolver struct {
	aliases   aliasindex.Index
	graph     graphstore.Store
	cache     hotcache.Cache
	upstream  upstream.Client
	publisher *messaging.EventPublisher
	opts      Options
	logger    *slog.Logger
}

// New creates a Paper Resolver. publisher may be nil, in which case the
// post-fetch event fan-out (paper-resolved, ingest-requested, alias
// conflicts) is skipped — tests commonly run without a live messaging
// client, and large-relation ingestion then relies on the relation read
// path's own trigger.
func New(aliases aliasindex.Index, graph graphstore.Store, cache hotcache.Cache, upstreamClient upstream.Client, publisher *messaging.EventPublisher, opts Options, logger *slog.Logger) Resolver {
	if opts.RelationPageSize <= 0 {
		opts.RelationPageSize = 100
	}
	if opts.LargeRelationThreshold <= 0 {
		opts.LargeRelationThreshold = 100
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 500
	}
	if opts.Durations.LockTTL <= 0 {
		opts.Durations.LockTTL = 5 * time.Minute
	}
	return &resolver{
		aliases:   aliases,
		graph:     graph,
		cache:     cache,
		upstream:  upstreamClient,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
	}
}

func (r *resolver) GetPaper(ctx context.Context, ref string, fields []string) (map[string]interface{}, error) {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()

	paper, stale, err := r.resolveOne(ctx, ref)
	if err != nil {
		return nil, err
	}
	record := projector.Project(toRecord(paper), fields)
	if stale {
		record["data_may_be_outdated"] = true
	}
	return record, nil
}

func (r *resolver) GetBatch(ctx context.Context, refs []string, fields []string) ([]map[string]interface{}, error) {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()

	if len(refs) > r.opts.MaxBatchSize {
		return nil, scerrors.NewValidationError("batch exceeds maximum size", "ids", "")
	}

	results := make([]map[string]interface{}, len(refs))
	var missIdx []int
	var missRefs []string

	for i, ref := range refs {
		paperID, err := r.identify(ctx, ref)
		switch {
		case err == nil:
			if paper, ok := r.hotLookup(ctx, paperID); ok {
				results[i] = projector.Project(toRecord(paper), fields)
				continue
			}
			if paper, err := r.warmLookup(ctx, paperID); err == nil {
				r.cachePaper(ctx, paper)
				results[i] = projector.Project(toRecord(paper), fields)
				continue
			}
			missIdx = append(missIdx, i)
			missRefs = append(missRefs, paperID)
		case scerrors.IsNotFoundError(err):
			// Alias not yet recorded; let Upstream resolve the raw ref.
			missIdx = append(missIdx, i)
			missRefs = append(missRefs, ref)
		default:
			// Malformed ref: its slot stays null, the rest of the batch
			// proceeds.
			r.logger.Warn("unresolvable batch ref", slog.String("ref", ref), slog.String("error", err.Error()))
		}
	}

	if len(missRefs) == 0 {
		return results, nil
	}

	papers, err := r.upstream.FetchBatch(ctx, missRefs, upstream.DefaultPaperFields)
	if err != nil {
		r.logger.Warn("batch upstream fetch failed; returning partial results", slog.String("error", err.Error()))
		return results, nil
	}
	for j, paper := range papers {
		if j >= len(missIdx) || paper == nil {
			continue
		}
		merged := r.persistFetched(ctx, paper, missRefs[j])
		results[missIdx[j]] = projector.Project(toRecord(merged), fields)
	}
	return results, nil
}

func (r *resolver) GetRelationPage(ctx context.Context, ref string, kind models.RelationKind, offset, limit int, fields []string) ([]map[string]interface{}, int, error) {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()

	paper, _, err := r.resolveOne(ctx, ref)
	if err != nil {
		return nil, 0, err
	}

	// Merged view first: if enough of the relation has already been
	// fetched, the slice comes straight from the Hot Cache.
	viewKey := hotcache.RelationKey(paper.PaperID, string(kind))
	if raw, err := r.cache.Get(ctx, viewKey); err == nil {
		var view relationView
		if err := json.Unmarshal(raw, &view); err == nil {
			if offset >= view.Total {
				return []map[string]interface{}{}, view.Total, nil
			}
			if offset+limit <= len(view.Items) {
				return projectNeighbors(view.Items[offset:offset+limit], fields), view.Total, nil
			}
		}
	}

	// Graph Store blob next; a hit republishes the merged view.
	items, total, err := r.graph.GetRelationSlice(ctx, paper.PaperID, kind, offset, limit)
	if err == nil && (len(items) > 0 || offset >= total) {
		r.publishRelationView(ctx, paper.PaperID, kind)
		return projectNeighbors(items, fields), total, nil
	}

	// Direct page fetch, folded into the stores best-effort; the Relation
	// Ingestor backfills any gaps this leaves.
	page, fetchErr := r.upstream.FetchRelationPage(ctx, paper.PaperID, kind, offset, limit, upstream.DefaultRelationFields)
	if fetchErr != nil {
		return nil, 0, fetchErr
	}
	if err := r.graph.UpsertNeighborStubs(ctx, page.Items); err != nil {
		r.logger.Warn("failed to upsert neighbor stubs", slog.String("error", err.Error()))
	}
	if err := r.graph.MergeEdges(ctx, paper.PaperID, kind, page.Items, page.Total); err != nil {
		r.logger.Warn("failed to persist relation page", slog.String("error", err.Error()))
	}
	pageKey := hotcache.RelationPageKey(paper.PaperID, string(kind), pageIndex(offset, limit))
	if encoded, err := json.Marshal(relationView{Items: page.Items, Total: page.Total}); err == nil {
		if err := r.cache.Set(ctx, pageKey, encoded, r.opts.Durations.RelationPageTTL); err != nil {
			r.logger.Warn("failed to cache relation page", slog.String("error", err.Error()))
		}
	}

	return projectNeighbors(page.Items, fields), page.Total, nil
}

func pageIndex(offset, limit int) int {
	if limit <= 0 {
		return 0
	}
	return offset / limit
}

func (r *resolver) Invalidate(ctx context.Context, ref string) error {
	paperID, err := r.identify(ctx, ref)
	if err != nil {
		return err
	}
	prefixes := []string{
		string(hotcache.NamespacePaperFull) + "." + paperID,
		string(hotcache.NamespaceRelation) + "." + paperID,
		string(hotcache.NamespaceRelationPage) + "." + paperID,
		string(hotcache.NamespaceIngestProgress) + "." + paperID,
	}
	for _, prefix := range prefixes {
		if err := r.cache.DeletePrefix(ctx, prefix); err != nil {
			return err
		}
	}
	// The negative entry is a single key with no trailing token, so prefix
	// matching can never reach it; drop it directly.
	if err := r.cache.Delete(ctx, hotcache.NegativeKey(paperID)); err != nil {
		return err
	}
	if r.publisher != nil {
		if err := r.publisher.PublishCacheInvalidated(ctx, paperID); err != nil {
			r.logger.Warn("failed to publish cache invalidated event", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (r *resolver) Warm(ctx context.Context, ref string) error {
	paperID, err := r.identify(ctx, ref)
	if err != nil {
		if scerrors.IsNotFoundError(err) {
			// Unknown alias: resolve it the speculative way.
			_, _, err = r.resolveSpeculative(ctx, ref)
		}
		return err
	}
	_, err = r.fetchAndPersist(ctx, paperID)
	return err
}

// resolveOne implements the full lookup chain: identity resolution, hot
// path, negative cache, warm path, single-flight, Upstream fetch with
// alias recording and persistence fan-out. The bool return reports that
// only a stale Graph Store copy could serve.
func (r *resolver) resolveOne(ctx context.Context, ref string) (*models.Paper, bool, error) {
	paperID, err := r.identify(ctx, ref)
	if err != nil {
		if scerrors.IsNotFoundError(err) {
			return r.resolveSpeculative(ctx, ref)
		}
		return nil, false, err
	}

	if paper, ok := r.hotLookup(ctx, paperID); ok {
		return paper, false, nil
	}

	if _, err := r.cache.Get(ctx, hotcache.NegativeKey(paperID)); err == nil {
		return nil, false, scerrors.NewNotFoundError("paper", paperID)
	}

	if paper, err := r.warmLookup(ctx, paperID); err == nil {
		r.cachePaper(ctx, paper)
		return paper, false, nil
	}

	return r.singleFlightFetch(ctx, paperID)
}

// identify resolves ref to a canonical paper id via the Alias Index. A ref
// that already is a 40-hex paper id is accepted as-is without a lookup,
// matching Upstream's own id space. An alias the index has never seen
// surfaces as not-found; callers decide whether to fetch speculatively.
func (r *resolver) identify(ctx context.Context, ref string) (string, error) {
	if aliasindex.IsCanonicalID(ref) {
		return ref, nil
	}
	_, _, paperID, err := r.aliases.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	return paperID, nil
}

// resolveSpeculative handles a syntactically valid alias the index has
// never seen: Upstream is asked for the raw ref directly, the returned
// record's paper id defines identity, and the alias is recorded so the
// next lookup takes the indexed path. Single-flight here is keyed on the
// normalized alias, since no canonical id exists yet to key on.
func (r *resolver) resolveSpeculative(ctx context.Context, ref string) (*models.Paper, bool, error) {
	kind, normalized, err := r.aliases.Normalize(ref)
	if err != nil {
		return nil, false, err
	}

	token := uuid.NewString()
	lockKey := hotcache.LockKey("alias." + string(kind) + "." + normalized)
	acquired, err := r.cache.AcquireLock(ctx, lockKey, token, r.opts.Durations.LockTTL)
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		// Another caller is already resolving this alias; wait for the
		// mapping to appear, then take the normal path.
		deadline := time.Now().Add(r.opts.Durations.WaitTimeout)
		for time.Now().Before(deadline) {
			if paperID, err := r.identify(ctx, ref); err == nil {
				if paper, ok := r.hotLookup(ctx, paperID); ok {
					return paper, false, nil
				}
			}
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			case <-time.After(r.opts.Durations.WaitPollInterval):
			}
		}
	} else {
		defer r.cache.ReleaseLock(ctx, lockKey, token)
	}

	candidate := aliasindex.Candidate{Kind: kind, NormalizedValue: normalized}
	paper, err := r.fetchAndPersistByRef(ctx, string(kind)+":"+normalized, &candidate)
	if err != nil {
		return nil, false, err
	}
	return paper, false, nil
}

func (r *resolver) hotLookup(ctx context.Context, paperID string) (*models.Paper, bool) {
	raw, err := r.cache.Get(ctx, hotcache.PaperFullKey(paperID))
	if err != nil {
		return nil, false
	}
	var paper models.Paper
	if err := json.Unmarshal(raw, &paper); err != nil {
		return nil, false
	}
	return &paper, true
}

func (r *resolver) warmLookup(ctx context.Context, paperID string) (*models.Paper, error) {
	paper, err := r.graph.GetPaper(ctx, paperID)
	if err != nil {
		return nil, err
	}
	if !paper.IsFull() || !paper.IsFresh(time.Now(), r.opts.Durations.FreshnessWindow) {
		return nil, scerrors.NewNotFoundError("fresh paper", paperID)
	}
	return paper, nil
}

// singleFlightFetch coalesces concurrent Upstream fetches for paperID into
// one caller's request; everyone else polls the Hot Cache until the winner
// publishes the result or the wait deadline elapses.
func (r *resolver) singleFlightFetch(ctx context.Context, paperID string) (*models.Paper, bool, error) {
	token := uuid.NewString()
	lockKey := hotcache.LockKey("paper." + paperID)
	acquired, err := r.cache.AcquireLock(ctx, lockKey, token, r.opts.Durations.LockTTL)
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		if paper, err := r.waitForFetch(ctx, paperID); err == nil {
			return paper, false, nil
		}
		// The holder may have crashed or stalled; a redundant fetch is
		// tolerated over an unbounded wait.
	} else {
		defer r.cache.ReleaseLock(ctx, lockKey, token)
	}

	paper, err := r.fetchAndPersist(ctx, paperID)
	if err == nil {
		return paper, false, nil
	}

	if scerrors.IsNotFoundError(err) {
		if setErr := r.cache.Set(ctx, hotcache.NegativeKey(paperID), []byte("1"), r.opts.Durations.NegativeTTL); setErr != nil {
			r.logger.Warn("failed to set negative cache", slog.String("error", setErr.Error()))
		}
		return nil, false, err
	}

	// Upstream unreachable: a stale Graph Store copy is better than a 503.
	if isUpstreamUnavailable(err) {
		if stale, graphErr := r.graph.GetPaper(ctx, paperID); graphErr == nil && stale.IsFull() {
			r.logger.Warn("serving stale copy, upstream unavailable",
				slog.String("paper_id", paperID), slog.String("error", err.Error()))
			return stale, true, nil
		}
	}
	return nil, false, err
}

func (r *resolver) waitForFetch(ctx context.Context, paperID string) (*models.Paper, error) {
	deadline := time.Now().Add(r.opts.Durations.WaitTimeout)
	ticker := time.NewTicker(r.opts.Durations.WaitPollInterval)
	defer ticker.Stop()
	for {
		if paper, ok := r.hotLookup(ctx, paperID); ok {
			return paper, nil
		}
		if _, err := r.cache.Get(ctx, hotcache.NegativeKey(paperID)); err == nil {
			return nil, scerrors.NewNotFoundError("paper", paperID)
		}
		if time.Now().After(deadline) {
			return nil, scerrors.NewTimeoutError("resolve_paper", r.opts.Durations.WaitTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// withDeadline applies the configured per-read deadline on top of the
// caller's context.
func (r *resolver) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.RequestDeadline <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.opts.RequestDeadline)
}

// fetchAndPersist calls Upstream for a known canonical id.
func (r *resolver) fetchAndPersist(ctx context.Context, paperID string) (*models.Paper, error) {
	return r.fetchAndPersistByRef(ctx, paperID, nil)
}

// fetchAndPersistByRef calls Upstream for ref (a canonical id or a
// prefixed alias), persists the result through every tier, and fans out
// the post-fetch events. The work is detached from the caller's
// cancellation: once an upstream fetch is in flight its result is worth
// persisting even if the requester has given up, and single-flight
// waiters are still polling for it. The lock TTL bounds the detached
// work instead.
func (r *resolver) fetchAndPersistByRef(ctx context.Context, ref string, knownAlias *aliasindex.Candidate) (*models.Paper, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.Durations.LockTTL)
	defer cancel()

	fetched, err := r.upstream.FetchPaper(ctx, ref, upstream.DefaultPaperFields)
	if err != nil {
		return nil, err
	}
	viaRef := ""
	if knownAlias != nil {
		viaRef = string(knownAlias.Kind) + ":" + knownAlias.NormalizedValue
	}
	return r.persistFetched(ctx, fetched, viaRef), nil
}

// persistFetched writes a freshly fetched record through every tier: Graph
// Store upsert, alias recording (external ids, normalized title, and the
// ref the caller arrived by), Hot Cache write, then the async fan-out
// events. Write-path store failures are logged and swallowed — the Hot
// Cache already holds the answer the client is about to receive.
func (r *resolver) persistFetched(ctx context.Context, fetched *models.Paper, viaRef string) *models.Paper {
	merged, err := r.graph.UpsertPaper(ctx, fetched)
	if err != nil {
		r.logger.Warn("failed to persist paper to graph store",
			slog.String("paper_id", fetched.PaperID), slog.String("error", err.Error()))
		merged = fetched
	}

	candidates := aliasesFromExternalIDs(merged.ExternalIDs)
	if merged.Title != "" {
		candidates = append(candidates, aliasindex.Candidate{
			Kind:            models.AliasKindTitleNorm,
			NormalizedValue: aliasindex.NormalizeTitle(merged.Title),
		})
	}
	if viaRef != "" && !aliasindex.IsCanonicalID(viaRef) {
		if kind, normalized, err := r.aliases.Normalize(viaRef); err == nil {
			candidates = append(candidates, aliasindex.Candidate{Kind: kind, NormalizedValue: normalized})
		}
	}
	conflicts, err := r.aliases.Record(ctx, merged.PaperID, candidates)
	if err != nil {
		r.logger.Warn("failed to record aliases", slog.String("paper_id", merged.PaperID), slog.String("error", err.Error()))
	}
	for _, c := range conflicts {
		if r.publisher != nil {
			if err := r.publisher.PublishAliasConflict(ctx, string(c.Kind), c.NormalizedValue, c.ExistingPaperID, merged.PaperID); err != nil {
				r.logger.Warn("failed to publish alias conflict", slog.String("error", err.Error()))
			}
		}
	}

	r.cachePaper(ctx, merged)

	if r.publisher != nil {
		if err := r.publisher.PublishPaperResolved(ctx, merged.PaperID, "upstream", merged.CitationCount, merged.ReferenceCount, false); err != nil {
			r.logger.Warn("failed to publish paper-resolved event", slog.String("error", err.Error()))
		}
		r.requestIngestIfLarge(ctx, merged)
	}

	return merged
}

// requestIngestIfLarge hands large relation lists to the ingest worker
// pool. Small lists are left to the relation read path, which fetches
// pages on demand.
func (r *resolver) requestIngestIfLarge(ctx context.Context, paper *models.Paper) {
	kinds := []struct {
		kind  models.RelationKind
		count int
	}{
		{models.RelationKindCitations, paper.CitationCount},
		{models.RelationKindReferences, paper.ReferenceCount},
	}
	for _, k := range kinds {
		if k.count < r.opts.LargeRelationThreshold {
			continue
		}
		if err := r.publisher.PublishRelationIngestRequested(ctx, paper.PaperID, string(k.kind), k.count); err != nil {
			r.logger.Warn("failed to publish ingest request",
				slog.String("paper_id", paper.PaperID),
				slog.String("kind", string(k.kind)),
				slog.String("error", err.Error()))
		}
	}
}

func (r *resolver) publishRelationView(ctx context.Context, paperID string, kind models.RelationKind) {
	blob, err := r.graph.GetRelationBlob(ctx, paperID, kind)
	if err != nil {
		return
	}
	encoded, err := json.Marshal(relationView{Items: blob.Items, Total: blob.Total})
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, hotcache.RelationKey(paperID, string(kind)), encoded, r.opts.Durations.RelationTTL); err != nil {
		r.logger.Warn("failed to cache relation view", slog.String("error", err.Error()))
	}
}

func (r *resolver) cachePaper(ctx context.Context, paper *models.Paper) {
	encoded, err := json.Marshal(paper)
	if err != nil {
		r.logger.Warn("failed to marshal paper for caching", slog.String("error", err.Error()))
		return
	}
	if err := r.cache.Set(ctx, hotcache.PaperFullKey(paper.PaperID), encoded, r.opts.Durations.PaperTTL); err != nil {
		r.logger.Warn("failed to cache paper", slog.String("error", err.Error()))
	}
}

// isUpstreamUnavailable walks the cause chain so an exhausted-retries
// wrapper still reveals the connectivity failure underneath it.
func isUpstreamUnavailable(err error) bool {
	for err != nil {
		var scErr *scerrors.SciCacheError
		if !errors.As(err, &scErr) {
			return false
		}
		switch scErr.Type {
		case scerrors.ErrorTypeUpstream, scerrors.ErrorTypeNetwork, scerrors.ErrorTypeCircuitBreaker:
			return true
		}
		err = scErr.Cause
	}
	return false
}

func aliasesFromExternalIDs(externalIDs map[string]string) []aliasindex.Candidate {
	kindByKey := map[string]models.AliasKind{
		"DOI":           models.AliasKindDOI,
		"ArXiv":         models.AliasKindArXiv,
		"CorpusId":      models.AliasKindCorpusID,
		"MAG":           models.AliasKindMAG,
		"ACL":           models.AliasKindACL,
		"PubMed":        models.AliasKindPMID,
		"PubMedCentral": models.AliasKindPMCID,
		"URL":           models.AliasKindURL,
	}
	var candidates []aliasindex.Candidate
	for key, value := range externalIDs {
		kind, ok := kindByKey[key]
		if !ok || value == "" {
			continue
		}
		normalized, err := aliasindex.NormalizeValue(kind, value)
		if err != nil {
			continue
		}
		candidates = append(candidates, aliasindex.Candidate{Kind: kind, NormalizedValue: normalized})
	}
	return candidates
}

// relationView is the merged relation shape cached under
// relation.{paper_id}.{kind}: everything fetched so far plus Upstream's
// reported total.
type relationView struct {
	Items []models.NeighborSummary `json:"items"`
	Total int                      `json:"total"`
}

func projectNeighbors(items []models.NeighborSummary, fields []string) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		record := map[string]interface{}{
			"paperId":       item.PaperID,
			"title":         item.Title,
			"contexts":      toInterfaceSlice(item.Contexts),
			"intents":       toInterfaceSlice(item.Intents),
			"isInfluential": item.IsInfluential,
		}
		out = append(out, projector.Project(record, fields))
	}
	return out
}

func toInterfaceSlice(items []string) []interface{} {
	out := make([]interface{}, len(items))
	for i, v := range items {
		out[i] = v
	}
	return out
}

// toRecord converts a Paper into the generic map[string]interface{} shape
// the Projector operates on, via its own json tags so field names match
// what a client's ?fields= expression names.
func toRecord(paper *models.Paper) map[string]interface{} {
	encoded, err := json.Marshal(paper)
	if err != nil {
		return map[string]interface{}{"paperId": paper.PaperID}
	}
	var record map[string]interface{}
	if err := json.Unmarshal(encoded, &record); err != nil {
		return map[string]interface{}{"paperId": paper.PaperID}
	}
	return record
}
