// Package search coordinates paper search: stable query fingerprinting,
// hot-cache result caching with a short TTL, opportunistic graph-store
// population from result pages, and an optional prefer-local mode that
// answers from already-ingested papers before going upstream.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"scicache-backend/internal/graphstore"
	"scicache-backend/internal/hotcache"
	"scicache-backend/internal/messaging"
	"scicache-backend/internal/models"
	"scicache-backend/internal/projector"
	"scicache-backend/internal/upstream"
)

// Query describes a search request after normalization. Filters are
// forwarded to Upstream verbatim (year, venue, fieldsOfStudy, ...).
type Query struct {
	Text        string
	Filters     map[string]string
	Offset      int
	Limit       int
	Fields      []string
	PreferLocal bool
}

// Result is a page of search results ready for projection.
type Result struct {
	Papers []map[string]interface{}
	Total  int
}

// Options carries the coordinator's cache and prefer-local policy.
type Options struct {
	SearchTTL time.Duration
	// LocalMinResults is the smallest local hit count the prefer-local
	// mode accepts before falling back to Upstream.
	LocalMinResults int
}

// Coordinator is the Search Coordinator contract consumed by the API
// handlers.
type Coordinator interface {
	Search(ctx context.Context, query Query) (*Result, error)
}

type coordinator struct {
	graph     graphstore.Store
	cache     hotcache.Cache
	upstream  upstream.Client
	publisher *messaging.EventPublisher
	opts      Options
	logger    *slog.Logger
}

// New creates a Search Coordinator. publisher may be nil.
func New(graph graphstore.Store, cache hotcache.Cache, upstreamClient upstream.Client, publisher *messaging.EventPublisher, opts Options, logger *slog.Logger) Coordinator {
	if opts.LocalMinResults <= 0 {
		opts.LocalMinResults = 3
	}
	return &coordinator{graph: graph, cache: cache, upstream: upstreamClient, publisher: publisher, opts: opts, logger: logger}
}

func (c *coordinator) Search(ctx context.Context, query Query) (*Result, error) {
	started := time.Now()
	fingerprint := fingerprintOf(query)
	key := hotcache.SearchKey(fingerprint)

	if raw, err := c.cache.Get(ctx, key); err == nil {
		var cached cachedResult
		if err := json.Unmarshal(raw, &cached); err == nil {
			c.publishCompleted(ctx, query.Text, len(cached.Papers), started, true, false, nil)
			return &Result{Papers: projectPapers(cached.Papers, query.Fields), Total: cached.Total}, nil
		}
	}

	// Prefer-local mode answers from the Graph Store's title index when it
	// holds enough matches; ranking parity with Upstream is explicitly not
	// promised.
	if query.PreferLocal {
		if local, ok := c.searchLocal(ctx, query); ok {
			c.publishCompleted(ctx, query.Text, len(local.Papers), started, false, true, nil)
			return local, nil
		}
	}

	page, err := c.upstream.Search(ctx, query.Text, query.Filters, query.Offset, query.Limit, upstream.DefaultPaperFields)
	if err != nil {
		c.publishCompleted(ctx, query.Text, 0, started, false, false, err)
		return nil, err
	}

	for i := range page.Papers {
		if _, upsertErr := c.graph.UpsertPaper(ctx, &page.Papers[i]); upsertErr != nil {
			c.logger.Warn("failed to persist search result paper", slog.String("error", upsertErr.Error()))
		}
	}

	if encoded, err := json.Marshal(cachedResult{Papers: page.Papers, Total: page.Total}); err == nil {
		if err := c.cache.Set(ctx, key, encoded, c.opts.SearchTTL); err != nil {
			c.logger.Warn("failed to cache search result", slog.String("error", err.Error()))
		}
	}

	c.publishCompleted(ctx, query.Text, len(page.Papers), started, false, false, nil)
	return &Result{Papers: projectPapers(page.Papers, query.Fields), Total: page.Total}, nil
}

// searchLocal attempts to satisfy the query from papers already in the
// Graph Store. It reports false when the local index holds too few
// matches to be worth serving.
func (c *coordinator) searchLocal(ctx context.Context, query Query) (*Result, bool) {
	papers, err := c.graph.SearchPapersByTitle(ctx, query.Text, query.Offset+query.Limit)
	if err != nil {
		c.logger.Warn("local title search failed", slog.String("error", err.Error()))
		return nil, false
	}
	if len(papers) < c.opts.LocalMinResults {
		return nil, false
	}
	if query.Offset >= len(papers) {
		return &Result{Papers: []map[string]interface{}{}, Total: len(papers)}, true
	}
	end := query.Offset + query.Limit
	if end > len(papers) {
		end = len(papers)
	}
	return &Result{Papers: projectPapers(papers[query.Offset:end], query.Fields), Total: len(papers)}, true
}

func (c *coordinator) publishCompleted(ctx context.Context, query string, count int, started time.Time, cacheHit, local bool, err error) {
	if c.publisher == nil {
		return
	}
	if pubErr := c.publisher.PublishSearchCompleted(ctx, query, count, time.Since(started), cacheHit, local, err); pubErr != nil {
		c.logger.Warn("failed to publish search completed event", slog.String("error", pubErr.Error()))
	}
}

type cachedResult struct {
	Papers []models.Paper
	Total  int
}

func projectPapers(papers []models.Paper, fields []string) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(papers))
	for i := range papers {
		encoded, err := json.Marshal(&papers[i])
		if err != nil {
			continue
		}
		var record map[string]interface{}
		if err := json.Unmarshal(encoded, &record); err != nil {
			continue
		}
		out = append(out, projector.Project(record, fields))
	}
	return out
}

// fingerprintOf builds a stable cache key from the query's semantically
// meaningful parts — lowercased stripped text, sorted filters, offset and
// limit. It deliberately excludes Fields, since a field selection narrows
// what's returned after the cache lookup, not what Upstream is asked to
// search for.
func fingerprintOf(q Query) string {
	normalized := strings.ToLower(strings.TrimSpace(q.Text))
	parts := []string{normalized}

	filterKeys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		filterKeys = append(filterKeys, k)
	}
	sort.Strings(filterKeys)
	for _, k := range filterKeys {
		parts = append(parts, k+"="+q.Filters[k])
	}

	parts = append(parts, fmt.Sprintf("%d", q.Offset), fmt.Sprintf("%d", q.Limit))
	// The upstream contract defines the fingerprint over (query, filters,
	// offset, limit) only; local mode is folded in on top because local
	// answers make no ranking promise and must never be served to a
	// caller who asked for the upstream ordering, or vice versa.
	if q.PreferLocal {
		parts = append(parts, "local")
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
