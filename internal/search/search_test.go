package search_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scerrors "scicache-backend/internal/errors"
	"scicache-backend/internal/hotcache"
	"scicache-backend/internal/models"
	"scicache-backend/internal/search"
	"scicache-backend/internal/upstream"
)

type stubUpstream struct {
	mu      sync.Mutex
	calls   int
	queries []string
	filters []map[string]string
	page    *upstream.SearchPage
}

func (u *stubUpstream) FetchPaper(ctx context.Context, ref string, fields []string) (*models.Paper, error) {
	return nil, scerrors.NewNotFoundError("paper", ref)
}

func (u *stubUpstream) FetchRelationPage(ctx context.Context, paperID string, kind models.RelationKind, offset, limit int, fields []string) (*upstream.RelationPage, error) {
	return &upstream.RelationPage{}, nil
}

func (u *stubUpstream) FetchBatch(ctx context.Context, refs []string, fields []string) ([]*models.Paper, error) {
	return make([]*models.Paper, len(refs)), nil
}

func (u *stubUpstream) Search(ctx context.Context, query string, filters map[string]string, offset, limit int, fields []string) (*upstream.SearchPage, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.queries = append(u.queries, query)
	u.filters = append(u.filters, filters)
	if u.page == nil {
		return &upstream.SearchPage{}, nil
	}
	return u.page, nil
}

func (u *stubUpstream) SearchByTitleMatch(ctx context.Context, title string, filters map[string]string, fields []string) (*models.Paper, error) {
	return nil, scerrors.NewNotFoundError("paper", title)
}

type stubGraph struct {
	mu       sync.Mutex
	upserted int
	byTitle  []models.Paper
}

func (g *stubGraph) GetPaper(ctx context.Context, paperID string) (*models.Paper, error) {
	return nil, scerrors.NewNotFoundError("paper", paperID)
}

func (g *stubGraph) UpsertPaper(ctx context.Context, paper *models.Paper) (*models.Paper, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upserted++
	return paper, nil
}

func (g *stubGraph) UpsertNeighborStubs(ctx context.Context, neighbors []models.NeighborSummary) error {
	return nil
}

func (g *stubGraph) MergeEdges(ctx context.Context, fromPaperID string, kind models.RelationKind, neighbors []models.NeighborSummary, total int) error {
	return nil
}

func (g *stubGraph) GetRelationBlob(ctx context.Context, paperID string, kind models.RelationKind) (*models.RelationBlob, error) {
	return nil, scerrors.NewNotFoundError("relation", paperID)
}

func (g *stubGraph) GetRelationSlice(ctx context.Context, paperID string, kind models.RelationKind, offset, limit int) ([]models.NeighborSummary, int, error) {
	return nil, 0, scerrors.NewNotFoundError("relation", paperID)
}

func (g *stubGraph) GetIngestProgress(ctx context.Context, paperID string, kind models.RelationKind) (*models.IngestProgress, error) {
	return nil, scerrors.NewNotFoundError("ingest_progress", paperID)
}

func (g *stubGraph) SetIngestProgress(ctx context.Context, progress *models.IngestProgress) error {
	return nil
}

func (g *stubGraph) SearchPapersByTitle(ctx context.Context, query string, limit int) ([]models.Paper, error) {
	if len(g.byTitle) > limit {
		return g.byTitle[:limit], nil
	}
	return g.byTitle, nil
}

type kvCache struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newKVCache() *kvCache { return &kvCache{values: map[string][]byte{}} }

func (c *kvCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *kvCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return nil, hotcache.ErrNotFound
	}
	return v, nil
}

func (c *kvCache) Delete(ctx context.Context, key string) error       { return nil }
func (c *kvCache) DeletePrefix(ctx context.Context, p string) error   { return nil }
func (c *kvCache) AcquireLock(ctx context.Context, k, t string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (c *kvCache) ReleaseLock(ctx context.Context, k, t string) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() search.Options {
	return search.Options{SearchTTL: 10 * time.Minute, LocalMinResults: 3}
}

func searchResult(titles ...string) *upstream.SearchPage {
	page := &upstream.SearchPage{Total: len(titles)}
	for i, title := range titles {
		page.Papers = append(page.Papers, models.Paper{
			PaperID:      paperID(i),
			Title:        title,
			IngestStatus: models.IngestStatusFull,
		})
	}
	return page
}

func paperID(i int) string {
	const hex = "0123456789abcdef"
	id := make([]byte, 40)
	for j := range id {
		id[j] = hex[(i+j)%16]
	}
	return string(id)
}

func TestSearch_MissCallsUpstreamAndCaches(t *testing.T) {
	up := &stubUpstream{page: searchResult("Result A", "Result B")}
	graph := &stubGraph{}
	cache := newKVCache()

	c := search.New(graph, cache, up, nil, testOptions(), testLogger())

	result, err := c.Search(context.Background(), search.Query{Text: "deep learning", Limit: 10, Fields: []string{"title"}})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	require.Len(t, result.Papers, 2)
	assert.Equal(t, "Result A", result.Papers[0]["title"])
	assert.Equal(t, 2, graph.upserted, "search results opportunistically populate the graph store")

	// An identical query is served from the cache.
	_, err = c.Search(context.Background(), search.Query{Text: "Deep Learning ", Limit: 10, Fields: []string{"title"}})
	require.NoError(t, err)
	assert.Equal(t, 1, up.calls, "text normalization makes the fingerprint case-insensitive")
}

func TestSearch_FieldSelectionDoesNotSplitTheCache(t *testing.T) {
	up := &stubUpstream{page: searchResult("Result A")}
	c := search.New(&stubGraph{}, newKVCache(), up, nil, testOptions(), testLogger())

	_, err := c.Search(context.Background(), search.Query{Text: "q", Limit: 10, Fields: []string{"title"}})
	require.NoError(t, err)
	result, err := c.Search(context.Background(), search.Query{Text: "q", Limit: 10, Fields: []string{"title", "year"}})
	require.NoError(t, err)

	assert.Equal(t, 1, up.calls, "fields change the projection, not the fingerprint")
	require.Len(t, result.Papers, 1)
}

func TestSearch_FiltersSplitTheCache(t *testing.T) {
	up := &stubUpstream{page: searchResult("Result A")}
	c := search.New(&stubGraph{}, newKVCache(), up, nil, testOptions(), testLogger())

	_, err := c.Search(context.Background(), search.Query{Text: "q", Limit: 10})
	require.NoError(t, err)
	_, err = c.Search(context.Background(), search.Query{Text: "q", Limit: 10, Filters: map[string]string{"year": "2021"}})
	require.NoError(t, err)

	assert.Equal(t, 2, up.calls)
	assert.Equal(t, map[string]string{"year": "2021"}, up.filters[1])
}

func TestSearch_PreferLocalServesFromGraphStore(t *testing.T) {
	up := &stubUpstream{page: searchResult("Remote")}
	graph := &stubGraph{byTitle: []models.Paper{
		{PaperID: paperID(0), Title: "Local One", IngestStatus: models.IngestStatusFull},
		{PaperID: paperID(1), Title: "Local Two", IngestStatus: models.IngestStatusFull},
		{PaperID: paperID(2), Title: "Local Three", IngestStatus: models.IngestStatusFull},
	}}

	c := search.New(graph, newKVCache(), up, nil, testOptions(), testLogger())

	result, err := c.Search(context.Background(), search.Query{Text: "local", Limit: 10, PreferLocal: true, Fields: []string{"title"}})
	require.NoError(t, err)
	assert.Equal(t, 0, up.calls, "enough local matches means no upstream call")
	require.Len(t, result.Papers, 3)
}

func TestSearch_PreferLocalFallsBackBelowMinimum(t *testing.T) {
	up := &stubUpstream{page: searchResult("Remote")}
	graph := &stubGraph{byTitle: []models.Paper{
		{PaperID: paperID(0), Title: "Lonely Local", IngestStatus: models.IngestStatusFull},
	}}

	c := search.New(graph, newKVCache(), up, nil, testOptions(), testLogger())

	result, err := c.Search(context.Background(), search.Query{Text: "local", Limit: 10, PreferLocal: true})
	require.NoError(t, err)
	assert.Equal(t, 1, up.calls)
	require.Len(t, result.Papers, 1)
	assert.Equal(t, "Remote", result.Papers[0]["title"])
}

func TestSearch_EmptyPageWithFailingCacheIsNotAnError(t *testing.T) {
	up := &stubUpstream{}
	c := search.New(&stubGraph{}, &failingCache{}, up, nil, testOptions(), testLogger())

	_, err := c.Search(context.Background(), search.Query{Text: "q", Limit: 10})
	require.NoError(t, err, "an empty result page is not an error")
}

// failingCache degrades every operation, exercising the skip-the-tier path.
type failingCache struct{}

func (c *failingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return scerrors.NewInternalError("cache down", nil)
}

func (c *failingCache) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, scerrors.NewInternalError("cache down", nil)
}

func (c *failingCache) Delete(ctx context.Context, key string) error     { return nil }
func (c *failingCache) DeletePrefix(ctx context.Context, p string) error { return nil }
func (c *failingCache) AcquireLock(ctx context.Context, k, t string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (c *failingCache) ReleaseLock(ctx context.Context, k, t string) error { return nil }
