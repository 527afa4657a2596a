package e2e_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scicache-backend/internal/aliasindex"
	"scicache-backend/internal/api"
	"scicache-backend/internal/api/handlers"
	"scicache-backend/internal/graphstore"
	"scicache-backend/internal/hotcache"
	"scicache-backend/internal/ingestor"
	"scicache-backend/internal/resolver"
	"scicache-backend/internal/search"
	"scicache-backend/internal/upstream"
	"scicache-backend/test/testutil"
)

// mapCache is an in-memory hotcache.Cache, standing in for the JetStream
// bucket so the e2e suite runs without a NATS server.
type mapCache struct {
	mu     sync.Mutex
	values map[string][]byte
	locks  map[string]string
}

func newMapCache() *mapCache {
	return &mapCache{values: map[string][]byte{}, locks: map[string]string{}}
}

func (c *mapCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *mapCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return nil, hotcache.ErrNotFound
	}
	return v, nil
}

func (c *mapCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *mapCache) DeletePrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.values {
		if strings.HasPrefix(k, prefix) {
			delete(c.values, k)
		}
	}
	return nil
}

func (c *mapCache) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.locks[key]; held {
		return false, nil
	}
	c.locks[key] = token
	return true, nil
}

func (c *mapCache) ReleaseLock(ctx context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[key] == token {
		delete(c.locks, key)
	}
	return nil
}

const canonicalID = "649def34f8be52c8b66281af98ae884c09aef38b"

// upstreamStub mimics the academic-graph service's JSON surface for one
// known paper, counting fetches.
type upstreamStub struct {
	fetches int32
}

func (s *upstreamStub) handler() http.Handler {
	mux := http.NewServeMux()
	paperBody := map[string]interface{}{
		"paperId": canonicalID,
		"title":   "End-to-end Neural Coreference Resolution",
		"year":    2018,
		"authors": []map[string]string{
			{"authorId": "3458123", "name": "Kenton Lee"},
		},
		"citationCount":  42,
		"referenceCount": 30,
		"externalIds": map[string]string{
			"DOI":   "10.18653/v1/N18-3011",
			"ArXiv": "2106.15928",
		},
	}

	mux.HandleFunc("/paper/batch", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs []string `json:"ids"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		out := make([]interface{}, len(body.IDs))
		for i, ref := range body.IDs {
			if ref == canonicalID || strings.EqualFold(ref, "DOI:10.18653/v1/n18-3011") {
				out[i] = paperBody
			}
		}
		json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("/paper/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.fetches, 1)
		ref := strings.TrimPrefix(r.URL.Path, "/paper/")
		switch {
		case ref == canonicalID,
			strings.EqualFold(ref, "DOI:10.18653/v1/n18-3011"),
			strings.EqualFold(ref, "ARXIV:2106.15928"):
			json.NewEncoder(w).Encode(paperBody)
		default:
			http.Error(w, `{"error":"Paper not found"}`, http.StatusNotFound)
		}
	})

	return mux
}

type paperStack struct {
	router *httptest.Server
	stub   *upstreamStub
	cache  *mapCache
}

func newPaperStack(t *testing.T) *paperStack {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dbUtil := testutil.SetupTestDatabase(t, false)
	t.Cleanup(dbUtil.Cleanup)

	stub := &upstreamStub{}
	upstreamServer := httptest.NewServer(stub.handler())
	t.Cleanup(upstreamServer.Close)

	client := upstream.New(upstream.Config{
		BaseURL:          upstreamServer.URL,
		Timeout:          5 * time.Second,
		RequestsPerSec:   1000,
		BurstSize:        100,
		MaxRetryAttempts: 2,
	}, logger)

	graph := graphstore.New(dbUtil.DB(), logger)
	aliases := aliasindex.New(dbUtil.DB(), logger)
	cache := newMapCache()

	opts := resolver.Options{
		Durations: resolver.Durations{
			PaperTTL:         time.Hour,
			RelationTTL:      time.Hour,
			RelationPageTTL:  time.Hour,
			NegativeTTL:      time.Minute,
			LockTTL:          time.Minute,
			WaitPollInterval: 5 * time.Millisecond,
			WaitTimeout:      time.Second,
			FreshnessWindow:  24 * time.Hour,
		},
		LargeRelationThreshold: 100,
		RelationPageSize:       100,
		MaxBatchSize:           500,
	}
	paperResolver := resolver.New(aliases, graph, cache, client, nil, opts, logger)

	relationIngestor := ingestor.New(graph, cache, client, nil, ingestor.Config{
		PageSize: 100,
		MaxPages: 50,
		LockTTL:  time.Minute,
		PageTTL:  time.Hour,
		ViewTTL:  time.Hour,
	}, logger)

	searchCoordinator := search.New(graph, cache, client, nil, search.Options{
		SearchTTL:       10 * time.Minute,
		LocalMinResults: 3,
	}, logger)

	healthHandler := handlers.NewHealthHandler(nil, graph, cache, nil, "test", logger)
	router := api.NewRouter(paperResolver, relationIngestor, searchCoordinator, healthHandler, logger)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &paperStack{router: server, stub: stub, cache: cache}
}

func (s *paperStack) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	resp, err := http.Get(s.router.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestPaperFlow_ColdFetchByDOI(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	stack := newPaperStack(t)

	resp, body := stack.get(t, "/paper/DOI:10.18653%2Fv1%2FN18-3011?fields=title,year,authors.name")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, canonicalID, body["paperId"])
	assert.Equal(t, "End-to-end Neural Coreference Resolution", body["title"])
	assert.Equal(t, float64(2018), body["year"])
	authors := body["authors"].([]interface{})
	require.Len(t, authors, 1)
	author := authors[0].(map[string]interface{})
	assert.Equal(t, "Kenton Lee", author["name"])
	assert.Equal(t, "3458123", author["authorId"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&stack.stub.fetches))
}

func TestPaperFlow_SecondFetchByOtherAliasHitsCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	stack := newPaperStack(t)

	resp, _ := stack.get(t, "/paper/ARXIV:2106.15928v2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fetchesAfterFirst := atomic.LoadInt32(&stack.stub.fetches)

	// the externalIds fan-out recorded the DOI alias too; neither form
	// touches Upstream again
	resp, body := stack.get(t, "/paper/ARXIV:2106.15928")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, canonicalID, body["paperId"])

	resp, body = stack.get(t, "/paper/DOI:10.18653%2Fv1%2FN18-3011")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, canonicalID, body["paperId"])

	assert.Equal(t, fetchesAfterFirst, atomic.LoadInt32(&stack.stub.fetches))
}

func TestPaperFlow_BadRefYieldsBadRequest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	stack := newPaperStack(t)

	resp, _ := stack.get(t, "/paper/not-a-ref")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPaperFlow_UnknownPaperIsNotFoundAndNegativeCached(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	stack := newPaperStack(t)

	missing := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	resp, _ := stack.get(t, "/paper/"+missing)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	fetches := atomic.LoadInt32(&stack.stub.fetches)

	resp, _ = stack.get(t, "/paper/"+missing)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, fetches, atomic.LoadInt32(&stack.stub.fetches), "second miss is served by the negative cache")
}

func TestPaperFlow_BatchMixedRefs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	stack := newPaperStack(t)

	payload := `{"ids":["` + canonicalID + `","DOI:10.invalid/none","DOI:10.18653/v1/N18-3011"],"fields":"title"}`
	resp, err := http.Post(stack.router.URL+"/paper/batch", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var results []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	require.Len(t, results, 3)
	assert.Equal(t, canonicalID, results[0]["paperId"])
	assert.Nil(t, results[1])
	assert.Equal(t, canonicalID, results[2]["paperId"])
}

func TestPaperFlow_InvalidateThenReadRepopulates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	stack := newPaperStack(t)

	resp, _ := stack.get(t, "/paper/" + canonicalID)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, stack.router.URL+"/paper/"+canonicalID+"/cache", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	require.Equal(t, http.StatusNoContent, delResp.StatusCode)

	_, err = stack.cache.Get(context.Background(), hotcache.PaperFullKey(canonicalID))
	assert.ErrorIs(t, err, hotcache.ErrNotFound)

	// the warm graph store copy serves the next read without upstream
	fetches := atomic.LoadInt32(&stack.stub.fetches)
	resp, body := stack.get(t, "/paper/"+canonicalID+"?fields=title")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "End-to-end Neural Coreference Resolution", body["title"])
	assert.Equal(t, fetches, atomic.LoadInt32(&stack.stub.fetches))
}

func TestPaperFlow_OversizedBatchRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	stack := newPaperStack(t)

	ids := make([]string, 501)
	for i := range ids {
		ids[i] = canonicalID
	}
	payload, _ := json.Marshal(map[string]interface{}{"ids": ids})
	resp, err := http.Post(stack.router.URL+"/paper/batch", "application/json", strings.NewReader(string(payload)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
