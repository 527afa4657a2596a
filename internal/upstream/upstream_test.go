package upstream_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scerrors "scicache-backend/internal/errors"
	"scicache-backend/internal/models"
	"scicache-backend/internal/upstream"
)

func testClient(t *testing.T, handler http.Handler) upstream.Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return upstream.New(upstream.Config{
		BaseURL:          server.URL,
		APIKey:           "test-key",
		Timeout:          5 * time.Second,
		RequestsPerSec:   1000,
		BurstSize:        100,
		MaxRetryAttempts: 3,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetchPaper_DecodesFullRecord(t *testing.T) {
	var gotPath, gotFields, gotKey string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFields = r.URL.Query().Get("fields")
		gotKey = r.Header.Get("x-api-key")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"paperId":       "649def34f8be52c8b66281af98ae884c09aef38b",
			"title":         "Construction of the Literature Graph in Semantic Scholar",
			"year":          2018,
			"citationCount": 453,
			"authors": []map[string]string{
				{"authorId": "1741101", "name": "Oren Etzioni"},
			},
			"externalIds": map[string]string{"DOI": "10.18653/v1/N18-3011"},
			"tldr":        map[string]string{"text": "A graph of papers."},
		})
	}))

	paper, err := client.FetchPaper(context.Background(), "649def34f8be52c8b66281af98ae884c09aef38b", upstream.DefaultPaperFields)
	require.NoError(t, err)

	assert.Equal(t, "/paper/649def34f8be52c8b66281af98ae884c09aef38b", gotPath)
	assert.Contains(t, gotFields, "externalIds")
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "Construction of the Literature Graph in Semantic Scholar", paper.Title)
	require.NotNil(t, paper.Year)
	assert.Equal(t, 2018, *paper.Year)
	assert.Equal(t, 453, paper.CitationCount)
	require.Len(t, paper.Authors, 1)
	assert.Equal(t, "1741101", paper.Authors[0].AuthorID)
	require.NotNil(t, paper.TLDR)
	assert.Equal(t, "A graph of papers.", *paper.TLDR)
	assert.True(t, paper.IsFull())
	assert.False(t, paper.FetchedAt.IsZero())
}

func TestFetchPaper_NotFoundSurfacesWithoutRetry(t *testing.T) {
	var calls int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"Paper not found"}`, http.StatusNotFound)
	}))

	_, err := client.FetchPaper(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef", nil)

	require.Error(t, err)
	assert.True(t, scerrors.IsNotFoundError(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "404 is terminal, never retried")
}

func TestFetchPaper_UnauthorizedSurfacesAsAuthError(t *testing.T) {
	var calls int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"Forbidden"}`, http.StatusUnauthorized)
	}))

	_, err := client.FetchPaper(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef", nil)

	require.Error(t, err)
	var scErr *scerrors.SciCacheError
	require.ErrorAs(t, err, &scErr)
	assert.Equal(t, scerrors.ErrorTypeAuth, scErr.Type)
	assert.Equal(t, http.StatusUnauthorized, scErr.HTTPStatus(), "a bad credential is 401, never 400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "auth failures are terminal, never retried")
}

func TestFetchPaper_RetriesServerErrors(t *testing.T) {
	var calls int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"paperId": "p1", "title": "Recovered"})
	}))

	paper, err := client.FetchPaper(context.Background(), "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, "Recovered", paper.Title)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchRelationPage_CitationsPickCitingPaper(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/paper/p1/citations", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("offset"))
		next := 200
		json.NewEncoder(w).Encode(map[string]interface{}{
			"offset": 100,
			"next":   next,
			"total":  3500,
			"data": []map[string]interface{}{
				{
					"isInfluential": true,
					"contexts":      []string{"as shown in [1]"},
					"citingPaper":   map[string]interface{}{"paperId": "c1", "title": "The Citer"},
				},
			},
		})
	}))

	page, err := client.FetchRelationPage(context.Background(), "p1", models.RelationKindCitations, 100, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, 3500, page.Total)
	require.NotNil(t, page.Next)
	assert.Equal(t, 200, *page.Next)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "c1", page.Items[0].PaperID)
	assert.Equal(t, "The Citer", page.Items[0].Title)
	assert.True(t, page.Items[0].IsInfluential)
}

func TestFetchRelationPage_ReferencesPickCitedPaper(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/paper/p1/references", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"total": 1,
			"data": []map[string]interface{}{
				{"citedPaper": map[string]interface{}{"paperId": "r1", "title": "The Cited"}},
			},
		})
	}))

	page, err := client.FetchRelationPage(context.Background(), "p1", models.RelationKindReferences, 0, 100, nil)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "r1", page.Items[0].PaperID)
	assert.Nil(t, page.Next, "absent next cursor signals the last page")
}

func TestFetchBatch_PreservesNullSlots(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body["ids"], 3)
		w.Write([]byte(`[{"paperId":"p1","title":"One"},null,{"paperId":"p3","title":"Three"}]`))
	}))

	papers, err := client.FetchBatch(context.Background(), []string{"p1", "DOI:10.invalid/none", "p3"}, []string{"title"})
	require.NoError(t, err)
	require.Len(t, papers, 3)
	assert.Equal(t, "One", papers[0].Title)
	assert.Nil(t, papers[1], "an unknown ref keeps its position as nil")
	assert.Equal(t, "Three", papers[2].Title)
}

func TestSearch_ForwardsFilters(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/paper/search", r.URL.Path)
		assert.Equal(t, "graph neural networks", r.URL.Query().Get("query"))
		assert.Equal(t, "2020-2023", r.URL.Query().Get("year"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"total":  1,
			"offset": 0,
			"data":   []map[string]interface{}{{"paperId": "s1", "title": "GNN Survey"}},
		})
	}))

	page, err := client.Search(context.Background(), "graph neural networks", map[string]string{"year": "2020-2023"}, 0, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Papers, 1)
	assert.Equal(t, "GNN Survey", page.Papers[0].Title)
}

func TestSearch_RateLimitCarriesRetryAfter(t *testing.T) {
	var calls int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "1")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))

	_, err := client.Search(context.Background(), "anything", nil, 0, 10, nil)

	require.Error(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2), "rate limiting is retried before surfacing")
}
