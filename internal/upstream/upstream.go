// Package upstream implements the typed, rate-limited, retrying HTTP
// client for the academic-graph service this proxy fronts. Requests pass
// through a token bucket, a circuit breaker, and a retry executor before
// touching the wire; responses map onto the shared error taxonomy so
// callers branch on error type, never on status codes.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	scerrors "scicache-backend/internal/errors"
	"scicache-backend/internal/models"
)

// Config controls how the client reaches Upstream.
type Config struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	RequestsPerSec   float64
	BurstSize        int
	MaxRetryAttempts int
}

// DefaultPaperFields is the widest reasonable field set the Resolver asks
// for on a full fetch: every core field plus authors and external ids, so
// the stored superset record can satisfy any later projection without a
// re-fetch. Inline citations/references are deliberately excluded — the
// relation path fetches those separately, page by page.
var DefaultPaperFields = []string{
	"paperId", "title", "abstract", "venue", "year", "publicationDate",
	"authors", "citationCount", "referenceCount", "influentialCitationCount",
	"isOpenAccess", "openAccessPdf", "fieldsOfStudy", "publicationTypes",
	"journal", "citationStyles", "tldr", "externalIds",
}

// DefaultRelationFields is the per-neighbor field set requested on
// relation pages.
var DefaultRelationFields = []string{
	"paperId", "title", "contexts", "intents", "isInfluential",
}

// RelationPage is one page of a paginated citations/references response.
// Next is Upstream's continuation cursor; absent on the last page.
type RelationPage struct {
	Items  []models.NeighborSummary
	Total  int
	Offset int
	Next   *int
}

// SearchPage is one page of search results.
type SearchPage struct {
	Papers []models.Paper
	Total  int
	Offset int
}

// Client is the Upstream Client contract consumed by the Paper Resolver,
// Relation Ingestor, and Search Coordinator.
type Client interface {
	FetchPaper(ctx context.Context, paperID string, fields []string) (*models.Paper, error)
	FetchRelationPage(ctx context.Context, paperID string, kind models.RelationKind, offset, limit int, fields []string) (*RelationPage, error)
	// FetchBatch preserves input order; a ref Upstream does not know comes
	// back as a nil entry at its position.
	FetchBatch(ctx context.Context, paperIDs []string, fields []string) ([]*models.Paper, error)
	Search(ctx context.Context, query string, filters map[string]string, offset, limit int, fields []string) (*SearchPage, error)
	SearchByTitleMatch(ctx context.Context, title string, filters map[string]string, fields []string) (*models.Paper, error)
}

// Metrics is a point-in-time snapshot of the client's request counters.
type Metrics struct {
	TotalRequests   int64         `json:"total_requests"`
	SuccessCount    int64         `json:"success_count"`
	NotFoundCount   int64         `json:"not_found_count"`
	RateLimitCount  int64         `json:"rate_limit_count"`
	TimeoutCount    int64         `json:"timeout_count"`
	NetworkCount    int64         `json:"network_count"`
	UpstreamErrors  int64         `json:"upstream_errors"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// SuccessRate reports the fraction of requests answered 200.
func (m Metrics) SuccessRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.SuccessCount) / float64(m.TotalRequests)
}

type httpClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	retry      *scerrors.RetryExecutor
	breaker    *scerrors.CircuitBreaker

	mu        sync.Mutex
	metrics   Metrics
	totalTime time.Duration
}

// New creates an Upstream Client. The retry executor (exponential backoff
// with jitter) and circuit breaker (rolling failure-rate window with
// half-open probing) are constructed here so upstream flakiness never
// cascades into the rest of the system.
func New(cfg Config, logger *slog.Logger) Client {
	classifier := scerrors.NewErrorClassifier()
	retryCfg := scerrors.RetryConfig{
		MaxAttempts:   cfg.MaxRetryAttempts,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
		RetryableErrors: []scerrors.ErrorType{
			scerrors.ErrorTypeNetwork,
			scerrors.ErrorTypeTimeout,
			scerrors.ErrorTypeRateLimit,
			scerrors.ErrorTypeUpstream,
			scerrors.ErrorTypeTransient,
		},
	}
	breakerCfg := scerrors.DefaultUpstreamBreakerConfig("upstream")
	return &httpClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.BurstSize),
		retry:      scerrors.NewRetryExecutor(retryCfg, classifier, logger),
		breaker:    scerrors.NewCircuitBreaker(breakerCfg, logger),
	}
}

func (c *httpClient) FetchPaper(ctx context.Context, paperID string, fields []string) (*models.Paper, error) {
	var paper *models.Paper
	err := c.call(ctx, "fetch_paper", func() error {
		reqURL := c.buildURL(fmt.Sprintf("/paper/%s", url.PathEscape(paperID)), fields, nil)
		body, err := c.do(ctx, reqURL)
		if err != nil {
			return err
		}
		var wire wirePaper
		if err := json.Unmarshal(body, &wire); err != nil {
			return scerrors.NewSerializationError("decode fetch_paper response", err)
		}
		paper = wire.toModel()
		return nil
	})
	return paper, err
}

func (c *httpClient) FetchRelationPage(ctx context.Context, paperID string, kind models.RelationKind, offset, limit int, fields []string) (*RelationPage, error) {
	var page *RelationPage
	err := c.call(ctx, "fetch_relation_page", func() error {
		params := map[string]string{
			"offset": strconv.Itoa(offset),
			"limit":  strconv.Itoa(limit),
		}
		reqURL := c.buildURL(fmt.Sprintf("/paper/%s/%s", url.PathEscape(paperID), string(kind)), fields, params)
		body, err := c.do(ctx, reqURL)
		if err != nil {
			return err
		}
		var wire wireRelationPage
		if err := json.Unmarshal(body, &wire); err != nil {
			return scerrors.NewSerializationError("decode fetch_relation_page response", err)
		}
		items := make([]models.NeighborSummary, 0, len(wire.Data))
		for _, d := range wire.Data {
			items = append(items, d.toNeighborSummary(kind))
		}
		page = &RelationPage{Items: items, Total: wire.Total, Offset: offset, Next: wire.Next}
		return nil
	})
	return page, err
}

func (c *httpClient) FetchBatch(ctx context.Context, paperIDs []string, fields []string) ([]*models.Paper, error) {
	var papers []*models.Paper
	err := c.call(ctx, "fetch_batch", func() error {
		reqURL := c.buildURL("/paper/batch", fields, nil)
		reqBody, err := json.Marshal(map[string]interface{}{"ids": paperIDs})
		if err != nil {
			return scerrors.NewSerializationError("encode fetch_batch request", err)
		}
		body, err := c.post(ctx, reqURL, reqBody)
		if err != nil {
			return err
		}
		var wire []*wirePaper
		if err := json.Unmarshal(body, &wire); err != nil {
			return scerrors.NewSerializationError("decode fetch_batch response", err)
		}
		papers = make([]*models.Paper, len(wire))
		for i, w := range wire {
			if w == nil || w.PaperID == "" {
				continue
			}
			papers[i] = w.toModel()
		}
		return nil
	})
	return papers, err
}

func (c *httpClient) Search(ctx context.Context, query string, filters map[string]string, offset, limit int, fields []string) (*SearchPage, error) {
	var page *SearchPage
	err := c.call(ctx, "search", func() error {
		params := map[string]string{
			"query":  query,
			"offset": strconv.Itoa(offset),
			"limit":  strconv.Itoa(limit),
		}
		for k, v := range filters {
			params[k] = v
		}
		reqURL := c.buildURL("/paper/search", fields, params)
		body, err := c.do(ctx, reqURL)
		if err != nil {
			return err
		}
		var wire wireSearchResponse
		if err := json.Unmarshal(body, &wire); err != nil {
			return scerrors.NewSerializationError("decode search response", err)
		}
		papers := make([]models.Paper, len(wire.Data))
		for i, w := range wire.Data {
			papers[i] = *w.toModel()
		}
		page = &SearchPage{Papers: papers, Total: wire.Total, Offset: offset}
		return nil
	})
	return page, err
}

func (c *httpClient) SearchByTitleMatch(ctx context.Context, title string, filters map[string]string, fields []string) (*models.Paper, error) {
	var paper *models.Paper
	err := c.call(ctx, "search_by_title_match", func() error {
		params := map[string]string{"query": title}
		for k, v := range filters {
			params[k] = v
		}
		reqURL := c.buildURL("/paper/search/match", fields, params)
		body, err := c.do(ctx, reqURL)
		if err != nil {
			return err
		}
		var wire wireSearchResponse
		if err := json.Unmarshal(body, &wire); err != nil {
			return scerrors.NewSerializationError("decode search_by_title_match response", err)
		}
		if len(wire.Data) == 0 {
			return scerrors.NewNotFoundError("paper by title", title)
		}
		paper = wire.Data[0].toModel()
		return nil
	})
	return paper, err
}

// call runs fn inside the retry executor, then the circuit breaker, then
// the rate limiter — a request never even attempts to acquire a token while
// the breaker is open.
func (c *httpClient) call(ctx context.Context, operation string, fn func() error) error {
	return c.retry.Execute(ctx, operation, func() error {
		return c.breaker.Execute(func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return scerrors.NewTimeoutError(operation, c.cfg.Timeout)
			}
			return fn()
		})
	})
}

func (c *httpClient) buildURL(path string, fields []string, params map[string]string) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	if len(fields) > 0 {
		values.Set("fields", strings.Join(fields, ","))
	}
	if encoded := values.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

func (c *httpClient) do(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, scerrors.NewInternalError("build upstream request", err)
	}
	return c.send(req)
}

func (c *httpClient) post(ctx context.Context, reqURL string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(string(body)))
	if err != nil {
		return nil, scerrors.NewInternalError("build upstream request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req)
}

func (c *httpClient) send(req *http.Request) ([]byte, error) {
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(started, func(m *Metrics) {
			if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
				m.TimeoutCount++
			} else {
				m.NetworkCount++
			}
		})
		return nil, scerrors.NewNetworkError("upstream request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.record(started, func(m *Metrics) { m.NetworkCount++ })
		return nil, scerrors.NewNetworkError("read upstream response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		c.record(started, func(m *Metrics) { m.SuccessCount++ })
		return data, nil
	case resp.StatusCode == http.StatusNotFound:
		c.record(started, func(m *Metrics) { m.NotFoundCount++ })
		return nil, scerrors.NewNotFoundError("paper", req.URL.Path)
	case resp.StatusCode == http.StatusTooManyRequests:
		c.record(started, func(m *Metrics) { m.RateLimitCount++ })
		var retryAfter time.Duration
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, scerrors.NewRateLimitError("upstream rate limit exceeded", retryAfter)
	case resp.StatusCode >= 500:
		c.record(started, func(m *Metrics) { m.UpstreamErrors++ })
		return nil, scerrors.NewError(scerrors.ErrorTypeUpstream, "UPSTREAM_UNAVAILABLE",
			fmt.Sprintf("upstream returned %d", resp.StatusCode)).
			WithStatusCode(resp.StatusCode).
			Retryable(true).
			Build()
	case resp.StatusCode == http.StatusUnauthorized:
		c.record(started, func(m *Metrics) { m.UpstreamErrors++ })
		return nil, scerrors.NewAuthenticationError("upstream rejected credential")
	case resp.StatusCode >= 400:
		c.record(started, func(m *Metrics) { m.UpstreamErrors++ })
		return nil, scerrors.NewValidationError(fmt.Sprintf("upstream rejected request: %d", resp.StatusCode), "request", req.URL.String())
	default:
		c.record(started, func(m *Metrics) { m.UpstreamErrors++ })
		return nil, scerrors.NewError(scerrors.ErrorTypeUpstream, "UPSTREAM_UNEXPECTED",
			fmt.Sprintf("upstream returned unexpected status %d", resp.StatusCode)).
			WithStatusCode(resp.StatusCode).
			Build()
	}
}

// record folds one completed request into the counters and the moving
// average response time.
func (c *httpClient) record(started time.Time, update func(*Metrics)) {
	elapsed := time.Since(started)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.TotalRequests++
	c.totalTime += elapsed
	c.metrics.AvgResponseTime = c.totalTime / time.Duration(c.metrics.TotalRequests)
	update(&c.metrics)
}

// Metrics returns a snapshot of the client's request counters.
func (c *httpClient) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}
