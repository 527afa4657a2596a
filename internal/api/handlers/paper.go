package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	scerrors "scicache-backend/internal/errors"
	"scicache-backend/internal/ingestor"
	"scicache-backend/internal/models"
	"scicache-backend/internal/projector"
	"scicache-backend/internal/resolver"
	"scicache-backend/internal/search"
)

const (
	defaultRelationLimit = 20
	maxRelationLimit     = 100
	defaultSearchLimit   = 10
	maxSearchLimit       = 100
	maxBatchSize         = 500
)

// PaperHandler exposes the Paper Resolver, Relation Ingestor and Search
// Coordinator over the upstream-compatible HTTP surface.
type PaperHandler struct {
	resolver resolver.Resolver
	ingestor ingestor.Ingestor
	search   search.Coordinator
	logger   *slog.Logger
}

// NewPaperHandler creates a new paper handler.
func NewPaperHandler(r resolver.Resolver, ing ingestor.Ingestor, coordinator search.Coordinator, logger *slog.Logger) *PaperHandler {
	return &PaperHandler{resolver: r, ingestor: ing, search: coordinator, logger: logger}
}

// GetPaper handles GET /paper/:ref
// @Summary Get a paper by reference
// @Description Resolve a paper id or alias (DOI:, ARXIV:, ...) to a projected paper record
// @Tags paper
// @Accept json
// @Produce json
// @Param ref path string true "Paper reference (id or aliased form)"
// @Param fields query string false "Comma-separated dot-path field projection"
// @Success 200 {object} object
// @Failure 404 {object} object{error=string}
// @Router /paper/{ref} [get]
func (h *PaperHandler) GetPaper(c *gin.Context) {
	ref := c.Param("ref")
	fields := projector.Parse(c.Query("fields"))

	record, err := h.resolver.GetPaper(c.Request.Context(), ref, fields)
	if err != nil {
		h.respondError(c, "GetPaper", ref, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetCitations handles GET /paper/:ref/citations
// @Summary Get a paper's citations
// @Tags paper
// @Produce json
// @Param ref path string true "Paper reference"
// @Param offset query int false "Offset (default 0)"
// @Param limit query int false "Limit (default 20, max 100)"
// @Param fields query string false "Field projection"
// @Success 200 {object} object{total=int,offset=int,data=[]object}
// @Router /paper/{ref}/citations [get]
func (h *PaperHandler) GetCitations(c *gin.Context) {
	h.getRelationPage(c, models.RelationKindCitations)
}

// GetReferences handles GET /paper/:ref/references
// @Summary Get a paper's references
// @Tags paper
// @Produce json
// @Param ref path string true "Paper reference"
// @Param offset query int false "Offset (default 0)"
// @Param limit query int false "Limit (default 20, max 100)"
// @Param fields query string false "Field projection"
// @Success 200 {object} object{total=int,offset=int,data=[]object}
// @Router /paper/{ref}/references [get]
func (h *PaperHandler) GetReferences(c *gin.Context) {
	h.getRelationPage(c, models.RelationKindReferences)
}

func (h *PaperHandler) getRelationPage(c *gin.Context, kind models.RelationKind) {
	ref := c.Param("ref")
	offset, limit, err := parseOffsetLimit(c, defaultRelationLimit, maxRelationLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fields := projector.Parse(c.Query("fields"))

	items, total, err := h.resolver.GetRelationPage(c.Request.Context(), ref, kind, offset, limit, fields)
	if err != nil {
		h.respondError(c, "GetRelationPage", ref, err)
		return
	}

	if items == nil {
		items = []map[string]interface{}{}
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "offset": offset, "data": items})

	if shouldTriggerIngest(offset, limit, total) {
		go h.runBackgroundIngest(ref, kind)
	}
}

// runBackgroundIngest fires the Relation Ingestor outside the request's
// context so pagination beyond what's already merged doesn't block the
// caller's response; it uses its own bounded context since the request's
// is cancelled once the response is written.
func (h *PaperHandler) runBackgroundIngest(ref string, kind models.RelationKind) {
	ctx, cancel := backgroundContext()
	defer cancel()

	paperID, err := h.resolver.GetPaper(ctx, ref, []string{"paperId"})
	if err != nil {
		return
	}
	id, _ := paperID["paperId"].(string)
	if id == "" {
		return
	}
	if err := h.ingestor.Run(ctx, id, kind); err != nil {
		h.logger.Warn("background relation ingest failed",
			slog.String("paper_id", id), slog.String("kind", string(kind)), slog.String("error", err.Error()))
	}
}

// RequestBatch is the POST /paper/batch request body.
type RequestBatch struct {
	IDs    []string `json:"ids" binding:"required"`
	Fields string   `json:"fields"`
}

// GetBatch handles POST /paper/batch
// @Summary Resolve a batch of paper references
// @Tags paper
// @Accept json
// @Produce json
// @Param body body RequestBatch true "ids and optional fields"
// @Success 200 {array} object
// @Failure 400 {object} object{error=string}
// @Router /paper/batch [post]
func (h *PaperHandler) GetBatch(c *gin.Context) {
	var req RequestBatch
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(req.IDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids must not be empty"})
		return
	}
	if len(req.IDs) > maxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch too large, max " + strconv.Itoa(maxBatchSize)})
		return
	}

	fields := projector.Parse(req.Fields)
	results, err := h.resolver.GetBatch(c.Request.Context(), req.IDs, fields)
	if err != nil {
		h.respondError(c, "GetBatch", "", err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// searchFilterParams are the filter query parameters forwarded to
// Upstream verbatim and folded into the cache fingerprint.
var searchFilterParams = []string{
	"year", "venue", "fieldsOfStudy", "publicationTypes", "openAccessPdf", "minCitationCount",
}

// Search handles GET /paper/search
// @Summary Search papers
// @Tags paper
// @Produce json
// @Param query query string true "Search text"
// @Param offset query int false "Offset (default 0)"
// @Param limit query int false "Limit (default 10, max 100)"
// @Param fields query string false "Field projection"
// @Param year query string false "Publication year filter"
// @Param fieldsOfStudy query string false "Fields-of-study filter"
// @Param preferLocal query bool false "Try the local graph store before Upstream"
// @Success 200 {object} object{total=int,offset=int,data=[]object,papers=[]object}
// @Failure 400 {object} object{error=string}
// @Router /paper/search [get]
func (h *PaperHandler) Search(c *gin.Context) {
	queryText := c.Query("query")
	if queryText == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	offset, limit, err := parseOffsetLimit(c, defaultSearchLimit, maxSearchLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fields := projector.Parse(c.Query("fields"))

	filters := map[string]string{}
	for _, param := range searchFilterParams {
		if v := c.Query(param); v != "" {
			filters[param] = v
		}
	}

	result, err := h.search.Search(c.Request.Context(), search.Query{
		Text:        queryText,
		Filters:     filters,
		Offset:      offset,
		Limit:       limit,
		Fields:      fields,
		PreferLocal: c.Query("preferLocal") == "true",
	})
	if err != nil {
		h.respondError(c, "Search", queryText, err)
		return
	}

	papers := result.Papers
	if papers == nil {
		papers = []map[string]interface{}{}
	}
	// "papers" is a compatibility key alongside "data" for clients written
	// against the multi-provider search response shape.
	c.JSON(http.StatusOK, gin.H{"total": result.Total, "offset": offset, "data": papers, "papers": papers})
}

// InvalidateCache handles DELETE /paper/:ref/cache
// @Summary Drop every Hot Cache entry for a paper
// @Tags paper
// @Produce json
// @Param ref path string true "Paper reference"
// @Success 204 "No Content"
// @Router /paper/{ref}/cache [delete]
func (h *PaperHandler) InvalidateCache(c *gin.Context) {
	ref := c.Param("ref")
	if err := h.resolver.Invalidate(c.Request.Context(), ref); err != nil {
		h.respondError(c, "Invalidate", ref, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// WarmCache handles POST /paper/:ref/cache/warm
// @Summary Force a fresh Upstream fetch for a paper regardless of freshness
// @Tags paper
// @Produce json
// @Param ref path string true "Paper reference"
// @Success 204 "No Content"
// @Router /paper/{ref}/cache/warm [post]
func (h *PaperHandler) WarmCache(c *gin.Context) {
	ref := c.Param("ref")
	if err := h.resolver.Warm(c.Request.Context(), ref); err != nil {
		h.respondError(c, "Warm", ref, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// respondError maps a resolver/ingestor/search error onto the HTTP status
// its SciCacheError classification carries, logging anything that isn't a
// plain not-found at warn level.
func (h *PaperHandler) respondError(c *gin.Context, operation, ref string, err error) {
	var sfErr *scerrors.SciCacheError
	if errors.As(err, &sfErr) {
		if sfErr.Code != "NOT_FOUND" {
			h.logger.Warn("operation failed",
				slog.String("operation", operation), slog.String("ref", ref), slog.String("error", err.Error()))
		}
		c.JSON(sfErr.HTTPStatus(), gin.H{"error": sfErr.Message})
		return
	}
	h.logger.Error("operation failed",
		slog.String("operation", operation), slog.String("ref", ref), slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func parseOffsetLimit(c *gin.Context, defaultLimit, maxLimit int) (offset, limit int, err error) {
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		return 0, 0, errInvalidOffset
	}
	limit, err = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit < 1 || limit > maxLimit {
		return 0, 0, errInvalidLimit
	}
	return offset, limit, nil
}

var (
	errInvalidOffset = errors.New("invalid offset parameter")
	errInvalidLimit  = errors.New("invalid limit parameter")
)

// shouldTriggerIngest decides whether the page just served suggests more
// relation data remains beyond what the Graph Store currently holds,
// warranting a background ingest pass.
func shouldTriggerIngest(offset, limit, total int) bool {
	return total > 0 && offset+limit < total
}

func backgroundContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}
