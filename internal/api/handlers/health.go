package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"scicache-backend/internal/graphstore"
	"scicache-backend/internal/hotcache"
	"scicache-backend/internal/messaging"
	"scicache-backend/internal/repository"
)

// HealthHandler handles health check endpoints, probing each tier of the
// caching proxy directly rather than through a service facade.
type HealthHandler struct {
	db          *repository.Database
	graph       graphstore.Store
	cache       hotcache.Cache
	messaging   *messaging.Manager
	logger      *slog.Logger
	version     string
	buildTime   string
	gitCommit   string
	environment string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db *repository.Database, graph graphstore.Store, cache hotcache.Cache, messagingManager *messaging.Manager, environment string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		db:          db,
		graph:       graph,
		cache:       cache,
		messaging:   messagingManager,
		logger:      logger,
		version:     "1.0.0",   // TODO: inject from build
		buildTime:   "unknown", // TODO: inject from build
		gitCommit:   "unknown", // TODO: inject from build
		environment: environment,
	}
}

// HealthStatus represents the health status response.
type HealthStatus struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Version     string                 `json:"version"`
	BuildTime   string                 `json:"build_time"`
	GitCommit   string                 `json:"git_commit"`
	Environment string                 `json:"environment"`
	Uptime      string                 `json:"uptime"`
	Checks      map[string]CheckResult `json:"checks"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Metadata interface{}   `json:"metadata,omitempty"`
}

var startTime = time.Now()

// Liveness returns a simple liveness check.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(startTime).String(),
	})
}

// Readiness returns a comprehensive readiness check: only the Graph Store
// (the durable tier) gates readiness, since the Hot Cache and Upstream are
// both allowed to be unavailable while the system degrades gracefully.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	status := &HealthStatus{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Version:     h.version,
		BuildTime:   h.buildTime,
		GitCommit:   h.gitCommit,
		Environment: h.environment,
		Uptime:      time.Since(startTime).String(),
		Checks:      make(map[string]CheckResult),
	}

	dbResult := h.checkDatabase(ctx)
	status.Checks["graph_store"] = dbResult
	if dbResult.Status != "healthy" {
		status.Status = "unhealthy"
	}

	httpStatus := http.StatusOK
	if status.Status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, status)
}

// Health returns comprehensive health information across every tier.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	status := &HealthStatus{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Version:     h.version,
		BuildTime:   h.buildTime,
		GitCommit:   h.gitCommit,
		Environment: h.environment,
		Uptime:      time.Since(startTime).String(),
		Checks:      make(map[string]CheckResult),
	}

	checks := []struct {
		name string
		fn   func(context.Context) CheckResult
	}{
		{"graph_store", h.checkDatabase},
		{"hot_cache", h.checkHotCache},
		{"messaging", h.checkMessaging},
	}

	for _, check := range checks {
		result := check.fn(ctx)
		status.Checks[check.name] = result

		if result.Status == "unhealthy" {
			status.Status = "unhealthy"
		} else if result.Status == "degraded" && status.Status == "healthy" {
			status.Status = "degraded"
		}
	}

	c.JSON(http.StatusOK, status)
}

// checkDatabase verifies Graph Store connectivity.
func (h *HealthHandler) checkDatabase(ctx context.Context) CheckResult {
	start := time.Now()

	if h.db == nil {
		return CheckResult{Status: "unhealthy", Duration: time.Since(start), Error: "graph store not configured"}
	}
	if err := h.db.Ping(ctx); err != nil {
		return CheckResult{Status: "unhealthy", Duration: time.Since(start), Error: err.Error()}
	}
	return CheckResult{Status: "healthy", Duration: time.Since(start)}
}

// checkHotCache verifies the Hot Cache tier answers a round-trip probe.
// A failure here degrades rather than fails the service — the Resolver
// falls back to the Graph Store and Upstream when the Hot Cache is down.
func (h *HealthHandler) checkHotCache(ctx context.Context) CheckResult {
	start := time.Now()

	if h.cache == nil {
		return CheckResult{Status: "degraded", Duration: time.Since(start), Error: "hot cache not configured"}
	}
	probeKey := hotcache.LockKey("healthcheck")
	if err := h.cache.Set(ctx, probeKey, []byte("1"), time.Second); err != nil {
		return CheckResult{Status: "degraded", Duration: time.Since(start), Error: err.Error()}
	}
	_ = h.cache.Delete(ctx, probeKey)
	return CheckResult{Status: "healthy", Duration: time.Since(start)}
}

// checkMessaging verifies NATS connectivity.
func (h *HealthHandler) checkMessaging(ctx context.Context) CheckResult {
	start := time.Now()

	if h.messaging == nil {
		return CheckResult{Status: "degraded", Duration: time.Since(start), Error: "messaging not configured"}
	}
	if err := h.messaging.Ping(ctx); err != nil {
		return CheckResult{Status: "degraded", Duration: time.Since(start), Error: err.Error()}
	}
	return CheckResult{Status: "healthy", Duration: time.Since(start)}
}

// RegisterRoutes registers health check routes.
func (h *HealthHandler) RegisterRoutes(router *gin.Engine) {
	health := router.Group("/health")
	{
		health.GET("/live", h.Liveness)
		health.GET("/ready", h.Readiness)
		health.GET("", h.Health)
	}

	router.GET("/ping", h.Liveness)
}
