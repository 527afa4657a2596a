package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"scicache-backend/internal/api/handlers"
	"scicache-backend/internal/api/middleware"
	"scicache-backend/internal/ingestor"
	"scicache-backend/internal/resolver"
	"scicache-backend/internal/search"
)

// NewRouter creates and configures the HTTP router over the Paper Resolver,
// Relation Ingestor and Search Coordinator.
func NewRouter(
	paperResolver resolver.Resolver,
	relationIngestor ingestor.Ingestor,
	searchCoordinator search.Coordinator,
	healthHandler *handlers.HealthHandler,
	logger *slog.Logger,
) *gin.Engine {
	router := gin.New()

	// Refs like DOI:10.18653/v1/N18-3011 arrive with their slashes
	// percent-encoded; matching on the raw path keeps them inside one
	// :ref segment, and gin unescapes the captured value afterwards.
	router.UseRawPath = true
	router.UnescapePathValues = true

	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CorsMiddleware(middleware.DefaultCorsConfig()))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.StructuredLoggingMiddleware(logger))
	router.Use(gin.Recovery())

	healthHandler.RegisterRoutes(router)

	paperHandler := handlers.NewPaperHandler(paperResolver, relationIngestor, searchCoordinator, logger)

	paper := router.Group("/paper")
	{
		paper.GET("/search", paperHandler.Search)
		paper.POST("/batch", paperHandler.GetBatch)
		paper.GET("/:ref", paperHandler.GetPaper)
		paper.GET("/:ref/citations", paperHandler.GetCitations)
		paper.GET("/:ref/references", paperHandler.GetReferences)
		paper.DELETE("/:ref/cache", paperHandler.InvalidateCache)
		paper.POST("/:ref/cache/warm", paperHandler.WarmCache)
	}

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/swagger", func(c *gin.Context) {
		c.Redirect(301, "/swagger/index.html")
	})

	router.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"service": "scicache-backend",
			"version": "1.0.0",
			"status":  "running",
			"health":  "/health",
			"paper":   "/paper/{ref}",
		})
	})

	return router
}
