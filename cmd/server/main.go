// Package main scicache-backend caching proxy
//
//	@title			scicache-backend API
//	@version		1.0.0
//	@description	Caching proxy in front of an external academic-graph service: resolves paper references (ids, DOIs, ArXiv ids, titles) to projected paper records, serves citation/reference pages, and coordinates upstream search.
//	@termsOfService	https://scicache.ai/terms
//
//	@contact.name	SciCache Support
//	@contact.email	support@scicache.ai
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//	@schemes	http https
//
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						Authorization
//	@description				API key for authentication
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"scicache-backend/internal/mcp"
)

//go:generate wire

func main() {
	ctx := context.Background()

	app, cleanup, err := InitializeApplication(ctx)
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer cleanup()

	logger := app.Logger
	cfg := app.Config
	embeddedManager := app.EmbeddedManager

	if embeddedManager != nil && cfg.NATS.Embedded.Enabled {
		logger.Info("Starting embedded NATS manager...")
		if err := embeddedManager.Start(ctx); err != nil {
			logger.Error("Failed to start embedded NATS manager",
				slog.String("error", err.Error()),
				slog.String("configured_host", cfg.NATS.Embedded.Host),
				slog.Int("configured_port", cfg.NATS.Embedded.Port))
			logger.Error("Server startup failed: embedded NATS is enabled but could not start")
			os.Exit(1)
		}
		logger.Info("Embedded NATS manager started successfully")
	}

	if cfg.MCP.Enabled {
		mcpServer := mcp.NewSimpleMCPServer(app.Resolver, app.Search, logger)
		go func() {
			if err := mcpServer.ServeStdio(); err != nil {
				logger.Error("MCP server failed", slog.String("error", err.Error()))
			}
		}()
		logger.Info("MCP stdio server started")
	}

	if app.IngestWorker != nil {
		if err := app.IngestWorker.Start(ctx); err != nil {
			logger.Error("Failed to start ingest worker", slog.String("error", err.Error()))
		} else {
			logger.Info("Ingest worker subscribed", slog.String("queue_group", "ingest-workers"))
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if addr == ":0" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:           addr,
		Handler:        app.Router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	var embeddedServerRunning bool
	if embeddedManager != nil {
		embeddedServerRunning = embeddedManager.IsEmbeddedServerEnabled()
		logger.Info("Embedded NATS manager status", slog.Bool("embedded_server", embeddedServerRunning))
	}

	go func() {
		logger.Info("Starting scicache-backend server",
			slog.String("addr", server.Addr),
			slog.String("mode", cfg.Server.Mode),
			slog.String("version", "1.0.0"))

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	logger.Info("scicache-backend startup complete",
		slog.String("http_addr", server.Addr),
		slog.Bool("database_connected", app.Database != nil),
		slog.Bool("messaging_connected", app.Messaging != nil && app.Messaging.IsConnected()),
		slog.Bool("embedded_nats_server", embeddedServerRunning))

	logger.Info("Available endpoints",
		slog.String("health", "/health, /health/live, /health/ready"),
		slog.String("paper", "/paper/{ref}, /paper/{ref}/citations, /paper/{ref}/references"),
		slog.String("batch", "/paper/batch"),
		slog.String("search", "/paper/search"),
		slog.String("docs", "/swagger/index.html"))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down scicache-backend...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server forced to shutdown", slog.String("error", err.Error()))
	} else {
		logger.Info("HTTP server shutdown gracefully")
	}

	if app.Database != nil {
		app.Database.Close()
		logger.Info("Database connection closed")
	}

	if embeddedManager != nil {
		if err := embeddedManager.Stop(shutdownCtx); err != nil {
			logger.Error("Failed to stop embedded NATS manager", slog.String("error", err.Error()))
		} else {
			logger.Info("Embedded NATS manager stopped")
		}
	} else if app.Messaging != nil {
		app.Messaging.Close()
		logger.Info("NATS connection closed")
	}

	logger.Info("scicache-backend shutdown complete")
}
