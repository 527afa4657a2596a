// Code generated by Wire. DO NOT EDIT.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package main

import (
	"context"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/nats-io/nats.go/jetstream"
	"log/slog"
	"scicache-backend/internal/aliasindex"
	"scicache-backend/internal/api"
	"scicache-backend/internal/api/handlers"
	"scicache-backend/internal/config"
	"scicache-backend/internal/graphstore"
	"scicache-backend/internal/hotcache"
	"scicache-backend/internal/ingestor"
	"scicache-backend/internal/messaging"
	"scicache-backend/internal/messaging/embedded"
	"scicache-backend/internal/repository"
	"scicache-backend/internal/resolver"
	"scicache-backend/internal/search"
	"scicache-backend/internal/upstream"
	"time"
)

// Injectors from wire.go:

// InitializeApplication creates a fully configured application using Wire.
func InitializeApplication(ctx context.Context) (*Application, func(), error) {
	configConfig, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := ProvideLogger(configConfig)
	if err != nil {
		return nil, nil, err
	}
	database, err := ProvideDatabase(configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	manager, err := ProvideEmbeddedManager(configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	client := ProvideMessagingFromEmbedded(manager)
	index := ProvideAliasIndex(database, logger)
	store := ProvideGraphStore(database, logger)
	cache := ProvideHotCache(manager, configConfig, logger)
	upstreamClient, err := ProvideUpstreamClient(configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	eventPublisher := ProvideEventPublisher(manager, logger)
	resolver, err := ProvideResolver(index, store, cache, upstreamClient, eventPublisher, configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	ingestor, err := ProvideIngestor(store, cache, upstreamClient, eventPublisher, configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	worker := ProvideIngestWorker(ingestor, manager, logger)
	coordinator, err := ProvideSearchCoordinator(store, cache, upstreamClient, eventPublisher, configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	healthHandler := ProvideConcreteHealthHandler(database, store, cache, manager, configConfig, logger)
	engine := ProvideRouter(resolver, ingestor, coordinator, healthHandler, logger)
	application := NewApplication(configConfig, database, client, manager, resolver, ingestor, worker, coordinator, engine, logger)
	return application, func() {
	}, nil
}

// InitializeDevelopmentApplication creates an application instance for development.
func InitializeDevelopmentApplication(ctx context.Context) (*Application, func(), error) {
	configConfig := ProvideDevelopmentConfig()
	logger, err := ProvideLogger(configConfig)
	if err != nil {
		return nil, nil, err
	}
	database, err := ProvideDatabase(configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	manager, err := ProvideEmbeddedManager(configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	client := ProvideMessagingFromEmbedded(manager)
	index := ProvideAliasIndex(database, logger)
	store := ProvideGraphStore(database, logger)
	cache := ProvideHotCache(manager, configConfig, logger)
	upstreamClient, err := ProvideUpstreamClient(configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	eventPublisher := ProvideEventPublisher(manager, logger)
	resolver, err := ProvideResolver(index, store, cache, upstreamClient, eventPublisher, configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	ingestor, err := ProvideIngestor(store, cache, upstreamClient, eventPublisher, configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	worker := ProvideIngestWorker(ingestor, manager, logger)
	coordinator, err := ProvideSearchCoordinator(store, cache, upstreamClient, eventPublisher, configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	healthHandler := ProvideConcreteHealthHandler(database, store, cache, manager, configConfig, logger)
	engine := ProvideRouter(resolver, ingestor, coordinator, healthHandler, logger)
	application := NewApplication(configConfig, database, client, manager, resolver, ingestor, worker, coordinator, engine, logger)
	return application, func() {
	}, nil
}

// InitializeTestApplication creates an application instance for testing.
func InitializeTestApplication(ctx context.Context) (*Application, func(), error) {
	configConfig := ProvideTestConfig()
	logger, err := ProvideLogger(configConfig)
	if err != nil {
		return nil, nil, err
	}
	database, err := ProvideDatabase(configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	manager, err := ProvideEmbeddedManager(configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	client := ProvideMessagingFromEmbedded(manager)
	index := ProvideAliasIndex(database, logger)
	store := ProvideGraphStore(database, logger)
	cache := ProvideHotCache(manager, configConfig, logger)
	upstreamClient, err := ProvideUpstreamClient(configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	eventPublisher := ProvideEventPublisher(manager, logger)
	resolver, err := ProvideResolver(index, store, cache, upstreamClient, eventPublisher, configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	ingestor, err := ProvideIngestor(store, cache, upstreamClient, eventPublisher, configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	worker := ProvideIngestWorker(ingestor, manager, logger)
	coordinator, err := ProvideSearchCoordinator(store, cache, upstreamClient, eventPublisher, configConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	healthHandler := ProvideConcreteHealthHandler(database, store, cache, manager, configConfig, logger)
	engine := ProvideRouter(resolver, ingestor, coordinator, healthHandler, logger)
	application := NewApplication(configConfig, database, client, manager, resolver, ingestor, worker, coordinator, engine, logger)
	return application, func() {
	}, nil
}

// wire.go:

// Application represents the complete application with all dependencies.
type Application struct {
	Config          *config.Config
	Database        *repository.Database
	Messaging       *messaging.Client
	EmbeddedManager *embedded.Manager
	Resolver        resolver.Resolver
	Ingestor        ingestor.Ingestor
	IngestWorker    *ingestor.Worker
	Search          search.Coordinator
	Router          *gin.Engine
	Logger          *slog.Logger
}

// NewApplication creates the main application instance.
func NewApplication(
	cfg *config.Config,
	db *repository.Database,
	msgClient *messaging.Client,
	embeddedManager *embedded.Manager,
	paperResolver resolver.Resolver,
	relationIngestor ingestor.Ingestor,
	ingestWorker *ingestor.Worker,
	searchCoordinator search.Coordinator,
	router *gin.Engine,
	logger *slog.Logger,
) *Application {
	return &Application{
		Config:          cfg,
		Database:        db,
		Messaging:       msgClient,
		EmbeddedManager: embeddedManager,
		Resolver:        paperResolver,
		Ingestor:        relationIngestor,
		IngestWorker:    ingestWorker,
		Search:          searchCoordinator,
		Router:          router,
		Logger:          logger,
	}
}

// Provider sets for Wire dependency injection.
var ConfigProviderSet = wire.NewSet(config.LoadConfig, ProvideLogger)

var DatabaseProviderSet = wire.NewSet(
	ProvideDatabase,
	ProvideAliasIndex,
	ProvideGraphStore,
)

var MessagingProviderSet = wire.NewSet(
	ProvideEmbeddedManager,
	ProvideMessagingFromEmbedded,
	ProvideEventPublisher,
	ProvideHotCache,
)

var UpstreamProviderSet = wire.NewSet(
	ProvideUpstreamClient,
)

var DomainProviderSet = wire.NewSet(
	ProvideResolver,
	ProvideIngestor,
	ProvideIngestWorker,
	ProvideSearchCoordinator,
)

var APIProviderSet = wire.NewSet(
	ProvideConcreteHealthHandler,
	ProvideRouter,
)

// ApplicationProviderSet combines all provider sets.
var ApplicationProviderSet = wire.NewSet(
	ConfigProviderSet,
	DatabaseProviderSet,
	MessagingProviderSet,
	UpstreamProviderSet,
	DomainProviderSet,
	APIProviderSet,
	NewApplication,
)

// ProvideLogger creates a structured logger instance.
func ProvideLogger(cfg *config.Config) (*slog.Logger, error) {
	return config.NewLogger(cfg)
}

// ProvideDatabase creates a database instance.
func ProvideDatabase(cfg *config.Config, logger *slog.Logger) (*repository.Database, error) {
	return repository.NewDatabase(cfg, logger)
}

// ProvideAliasIndex creates the Alias Index over the shared GORM connection.
func ProvideAliasIndex(db *repository.Database, logger *slog.Logger) aliasindex.Index {
	return aliasindex.New(db.DB, logger)
}

// ProvideGraphStore creates the Graph Store over the shared GORM connection.
func ProvideGraphStore(db *repository.Database, logger *slog.Logger) graphstore.Store {
	return graphstore.New(db.DB, logger)
}

// ProvideEmbeddedManager creates an embedded NATS manager.
func ProvideEmbeddedManager(cfg *config.Config, logger *slog.Logger) (*embedded.Manager, error) {
	return embedded.NewManager(&cfg.NATS, logger)
}

// ProvideMessagingFromEmbedded provides the messaging client from the
// embedded manager.
func ProvideMessagingFromEmbedded(embeddedManager *embedded.Manager) *messaging.Client {
	return embeddedManager.GetClient()
}

// ProvideEventPublisher builds the publisher the Resolver, Ingestor and
// Search Coordinator fan events out through. The NATS client only exists
// after the embedded manager starts, so the publisher resolves it lazily.
func ProvideEventPublisher(embeddedManager *embedded.Manager, logger *slog.Logger) *messaging.EventPublisher {
	return messaging.NewDeferredEventPublisher(embeddedManager.GetClient, logger)
}

// ProvideHotCache creates the Hot Cache over the JetStream KV bucket named
// in cfg.NATS.KVStore. Binding is lazy: the NATS connection only exists
// once the embedded manager has started, which happens after wiring.
func ProvideHotCache(embeddedManager *embedded.Manager, cfg *config.Config, logger *slog.Logger) hotcache.Cache {
	return hotcache.NewLazyCache(func(ctx context.Context) (jetstream.KeyValue, error) {
		client := embeddedManager.GetClient()
		if client == nil {
			return nil, fmt.Errorf("messaging client not connected yet")
		}
		js := client.JetStream()
		if js == nil {
			return nil, fmt.Errorf("jetstream context not available")
		}
		kv, err := js.KeyValue(ctx, cfg.NATS.KVStore.Bucket)
		if err == nil {
			return kv, nil
		}
		return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.NATS.KVStore.Bucket,
			Description: "scicache-backend hot cache",
		})
	}, logger)
}

// ProvideUpstreamClient creates the Upstream Client from config.Upstream.
func ProvideUpstreamClient(cfg *config.Config, logger *slog.Logger) (upstream.Client, error) {
	timeout, err := time.ParseDuration(cfg.Upstream.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream.timeout: %w", err)
	}
	return upstream.New(upstream.Config{
		BaseURL:          cfg.Upstream.BaseURL,
		APIKey:           cfg.Upstream.APIKey,
		Timeout:          timeout,
		RequestsPerSec:   cfg.Upstream.RequestsPerSec,
		BurstSize:        cfg.Upstream.BurstSize,
		MaxRetryAttempts: cfg.Upstream.MaxRetryAttempts,
	}, logger), nil
}

// ProvideResolver creates the Paper Resolver.
func ProvideResolver(
	aliases aliasindex.Index,
	graph graphstore.Store,
	cache hotcache.Cache,
	upstreamClient upstream.Client,
	publisher *messaging.EventPublisher,
	cfg *config.Config,
	logger *slog.Logger,
) (resolver.Resolver, error) {
	cacheDurations, err := cfg.GetCacheDurations()
	if err != nil {
		return nil, err
	}
	freshness, err := cfg.GetFreshnessWindow()
	if err != nil {
		return nil, err
	}
	opts := resolver.Options{
		Durations: resolver.Durations{
			PaperTTL:         cacheDurations.Paper,
			RelationTTL:      cacheDurations.Relation,
			RelationPageTTL:  cacheDurations.RelationPage,
			NegativeTTL:      cacheDurations.Negative,
			LockTTL:          cacheDurations.Lock,
			WaitPollInterval: cacheDurations.WaitPollInterval,
			WaitTimeout:      cacheDurations.WaitTimeout,
			FreshnessWindow:  freshness,
		},
		LargeRelationThreshold: cfg.Ingest.LargeRelationThreshold,
		RelationPageSize:       cfg.Ingest.PageSize,
		MaxBatchSize:           cfg.Resolver.MaxBatchSize,
	}
	if cfg.Resolver.DeadlineDefault != "" {
		deadline, err := time.ParseDuration(cfg.Resolver.DeadlineDefault)
		if err != nil {
			return nil, fmt.Errorf("invalid resolver.deadline_default: %w", err)
		}
		opts.RequestDeadline = deadline
	}
	return resolver.New(aliases, graph, cache, upstreamClient, publisher, opts, logger), nil
}

// ProvideIngestor creates the Relation Ingestor.
func ProvideIngestor(
	graph graphstore.Store,
	cache hotcache.Cache,
	upstreamClient upstream.Client,
	publisher *messaging.EventPublisher,
	cfg *config.Config,
	logger *slog.Logger,
) (ingestor.Ingestor, error) {
	cacheDurations, err := cfg.GetCacheDurations()
	if err != nil {
		return nil, err
	}
	return ingestor.New(graph, cache, upstreamClient, publisher, ingestor.Config{
		PageSize:               cfg.Ingest.PageSize,
		MaxPages:               cfg.Ingest.MaxPages,
		LargeRelationThreshold: cfg.Ingest.LargeRelationThreshold,
		LockTTL:                cacheDurations.Lock,
		PageTTL:                cacheDurations.RelationPage,
		ViewTTL:                cacheDurations.Relation,
	}, logger), nil
}

// ProvideIngestWorker creates the queue-group worker that consumes
// ingest-requested events.
func ProvideIngestWorker(
	relationIngestor ingestor.Ingestor,
	embeddedManager *embedded.Manager,
	logger *slog.Logger,
) *ingestor.Worker {
	return ingestor.NewWorker(relationIngestor, embeddedManager.Subscriber, 10*time.Minute, logger)
}

// ProvideSearchCoordinator creates the Search Coordinator.
func ProvideSearchCoordinator(
	graph graphstore.Store,
	cache hotcache.Cache,
	upstreamClient upstream.Client,
	publisher *messaging.EventPublisher,
	cfg *config.Config,
	logger *slog.Logger,
) (search.Coordinator, error) {
	cacheDurations, err := cfg.GetCacheDurations()
	if err != nil {
		return nil, err
	}
	return search.New(graph, cache, upstreamClient, publisher, search.Options{
		SearchTTL:       cacheDurations.Search,
		LocalMinResults: cfg.Search.LocalMinResults,
	}, logger), nil
}

// ProvideConcreteHealthHandler creates the health handler.
func ProvideConcreteHealthHandler(
	db *repository.Database,
	graph graphstore.Store,
	cache hotcache.Cache,
	embeddedManager *embedded.Manager,
	cfg *config.Config,
	logger *slog.Logger,
) *handlers.HealthHandler {
	environment := "development"
	if cfg.IsProduction() {
		environment = "production"
	} else if cfg.IsTest() {
		environment = "test"
	}
	return handlers.NewHealthHandler(db, graph, cache, embeddedManager.GetManager(), environment, logger)
}

// ProvideRouter creates the HTTP router.
func ProvideRouter(
	paperResolver resolver.Resolver,
	relationIngestor ingestor.Ingestor,
	searchCoordinator search.Coordinator,
	healthHandler *handlers.HealthHandler,
	logger *slog.Logger,
) *gin.Engine {
	return api.NewRouter(paperResolver, relationIngestor, searchCoordinator, healthHandler, logger)
}

// ProvideDevelopmentConfig creates a development configuration.
func ProvideDevelopmentConfig() *config.Config {
	cfg, err := config.LoadConfig()
	if err != nil {
		cfg = &config.Config{}
		cfg.Server.Mode = "debug"
		cfg.Server.Port = 8080
		cfg.Database.Type = "sqlite"
		cfg.Database.SQLite.Path = "./dev-scicache.db"
		cfg.Database.SQLite.AutoMigrate = true
		cfg.NATS.URL = "nats://localhost:4222"
		cfg.NATS.Embedded.Enabled = true
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	}
	return cfg
}

// ProvideTestConfig creates a test configuration.
func ProvideTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Mode = "test"
	cfg.Server.Port = 0
	cfg.Database.Type = "sqlite"
	cfg.Database.SQLite.Path = ":memory:"
	cfg.Database.SQLite.AutoMigrate = true
	cfg.Logging.Level = "error"
	cfg.Logging.Format = "text"
	return cfg
}
