package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"scicache-backend/internal/config"
)

// TestConfig creates a test configuration over the Upstream/Cache/Resolver/
// Ingest sections, SQLite-backed and with security/monitoring relaxed.
func TestConfig(t *testing.T) *config.Config {
	cfg := &config.Config{}

	cfg.Server.Port = 0 // Let the system assign a port
	cfg.Server.Host = "localhost"
	cfg.Server.Mode = "test"
	cfg.Server.ReadTimeout = "5s"
	cfg.Server.WriteTimeout = "5s"
	cfg.Server.IdleTimeout = "30s"

	cfg.Database.Type = "sqlite"
	cfg.Database.SQLite.Path = ":memory:"
	cfg.Database.SQLite.AutoMigrate = true

	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.ClusterID = "test-cluster"
	cfg.NATS.ClientID = "test-client"
	cfg.NATS.MaxReconnects = 3
	cfg.NATS.ReconnectWait = "1s"
	cfg.NATS.Timeout = "5s"
	cfg.NATS.JetStream.Enabled = true
	cfg.NATS.KVStore.Enabled = true
	cfg.NATS.KVStore.Bucket = "test-cache"
	cfg.NATS.KVStore.TTL = "5m"

	cfg.Upstream.BaseURL = "http://127.0.0.1:0"
	cfg.Upstream.Timeout = "5s"
	cfg.Upstream.RequestsPerSec = 100
	cfg.Upstream.BurstSize = 10
	cfg.Upstream.MaxRetryAttempts = 1

	cfg.Cache.PaperTTL = "1h"
	cfg.Cache.RelationTTL = "1h"
	cfg.Cache.RelationPageTTL = "1h"
	cfg.Cache.SearchTTL = "10m"
	cfg.Cache.NegativeTTL = "1m"
	cfg.Cache.LockTTL = "30s"
	cfg.Cache.WaitPollInterval = "50ms"
	cfg.Cache.WaitTimeout = "2s"

	cfg.Resolver.FreshnessWindow = "24h"
	cfg.Resolver.MaxBatchSize = 500
	cfg.Resolver.DeadlineDefault = "10s"

	cfg.Ingest.LargeRelationThreshold = 100
	cfg.Ingest.PageSize = 100
	cfg.Ingest.MaxPages = 10

	cfg.Logging.Level = "error" // Reduce noise in tests
	cfg.Logging.Format = "json"
	cfg.Logging.AddSource = false
	cfg.Logging.Output = "stdout"

	cfg.Security.RateLimit.Enabled = false
	cfg.Security.CORS.Enabled = true
	cfg.Security.CORS.AllowedOrigins = []string{"*"}
	cfg.Security.CORS.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	cfg.Security.CORS.AllowedHeaders = []string{"*"}

	cfg.Circuit.Enabled = false

	cfg.Retry.Enabled = true
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.InitialDelay = "100ms"
	cfg.Retry.MaxDelay = "1s"
	cfg.Retry.BackoffFactor = 1.5
	cfg.Retry.Jitter = false

	cfg.Monitoring.Enabled = false

	return cfg
}

// TestConfigWithPostgreSQL creates a test configuration with PostgreSQL
func TestConfigWithPostgreSQL(t *testing.T, connectionString string) *config.Config {
	cfg := TestConfig(t)

	cfg.Database.Type = "postgres"
	cfg.Database.PostgreSQL.DSN = connectionString
	cfg.Database.PostgreSQL.MaxConns = 5
	cfg.Database.PostgreSQL.MaxIdle = 2
	cfg.Database.PostgreSQL.MaxLifetime = "5m"
	cfg.Database.PostgreSQL.MaxIdleTime = "1m"
	cfg.Database.PostgreSQL.AutoMigrate = true

	return cfg
}

// TestConfigWithNATS creates a test configuration with NATS URL
func TestConfigWithNATS(t *testing.T, natsURL string) *config.Config {
	cfg := TestConfig(t)
	cfg.NATS.URL = natsURL
	return cfg
}

// TestConfigWithUpstream creates a test configuration pointed at a mock
// Upstream server (typically an httptest.Server).
func TestConfigWithUpstream(t *testing.T, baseURL string) *config.Config {
	cfg := TestConfig(t)
	cfg.Upstream.BaseURL = baseURL
	return cfg
}

// TestConfigFromEnv creates a test configuration from environment variables
func TestConfigFromEnv(t *testing.T) *config.Config {
	os.Setenv("SCICACHE_SERVER_MODE", "test")
	os.Setenv("SCICACHE_DATABASE_TYPE", "sqlite")
	os.Setenv("SCICACHE_DATABASE_SQLITE_PATH", ":memory:")
	os.Setenv("SCICACHE_LOGGING_LEVEL", "error")

	defer func() {
		os.Unsetenv("SCICACHE_SERVER_MODE")
		os.Unsetenv("SCICACHE_DATABASE_TYPE")
		os.Unsetenv("SCICACHE_DATABASE_SQLITE_PATH")
		os.Unsetenv("SCICACHE_LOGGING_LEVEL")
	}()

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("Failed to load test config from env: %v", err)
	}

	return cfg
}

// CreateTempConfigFile creates a temporary config file for testing
func CreateTempConfigFile(t *testing.T, content string) string {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	err := os.WriteFile(configPath, []byte(content), 0644)
	if err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}

	return configPath
}

// TestConfigYAML returns a test configuration in YAML format
func TestConfigYAML() string {
	return `
server:
  port: 0
  host: "localhost"
  mode: "test"
  read_timeout: "5s"
  write_timeout: "5s"
  idle_timeout: "30s"

database:
  type: "sqlite"
  sqlite:
    path: ":memory:"
    auto_migrate: true

nats:
  url: "nats://localhost:4222"
  cluster_id: "test-cluster"
  client_id: "test-client"
  max_reconnects: 3
  reconnect_wait: "1s"
  timeout: "5s"
  jetstream:
    enabled: true
  kv_store:
    enabled: true
    bucket: "test-cache"
    ttl: "5m"

upstream:
  base_url: "http://127.0.0.1:0"
  timeout: "5s"
  requests_per_second: 100
  burst_size: 10
  max_retry_attempts: 1

cache:
  paper_ttl: "1h"
  relation_ttl: "1h"
  relation_page_ttl: "1h"
  search_ttl: "10m"
  negative_ttl: "1m"
  lock_ttl: "30s"
  wait_poll_interval: "50ms"
  wait_timeout: "2s"

resolver:
  freshness_window: "24h"
  max_batch_size: 500
  deadline_default: "10s"

ingest:
  large_relation_threshold: 100
  page_size: 100
  max_pages: 10

logging:
  level: "error"
  format: "json"
  add_source: false
  output: "stdout"

security:
  rate_limit:
    enabled: false
  cors:
    enabled: true
    allowed_origins: ["*"]
    allowed_methods: ["GET", "POST", "PUT", "DELETE", "OPTIONS"]
    allowed_headers: ["*"]

circuit:
  enabled: false

retry:
  enabled: true
  max_attempts: 2
  initial_delay: "100ms"
  max_delay: "1s"
  backoff_factor: 1.5
  jitter: false

monitoring:
  enabled: false
`
}

// ValidateTestConfig validates that a configuration is suitable for testing
func ValidateTestConfig(t *testing.T, cfg *config.Config) {
	if !cfg.IsTest() {
		t.Error("Configuration should be in test mode")
	}

	if cfg.Database.Type == "postgres" {
		connStr, _ := cfg.GetDatabaseConnectionString()
		if !contains(connStr, "test") {
			t.Error("PostgreSQL connection string should contain 'test' for safety")
		}
	}

	if cfg.Logging.Level == "debug" {
		t.Log("Debug logging enabled in tests may produce excessive output")
	}

	if cfg.Monitoring.Enabled {
		t.Log("Monitoring enabled in tests may affect performance")
	}
}

// Helper function
func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// Extension interface for testing framework
type TestingT interface {
	Error(args ...interface{})
	Fatalf(format string, args ...interface{})
	TempDir() string
}

// Ensure *testing.T implements TestingT
var _ TestingT = (*testing.T)(nil)
