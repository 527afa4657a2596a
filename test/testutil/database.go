package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"scicache-backend/internal/models"
)

// DatabaseTestUtil provides database testing utilities over the Graph
// Store's schema (papers, aliases, citation edges, relation blobs, ingest
// progress).
type DatabaseTestUtil struct {
	container  *postgres.PostgresContainer
	db         *gorm.DB
	cleanup    func()
	isPostgres bool
}

// SetupTestDatabase creates a test database (PostgreSQL in container or SQLite in memory).
func SetupTestDatabase(t *testing.T, usePostgres bool) *DatabaseTestUtil {
	ctx := context.Background()

	if usePostgres {
		return setupPostgresContainer(t, ctx)
	}
	return setupSQLiteInMemory(t)
}

var schema = []interface{}{
	&models.Paper{},
	&models.Alias{},
	&models.CitationEdge{},
	&models.RelationBlob{},
	&models.IngestProgress{},
}

// setupPostgresContainer creates a PostgreSQL container for testing.
func setupPostgresContainer(t *testing.T, ctx context.Context) *DatabaseTestUtil {
	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(pgdriver.Open(connStr), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(schema...))

	return &DatabaseTestUtil{
		container:  pgContainer,
		db:         db,
		isPostgres: true,
		cleanup: func() {
			if err := pgContainer.Terminate(ctx); err != nil {
				t.Logf("failed to terminate container: %s", err)
			}
		},
	}
}

// setupSQLiteInMemory creates an in-memory SQLite database for testing.
func setupSQLiteInMemory(t *testing.T) *DatabaseTestUtil {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(schema...))

	return &DatabaseTestUtil{
		db:         db,
		isPostgres: false,
		cleanup:    func() {},
	}
}

// DB returns the GORM database instance.
func (d *DatabaseTestUtil) DB() *gorm.DB {
	return d.db
}

// Cleanup cleans up the test database.
func (d *DatabaseTestUtil) Cleanup() {
	if d.cleanup != nil {
		d.cleanup()
	}
}

// TruncateAllTables truncates all tables for clean test state.
func (d *DatabaseTestUtil) TruncateAllTables(t *testing.T) {
	tables := []string{
		"citation_edges",
		"relation_blobs",
		"ingest_progress",
		"aliases",
		"papers",
	}

	if d.isPostgres {
		for _, table := range tables {
			if err := d.db.Exec(fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", table)).Error; err != nil {
				continue
			}
		}
	} else {
		for _, table := range tables {
			if err := d.db.Exec(fmt.Sprintf("DELETE FROM %s", table)).Error; err != nil {
				continue
			}
		}
	}
}

// Transaction executes a function within a database transaction.
func (d *DatabaseTestUtil) Transaction(t *testing.T, fn func(*gorm.DB) error) {
	tx := d.db.Begin()
	require.NoError(t, tx.Error)

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			t.Fatalf("Transaction panicked: %v", r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		require.NoError(t, err)
	}

	require.NoError(t, tx.Commit().Error)
}

// AssertTableCount asserts the count of records in a table.
func (d *DatabaseTestUtil) AssertTableCount(t *testing.T, table string, expected int64) {
	var count int64
	err := d.db.Table(table).Count(&count).Error
	require.NoError(t, err)
	require.Equal(t, expected, count, "Table %s should have %d records", table, expected)
}

// SeedBasicData seeds the database with one fully-ingested paper and its
// alias records.
func (d *DatabaseTestUtil) SeedBasicData(t *testing.T) *models.Paper {
	paper := d.CreateTestPaper(t, &models.Paper{
		PaperID:       "649def34f8be52c8b66281af98ae884c09aef38b",
		Title:         "Advances in Machine Learning",
		Authors:       []models.AuthorRef{{AuthorID: "auth_1", Name: "John Doe"}},
		CitationCount: 42,
		ExternalIDs:   map[string]string{"DOI": "10.1000/test.001", "ArXiv": "2301.00001"},
	})

	aliases := []models.Alias{
		{Kind: models.AliasKindDOI, NormalizedValue: "10.1000/test.001", PaperID: paper.PaperID},
		{Kind: models.AliasKindArXiv, NormalizedValue: "2301.00001", PaperID: paper.PaperID},
	}
	for _, alias := range aliases {
		require.NoError(t, d.db.Create(&alias).Error)
	}

	return paper
}

// CreateTestPaper creates a test paper with minimal required fields, applying
// the non-zero PaperID, Title, Abstract, Authors, CitationCount, ExternalIDs
// and IngestStatus from overrides; other override fields are ignored.
func (d *DatabaseTestUtil) CreateTestPaper(t *testing.T, overrides *models.Paper) *models.Paper {
	now := time.Now().UTC()
	paper := &models.Paper{
		PaperID:           fmt.Sprintf("%040x", time.Now().UnixNano()),
		Title:             "Test Paper",
		IngestStatus:      models.IngestStatusFull,
		FetchedAt:         now,
		MetadataUpdatedAt: now,
	}

	if overrides != nil {
		if overrides.PaperID != "" {
			paper.PaperID = overrides.PaperID
		}
		if overrides.Title != "" {
			paper.Title = overrides.Title
		}
		if overrides.Abstract != nil {
			paper.Abstract = overrides.Abstract
		}
		if overrides.Authors != nil {
			paper.Authors = overrides.Authors
		}
		if overrides.CitationCount != 0 {
			paper.CitationCount = overrides.CitationCount
		}
		if overrides.ExternalIDs != nil {
			paper.ExternalIDs = overrides.ExternalIDs
		}
		if overrides.IngestStatus != "" {
			paper.IngestStatus = overrides.IngestStatus
		}
	}

	require.NoError(t, d.db.Create(paper).Error)
	return paper
}

// CreateTestAlias creates a test alias row pointing at paperID.
func (d *DatabaseTestUtil) CreateTestAlias(t *testing.T, kind models.AliasKind, normalizedValue, paperID string) *models.Alias {
	alias := &models.Alias{Kind: kind, NormalizedValue: normalizedValue, PaperID: paperID}
	require.NoError(t, d.db.Create(alias).Error)
	return alias
}

// GetPostgresConnectionForRawSQL returns raw SQL connection for PostgreSQL.
func (d *DatabaseTestUtil) GetPostgresConnectionForRawSQL(t *testing.T) *sql.DB {
	require.True(t, d.isPostgres, "This method is only available for PostgreSQL containers")

	sqlDB, err := d.db.DB()
	require.NoError(t, err)

	return sqlDB
}

// SyntheticPaperID builds a deterministic 40-hex canonical paper id from a
// test ordinal, for seeding neighbor populations.
func SyntheticPaperID(i int) string {
	return fmt.Sprintf("%040x", i+1)
}
