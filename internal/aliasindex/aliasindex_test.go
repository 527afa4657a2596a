package aliasindex_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"scicache-backend/internal/aliasindex"
	scerrors "scicache-backend/internal/errors"
	"scicache-backend/internal/models"
)

func newTestIndex(t *testing.T) aliasindex.Index {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Alias{}))

	return aliasindex.New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestIndex_Normalize(t *testing.T) {
	cases := []struct {
		name       string
		raw        string
		wantKind   models.AliasKind
		wantNormed string
	}{
		{"prefixed DOI lowercases", "DOI:10.1000/Test.001", models.AliasKindDOI, "10.1000/test.001"},
		{"DOI with embedded scheme", "DOI:doi:10.1000/Test.001", models.AliasKindDOI, "10.1000/test.001"},
		{"DOI with whitespace", "DOI: 10.1000/test.001 ", models.AliasKindDOI, "10.1000/test.001"},
		{"prefixed ArXiv strips version", "ARXIV:2301.00001v2", models.AliasKindArXiv, "2301.00001"},
		{"ArXiv with scheme prefix", "ARXIV:arXiv:2106.15928", models.AliasKindArXiv, "2106.15928"},
		{"prefixed CORPUS_ID", "CORPUS_ID:12345", models.AliasKindCorpusID, "12345"},
		{"CorpusID spelling tolerated", "CorpusID:12345", models.AliasKindCorpusID, "12345"},
		{"corpus id sheds leading zeros", "CORPUS_ID:00123", models.AliasKindCorpusID, "123"},
		{"prefixed MAG", "MAG:2963403868", models.AliasKindMAG, "2963403868"},
		{"prefixed ACL uppercases", "ACL:2020.acl-main.1", models.AliasKindACL, "2020.ACL-MAIN.1"},
		{"prefixed PMID", "PMID:31511863", models.AliasKindPMID, "31511863"},
		{"prefixed PMCID normalizes prefix", "PMCID:1234567", models.AliasKindPMCID, "PMC1234567"},
		{"PMCID already prefixed", "PMCID:PMC1234567", models.AliasKindPMCID, "PMC1234567"},
		{"URL lowercases host and strips slash", "URL:https://Example.COM/Paper/", models.AliasKindURL, "https://example.com/Paper"},
		{"URL drops tracking params", "URL:https://example.com/p?utm_source=x&id=7", models.AliasKindURL, "https://example.com/p?id=7"},
	}

	idx := newTestIndex(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, normalized, err := idx.Normalize(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.wantKind, kind)
			assert.Equal(t, tc.wantNormed, normalized)
		})
	}
}

func TestIndex_Normalize_RejectsUnprefixedTokens(t *testing.T) {
	idx := newTestIndex(t)

	for _, raw := range []string{"   ", "10.1000/test.001", "2301.00001", "987654", "Attention Is All You Need"} {
		_, _, err := idx.Normalize(raw)
		require.Error(t, err, "raw %q must be rejected without a recognized prefix", raw)
		var scErr *scerrors.SciCacheError
		require.ErrorAs(t, err, &scErr)
		assert.Equal(t, 400, scErr.HTTPStatus())
	}
}

func TestIsCanonicalID(t *testing.T) {
	assert.True(t, aliasindex.IsCanonicalID("649def34f8be52c8b66281af98ae884c09aef38b"))
	assert.False(t, aliasindex.IsCanonicalID("649DEF34F8BE52C8B66281AF98AE884C09AEF38B"), "canonical ids are lowercase hex")
	assert.False(t, aliasindex.IsCanonicalID("649def34f8be52c8b66281af98ae884c09aef38"), "39 hex chars is not canonical")
	assert.False(t, aliasindex.IsCanonicalID("zzzdef34f8be52c8b66281af98ae884c09aef38b"))
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "attentionisallyouneed", aliasindex.NormalizeTitle("Attention, Is All You Need!"))
	assert.Equal(t, aliasindex.NormalizeTitle("Ｆｕｌｌｗｉｄｔｈ"), aliasindex.NormalizeTitle("Fullwidth"), "NFKC folds width variants")
}

func TestIndex_Resolve_CanonicalIDPassthrough(t *testing.T) {
	idx := newTestIndex(t)

	id := "649def34f8be52c8b66281af98ae884c09aef38b"
	_, _, paperID, err := idx.Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, paperID)
}

func TestIndex_Record_And_Resolve(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	conflicts, err := idx.Record(ctx, "p1", []aliasindex.Candidate{
		{Kind: models.AliasKindDOI, NormalizedValue: "10.1000/test.001"},
		{Kind: models.AliasKindArXiv, NormalizedValue: "2301.00001"},
	})
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	kind, normalized, paperID, err := idx.Resolve(ctx, "DOI:10.1000/Test.001")
	require.NoError(t, err)
	assert.Equal(t, models.AliasKindDOI, kind)
	assert.Equal(t, "10.1000/test.001", normalized)
	assert.Equal(t, "p1", paperID)

	aliases, err := idx.AliasesOf(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, aliases, 2)
}

func TestIndex_Resolve_NotFound(t *testing.T) {
	idx := newTestIndex(t)

	_, _, _, err := idx.Resolve(context.Background(), "DOI:10.1000/missing")

	require.Error(t, err)
	var sfErr *scerrors.SciCacheError
	require.ErrorAs(t, err, &sfErr)
	assert.Equal(t, 404, sfErr.HTTPStatus())
}

func TestIndex_Record_ReportsConflictWithoutAbortingBatch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	_, err := idx.Record(ctx, "p1", []aliasindex.Candidate{
		{Kind: models.AliasKindDOI, NormalizedValue: "10.1000/test.001"},
	})
	require.NoError(t, err)

	conflicts, err := idx.Record(ctx, "p2", []aliasindex.Candidate{
		{Kind: models.AliasKindDOI, NormalizedValue: "10.1000/test.001"},
		{Kind: models.AliasKindArXiv, NormalizedValue: "2301.99999"},
	})
	require.NoError(t, err)

	require.Len(t, conflicts, 1)
	assert.Equal(t, "p1", conflicts[0].ExistingPaperID)

	// the non-conflicting alias in the same batch still gets recorded
	_, _, paperID, err := idx.Resolve(ctx, "ARXIV:2301.99999")
	require.NoError(t, err)
	assert.Equal(t, "p2", paperID)
}
