package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scicache-backend/internal/models"
)

func fullPaper() *models.Paper {
	now := time.Now().UTC()
	abstract := "an abstract"
	return &models.Paper{
		PaperID:           "649def34f8be52c8b66281af98ae884c09aef38b",
		Title:             "Advances in Machine Learning",
		Abstract:          &abstract,
		Authors:           []models.AuthorRef{{AuthorID: "a1", Name: "John Doe"}},
		CitationCount:     10,
		ReferenceCount:    5,
		ExternalIDs:       map[string]string{"DOI": "10.1000/test.001"},
		FetchedAt:         now,
		MetadataUpdatedAt: now,
		IngestStatus:      models.IngestStatusFull,
	}
}

func TestPaper_TableName(t *testing.T) {
	assert.Equal(t, "papers", models.Paper{}.TableName())
}

func TestPaper_IsFull(t *testing.T) {
	t.Run("full paper", func(t *testing.T) {
		p := fullPaper()
		assert.True(t, p.IsFull())
	})

	t.Run("stub paper", func(t *testing.T) {
		p := &models.Paper{PaperID: "stub1", IngestStatus: models.IngestStatusStub}
		assert.False(t, p.IsFull())
	})
}

func TestPaper_IsFresh(t *testing.T) {
	now := time.Now().UTC()

	t.Run("within window", func(t *testing.T) {
		p := &models.Paper{MetadataUpdatedAt: now.Add(-time.Minute)}
		assert.True(t, p.IsFresh(now, time.Hour))
	})

	t.Run("outside window", func(t *testing.T) {
		p := &models.Paper{MetadataUpdatedAt: now.Add(-2 * time.Hour)}
		assert.False(t, p.IsFresh(now, time.Hour))
	})

	t.Run("never fetched", func(t *testing.T) {
		p := &models.Paper{}
		assert.False(t, p.IsFresh(now, 24*time.Hour))
	})
}

func TestPaper_MergeFrom_NeverDowngradesIngestStatus(t *testing.T) {
	full := fullPaper()
	stub := &models.Paper{
		PaperID:      full.PaperID,
		Title:        "Neighbor-supplied title",
		IngestStatus: models.IngestStatusStub,
	}

	full.MergeFrom(stub)

	assert.True(t, full.IsFull(), "merging a stub observation must not downgrade an already-full paper")
	assert.Equal(t, "Neighbor-supplied title", full.Title, "non-empty fields from other still apply")
}

func TestPaper_MergeFrom_UpgradesStubToFull(t *testing.T) {
	stub := &models.Paper{PaperID: "p1", Title: "Stub Title", IngestStatus: models.IngestStatusStub}
	fetchedAt := time.Now().UTC()
	full := &models.Paper{
		PaperID:      "p1",
		Title:        "Full Title",
		IngestStatus: models.IngestStatusFull,
		FetchedAt:    fetchedAt,
	}

	stub.MergeFrom(full)

	assert.True(t, stub.IsFull())
	assert.Equal(t, "Full Title", stub.Title)
	assert.Equal(t, fetchedAt, stub.FetchedAt)
}

func TestPaper_MergeFrom_CarriesOptionalTextFields(t *testing.T) {
	p := fullPaper()
	bibtex := "@inproceedings{doe2023advances}"
	tldr := "a newer summary"
	other := &models.Paper{
		CitationStyles: &bibtex,
		TLDR:           &tldr,
	}

	p.MergeFrom(other)

	require.NotNil(t, p.CitationStyles)
	assert.Equal(t, bibtex, *p.CitationStyles, "a re-fetch that only changes the formatted citation must still apply")
	require.NotNil(t, p.TLDR)
	assert.Equal(t, tldr, *p.TLDR)
}

func TestPaper_MergeFrom_ExternalIDsMergeEntryByEntry(t *testing.T) {
	p := &models.Paper{
		PaperID:     "p1",
		ExternalIDs: map[string]string{"DOI": "10.1/old"},
	}
	other := &models.Paper{
		ExternalIDs: map[string]string{"ArXiv": "2301.00001"},
	}

	p.MergeFrom(other)

	require.Len(t, p.ExternalIDs, 2)
	assert.Equal(t, "10.1/old", p.ExternalIDs["DOI"], "existing entries survive a merge that doesn't touch them")
	assert.Equal(t, "2301.00001", p.ExternalIDs["ArXiv"])
}

func TestPaper_MergeFrom_MetadataTimestampOnlyAdvances(t *testing.T) {
	now := time.Now().UTC()

	t.Run("newer timestamp advances", func(t *testing.T) {
		p := &models.Paper{PaperID: "p1", MetadataUpdatedAt: now.Add(-time.Hour)}
		other := &models.Paper{MetadataUpdatedAt: now}

		p.MergeFrom(other)

		assert.Equal(t, now, p.MetadataUpdatedAt)
	})

	t.Run("older timestamp does not regress", func(t *testing.T) {
		p := &models.Paper{PaperID: "p1", MetadataUpdatedAt: now}
		other := &models.Paper{MetadataUpdatedAt: now.Add(-time.Hour)}

		p.MergeFrom(other)

		assert.Equal(t, now, p.MetadataUpdatedAt)
	})
}

func TestPaper_MergeFrom_CitationCountRequiresFullOrPositive(t *testing.T) {
	p := &models.Paper{PaperID: "p1", CitationCount: 5}

	t.Run("zero count from a stub observation is ignored", func(t *testing.T) {
		other := &models.Paper{IngestStatus: models.IngestStatusStub, CitationCount: 0}
		p.MergeFrom(other)
		assert.Equal(t, 5, p.CitationCount)
	})

	t.Run("zero count from a full observation overwrites", func(t *testing.T) {
		other := &models.Paper{IngestStatus: models.IngestStatusFull, CitationCount: 0}
		p.MergeFrom(other)
		assert.Equal(t, 0, p.CitationCount)
	})
}

func TestNeighborSummary_MergeFrom(t *testing.T) {
	t.Run("last writer wins on title, contexts and intents", func(t *testing.T) {
		n := models.NeighborSummary{PaperID: "p1", Title: "Old", IsInfluential: true}
		n.MergeFrom(models.NeighborSummary{Title: "New", Contexts: []string{"background"}, Intents: []string{"cites"}})

		assert.Equal(t, "New", n.Title)
		assert.Equal(t, []string{"background"}, n.Contexts)
		assert.Equal(t, []string{"cites"}, n.Intents)
	})

	t.Run("empty title does not overwrite", func(t *testing.T) {
		n := models.NeighborSummary{PaperID: "p1", Title: "Keep Me"}
		n.MergeFrom(models.NeighborSummary{Title: ""})

		assert.Equal(t, "Keep Me", n.Title)
	})

	t.Run("is_influential always overwrites, including to false", func(t *testing.T) {
		n := models.NeighborSummary{PaperID: "p1", IsInfluential: true}
		n.MergeFrom(models.NeighborSummary{IsInfluential: false})

		assert.False(t, n.IsInfluential)
	})
}
