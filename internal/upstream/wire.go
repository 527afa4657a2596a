package upstream

import (
	"time"

	"scicache-backend/internal/models"
)

// The wire* types mirror the upstream service's JSON response shapes.
// Decoding into a dedicated wire struct before converting to models.Paper
// keeps upstream's field names and nullability quirks from leaking into
// the domain model.
type wirePaper struct {
	PaperID                  string              `json:"paperId"`
	Title                    string              `json:"title"`
	Abstract                 string              `json:"abstract"`
	Venue                    string              `json:"venue"`
	Year                     *int                `json:"year"`
	PublicationDate          string              `json:"publicationDate"`
	Authors                  []wireAuthor        `json:"authors"`
	CitationCount            int                 `json:"citationCount"`
	ReferenceCount           int                 `json:"referenceCount"`
	InfluentialCitationCount int                 `json:"influentialCitationCount"`
	IsOpenAccess             bool                `json:"isOpenAccess"`
	OpenAccessPDF            *wireOpenAccess     `json:"openAccessPdf"`
	FieldsOfStudy            []string            `json:"fieldsOfStudy"`
	PublicationTypes         []string            `json:"publicationTypes"`
	Journal                  *wireJournal        `json:"journal"`
	CitationStyles           *wireCitationStyles `json:"citationStyles"`
	TLDR                     *wireTLDR           `json:"tldr"`
	Embedding                *wireEmbedding      `json:"embedding"`
	ExternalIDs              map[string]string   `json:"externalIds"`
}

type wireAuthor struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

type wireOpenAccess struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

type wireJournal struct {
	Name   string `json:"name"`
	Volume string `json:"volume"`
	Pages  string `json:"pages"`
}

type wireCitationStyles struct {
	BibTex string `json:"bibtex"`
}

type wireTLDR struct {
	Text string `json:"text"`
}

type wireEmbedding struct {
	Model  string    `json:"model"`
	Vector []float32 `json:"vector"`
}

func (w *wirePaper) toModel() *models.Paper {
	p := &models.Paper{
		PaperID:                  w.PaperID,
		Title:                    w.Title,
		CitationCount:            w.CitationCount,
		ReferenceCount:           w.ReferenceCount,
		InfluentialCitationCount: w.InfluentialCitationCount,
		IsOpenAccess:             w.IsOpenAccess,
		FieldsOfStudy:            w.FieldsOfStudy,
		PublicationTypes:         w.PublicationTypes,
		ExternalIDs:              w.ExternalIDs,
		FetchedAt:                time.Now(),
		MetadataUpdatedAt:        time.Now(),
		IngestStatus:             models.IngestStatusFull,
	}
	if w.Abstract != "" {
		p.Abstract = &w.Abstract
	}
	if w.Venue != "" {
		p.Venue = &w.Venue
	}
	p.Year = w.Year
	if w.PublicationDate != "" {
		if t, err := time.Parse("2006-01-02", w.PublicationDate); err == nil {
			p.PublicationDate = &t
		}
	}
	for _, a := range w.Authors {
		p.Authors = append(p.Authors, models.AuthorRef{AuthorID: a.AuthorID, Name: a.Name})
	}
	if w.OpenAccessPDF != nil {
		p.OpenAccessPDF = &models.OpenAccessPDF{URL: w.OpenAccessPDF.URL, Status: w.OpenAccessPDF.Status}
	}
	if w.Journal != nil {
		p.Journal = &models.JournalRef{Name: w.Journal.Name, Volume: w.Journal.Volume, Pages: w.Journal.Pages}
	}
	if w.CitationStyles != nil && w.CitationStyles.BibTex != "" {
		p.CitationStyles = &w.CitationStyles.BibTex
	}
	if w.TLDR != nil {
		p.TLDR = &w.TLDR.Text
	}
	if w.Embedding != nil {
		p.Embedding = &models.Embedding{Model: w.Embedding.Model, Vector: w.Embedding.Vector}
	}
	return p
}

type wireRelationPage struct {
	Offset int               `json:"offset"`
	Next   *int              `json:"next"`
	Data   []wireRelationRow `json:"data"`
	Total  int               `json:"total"`
}

type wireRelationRow struct {
	Contexts      []string   `json:"contexts"`
	Intents       []string   `json:"intents"`
	IsInfluential bool       `json:"isInfluential"`
	CitingPaper   *wirePaper `json:"citingPaper"`
	CitedPaper    *wirePaper `json:"citedPaper"`
}

// toNeighborSummary picks the neighbor side of the edge row: a citations
// row carries the paper doing the citing, a references row the paper being
// cited.
func (r wireRelationRow) toNeighborSummary(kind models.RelationKind) models.NeighborSummary {
	neighbor := r.CitingPaper
	if kind == models.RelationKindReferences {
		neighbor = r.CitedPaper
	}
	if neighbor == nil {
		neighbor = &wirePaper{}
	}
	return models.NeighborSummary{
		PaperID:       neighbor.PaperID,
		Title:         neighbor.Title,
		Contexts:      r.Contexts,
		Intents:       r.Intents,
		IsInfluential: r.IsInfluential,
	}
}

type wireSearchResponse struct {
	Total  int         `json:"total"`
	Offset int         `json:"offset"`
	Next   *int        `json:"next"`
	Data   []wirePaper `json:"data"`
}
