package models

import (
	"time"
)

// IngestStatus describes how completely a Paper node has been populated.
type IngestStatus string

const (
	// IngestStatusStub marks a Paper created only as a neighbor reference
	// during edge merge; it carries minimal fields until independently fetched.
	IngestStatusStub IngestStatus = "stub"
	// IngestStatusFull marks a Paper fetched in its own right from Upstream.
	IngestStatusFull IngestStatus = "full"
)

// AuthorRef is an author as it appears inside a Paper's author list: an
// opaque id assigned by Upstream plus a display name. Authors are not a
// first-class aggregate in this system — Upstream is the source of truth for
// author identity and metrics.
type AuthorRef struct {
	AuthorID string `json:"authorId,omitempty"`
	Name     string `json:"name"`
}

// OpenAccessPDF describes a freely available PDF rendition of a paper.
type OpenAccessPDF struct {
	URL    string `json:"url,omitempty"`
	Status string `json:"status,omitempty"`
}

// Embedding is a vector representation of a paper's content, tagged with the
// model that produced it so mismatched-model vectors are never compared.
type Embedding struct {
	Model  string    `json:"model,omitempty"`
	Vector []float32 `json:"vector,omitempty"`
}

// JournalRef describes a paper's journal publication details.
type JournalRef struct {
	Name   string `json:"name,omitempty"`
	Volume string `json:"volume,omitempty"`
	Pages  string `json:"pages,omitempty"`
}

// Paper is the canonical entity this system caches. It is keyed by
// paper_id, an opaque identifier assigned by Upstream and treated as
// immutable once observed.
type Paper struct {
	PaperID string `json:"paperId" gorm:"primaryKey;type:varchar(64)" validate:"required"`

	Title           string      `json:"title" gorm:"type:text;not null"`
	Abstract        *string     `json:"abstract,omitempty" gorm:"type:text"`
	Venue           *string     `json:"venue,omitempty" gorm:"type:varchar(500)"`
	Year            *int        `json:"year,omitempty" gorm:"index"`
	PublicationDate *time.Time  `json:"publicationDate,omitempty" gorm:"index"`
	Authors         []AuthorRef `json:"authors" gorm:"serializer:json"`

	CitationCount            int `json:"citationCount" gorm:"default:0;index"`
	ReferenceCount           int `json:"referenceCount" gorm:"default:0"`
	InfluentialCitationCount int `json:"influentialCitationCount" gorm:"default:0"`

	IsOpenAccess  bool           `json:"isOpenAccess" gorm:"default:false"`
	OpenAccessPDF *OpenAccessPDF `json:"openAccessPdf,omitempty" gorm:"serializer:json"`

	FieldsOfStudy    []string `json:"fieldsOfStudy,omitempty" gorm:"serializer:json"`
	PublicationTypes []string `json:"publicationTypes,omitempty" gorm:"serializer:json"`

	Journal        *JournalRef `json:"journal,omitempty" gorm:"serializer:json"`
	CitationStyles *string     `json:"citationStyles,omitempty" gorm:"type:text"`
	TLDR           *string     `json:"tldr,omitempty" gorm:"type:text"`
	Embedding      *Embedding  `json:"embedding,omitempty" gorm:"serializer:json"`

	// ExternalIDs carries Upstream's full external-identifier map
	// (DOI, ArXiv, CorpusID, MAG, ACL, PubMed, PubMedCentral, URL, ...).
	ExternalIDs map[string]string `json:"externalIds,omitempty" gorm:"serializer:json"`

	FetchedAt         time.Time    `json:"fetchedAt" gorm:"index"`
	MetadataUpdatedAt time.Time    `json:"metadataUpdatedAt" gorm:"index"`
	IngestStatus      IngestStatus `json:"-" gorm:"type:varchar(10);not null;default:stub;index"`

	CreatedAt time.Time `json:"-" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"-" gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (Paper) TableName() string {
	return "papers"
}

// IsFull reports whether this Paper was independently fetched rather than
// created as a neighbor stub.
func (p *Paper) IsFull() bool {
	return p.IngestStatus == IngestStatusFull
}

// IsFresh reports whether p's metadata is within the given freshness window
// of now. A zero MetadataUpdatedAt (never independently fetched) is never fresh.
func (p *Paper) IsFresh(now time.Time, freshnessWindow time.Duration) bool {
	if p.MetadataUpdatedAt.IsZero() {
		return false
	}
	return now.Sub(p.MetadataUpdatedAt) < freshnessWindow
}

// MergeFrom applies fields newly provided by other onto p, following
// upsert_paper's merge semantics from the Graph Store contract: it never
// downgrades IngestStatus from full to stub, only overwrites fields other
// actually sets, and advances the metadata timestamp.
func (p *Paper) MergeFrom(other *Paper) {
	if other.Title != "" {
		p.Title = other.Title
	}
	if other.Abstract != nil {
		p.Abstract = other.Abstract
	}
	if other.Venue != nil {
		p.Venue = other.Venue
	}
	if other.Year != nil {
		p.Year = other.Year
	}
	if other.PublicationDate != nil {
		p.PublicationDate = other.PublicationDate
	}
	if len(other.Authors) > 0 {
		p.Authors = other.Authors
	}
	if other.CitationCount > 0 || other.IsFull() {
		p.CitationCount = other.CitationCount
	}
	if other.ReferenceCount > 0 || other.IsFull() {
		p.ReferenceCount = other.ReferenceCount
	}
	if other.InfluentialCitationCount > 0 || other.IsFull() {
		p.InfluentialCitationCount = other.InfluentialCitationCount
	}
	p.IsOpenAccess = other.IsOpenAccess || p.IsOpenAccess
	if other.OpenAccessPDF != nil {
		p.OpenAccessPDF = other.OpenAccessPDF
	}
	if len(other.FieldsOfStudy) > 0 {
		p.FieldsOfStudy = other.FieldsOfStudy
	}
	if len(other.PublicationTypes) > 0 {
		p.PublicationTypes = other.PublicationTypes
	}
	if other.Journal != nil {
		p.Journal = other.Journal
	}
	if other.CitationStyles != nil {
		p.CitationStyles = other.CitationStyles
	}
	if other.TLDR != nil {
		p.TLDR = other.TLDR
	}
	if other.Embedding != nil {
		p.Embedding = other.Embedding
	}
	for k, v := range other.ExternalIDs {
		if p.ExternalIDs == nil {
			p.ExternalIDs = make(map[string]string, len(other.ExternalIDs))
		}
		p.ExternalIDs[k] = v
	}
	if other.IngestStatus == IngestStatusFull {
		p.IngestStatus = IngestStatusFull
		p.FetchedAt = other.FetchedAt
	}
	if other.MetadataUpdatedAt.After(p.MetadataUpdatedAt) {
		p.MetadataUpdatedAt = other.MetadataUpdatedAt
	}
}

// NeighborSummary is a minimal paper reference carried inside a relation
// blob: at minimum paper_id and title, optionally any projected subset of
// Upstream's fields plus edge-local attributes.
type NeighborSummary struct {
	PaperID       string   `json:"paperId"`
	Title         string   `json:"title,omitempty"`
	Contexts      []string `json:"contexts,omitempty"`
	Intents       []string `json:"intents,omitempty"`
	IsInfluential bool     `json:"isInfluential,omitempty"`
}

// MergeFrom applies a later observation of the same neighbor onto n,
// following merge_edges' last-writer-wins policy for the attribute set.
func (n *NeighborSummary) MergeFrom(other NeighborSummary) {
	if other.Title != "" {
		n.Title = other.Title
	}
	if other.Contexts != nil {
		n.Contexts = other.Contexts
	}
	if other.Intents != nil {
		n.Intents = other.Intents
	}
	n.IsInfluential = other.IsInfluential
}
