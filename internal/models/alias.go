package models

import "time"

// AliasKind is the recognized family of an external identifier.
type AliasKind string

const (
	AliasKindDOI       AliasKind = "DOI"
	AliasKindArXiv     AliasKind = "ARXIV"
	AliasKindCorpusID  AliasKind = "CORPUS_ID"
	AliasKindMAG       AliasKind = "MAG"
	AliasKindACL       AliasKind = "ACL"
	AliasKindPMID      AliasKind = "PMID"
	AliasKindPMCID     AliasKind = "PMCID"
	AliasKindURL       AliasKind = "URL"
	AliasKindTitleNorm AliasKind = "TITLE_NORM"
)

// Alias is a durable mapping (kind, normalized_value) -> paper_id. The pair
// (Kind, NormalizedValue) is unique; many aliases may point at one paper.
type Alias struct {
	Kind            AliasKind `json:"kind" gorm:"primaryKey;type:varchar(16)"`
	NormalizedValue string    `json:"normalizedValue" gorm:"primaryKey;type:varchar(512)"`
	PaperID         string    `json:"paperId" gorm:"type:varchar(64);not null;index"`
	CreatedAt       time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt       time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (Alias) TableName() string {
	return "aliases"
}
