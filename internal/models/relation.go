package models

import "time"

// RelationKind names which directed relation a blob, edge, or ingest-progress
// record describes.
type RelationKind string

const (
	RelationKindCitations  RelationKind = "citations"
	RelationKindReferences RelationKind = "references"
)

// CitationEdge is a directed pair (citing_paper_id, cited_paper_id) with
// optional context snippets, intents, and an influential-citation flag. At
// most one edge exists per ordered pair.
type CitationEdge struct {
	CitingPaperID string   `json:"citingPaperId" gorm:"primaryKey;type:varchar(64)"`
	CitedPaperID  string   `json:"citedPaperId" gorm:"primaryKey;type:varchar(64);index"`
	Contexts      []string `json:"contexts,omitempty" gorm:"serializer:json"`
	Intents       []string `json:"intents,omitempty" gorm:"serializer:json"`
	IsInfluential bool     `json:"isInfluential" gorm:"default:false"`

	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (CitationEdge) TableName() string {
	return "citation_edges"
}

// RelationBlob is the merged neighbor list for one paper and one relation
// kind, replaced atomically as a whole on every store_relation_blob call.
type RelationBlob struct {
	PaperID   string            `json:"paperId" gorm:"primaryKey;type:varchar(64)"`
	Kind      RelationKind      `json:"kind" gorm:"primaryKey;type:varchar(16)"`
	Items     []NeighborSummary `json:"items" gorm:"serializer:json"`
	Total     int               `json:"total"`
	UpdatedAt time.Time         `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (RelationBlob) TableName() string {
	return "relation_blobs"
}

// IngestState is the lifecycle state of a relation-page ingest task.
type IngestState string

const (
	IngestStatePending  IngestState = "pending"
	IngestStateRunning  IngestState = "running"
	IngestStateComplete IngestState = "complete"
	IngestStateFailed   IngestState = "failed"
)

// IngestProgress is the persistent pagination cursor for one
// (paper_id, relation_kind) relation ingest.
type IngestProgress struct {
	PaperID        string      `json:"paperId" gorm:"primaryKey;type:varchar(64)"`
	Kind           RelationKind `json:"kind" gorm:"primaryKey;type:varchar(16)"`
	ExpectedTotal  int         `json:"expectedTotal"`
	PagesFetched   int         `json:"pagesFetched"`
	LastPageCursor int         `json:"lastPageCursor"`
	State          IngestState `json:"state" gorm:"type:varchar(16);default:pending"`
	UpdatedAt      time.Time   `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (IngestProgress) TableName() string {
	return "ingest_progress"
}

// IsDone reports whether the ingest has reached a terminal state.
func (p *IngestProgress) IsDone() bool {
	return p.State == IngestStateComplete || p.State == IngestStateFailed
}
