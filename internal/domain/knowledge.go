package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// KnowledgeBase / KnowledgeDocument / KnowledgeChunk are read-only to the
// pipeline. Ingestion, parsing and embedding happen in the admin workflow;
// the retriever only queries chunks of approved documents in enabled bases.
type KnowledgeBase struct {
	ID      uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name    string    `gorm:"column:name;not null" json:"name"`
	Enabled bool      `gorm:"column:enabled;not null;default:true;index" json:"enabled"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (KnowledgeBase) TableName() string { return "knowledge_base" }

type KnowledgeDocument struct {
	ID              uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	KnowledgeBaseID uuid.UUID `gorm:"type:uuid;not null;index" json:"knowledge_base_id"`
	Title           string    `gorm:"column:title;not null" json:"title"`
	// Approved is the boolean projection of the external review workflow's
	// terminal-success state. The pipeline never walks the workflow graph.
	Approved bool `gorm:"column:approved;not null;default:false;index" json:"approved"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (KnowledgeDocument) TableName() string { return "knowledge_document" }

type KnowledgeChunk struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index" json:"document_id"`
	Content    string    `gorm:"column:content;type:text;not null" json:"content"`
	// VectorID keys the embedding in the external vector store.
	VectorID string `gorm:"column:vector_id;not null;index" json:"vector_id"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (KnowledgeChunk) TableName() string { return "knowledge_chunk" }
