package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/pkg/dbctx"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
)

// ChunkHit is a knowledge chunk joined with its parent document and base,
// used by the retriever to map vector matches back to citable content and to
// re-check eligibility at query time.
type ChunkHit struct {
	ChunkID       uuid.UUID `gorm:"column:chunk_id"`
	DocumentID    uuid.UUID `gorm:"column:document_id"`
	VectorID      string    `gorm:"column:vector_id"`
	Content       string    `gorm:"column:content"`
	DocumentTitle string    `gorm:"column:document_title"`
	DocApproved   bool      `gorm:"column:doc_approved"`
	KBEnabled     bool      `gorm:"column:kb_enabled"`
}

type KnowledgeRepo interface {
	// ChunksByVectorIDs loads hits for the given vector-store ids, joined with
	// approval and enablement flags. Order of the input ids is not preserved;
	// callers re-rank by score.
	ChunksByVectorIDs(dbc dbctx.Context, vectorIDs []string) ([]ChunkHit, error)
	EnabledBaseIDs(dbc dbctx.Context) ([]uuid.UUID, error)
}

type knowledgeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKnowledgeRepo(db *gorm.DB, log *logger.Logger) KnowledgeRepo {
	return &knowledgeRepo{db: db, log: log.With("repo", "KnowledgeRepo")}
}

func (r *knowledgeRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *knowledgeRepo) ChunksByVectorIDs(dbc dbctx.Context, vectorIDs []string) ([]ChunkHit, error) {
	if len(vectorIDs) == 0 {
		return []ChunkHit{}, nil
	}
	var out []ChunkHit
	err := r.handle(dbc).
		Table("knowledge_chunk").
		Select(`knowledge_chunk.id AS chunk_id,
			knowledge_chunk.document_id AS document_id,
			knowledge_chunk.vector_id AS vector_id,
			knowledge_chunk.content AS content,
			knowledge_document.title AS document_title,
			knowledge_document.approved AS doc_approved,
			knowledge_base.enabled AS kb_enabled`).
		Joins("JOIN knowledge_document ON knowledge_document.id = knowledge_chunk.document_id AND knowledge_document.deleted_at IS NULL").
		Joins("JOIN knowledge_base ON knowledge_base.id = knowledge_document.knowledge_base_id AND knowledge_base.deleted_at IS NULL").
		Where("knowledge_chunk.vector_id IN ?", vectorIDs).
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *knowledgeRepo) EnabledBaseIDs(dbc dbctx.Context) ([]uuid.UUID, error) {
	var out []uuid.UUID
	if err := r.handle(dbc).
		Model(&types.KnowledgeBase{}).
		Where("enabled = ?", true).
		Pluck("id", &out).Error; err != nil {
		return nil, err
	}
	if out == nil {
		out = []uuid.UUID{}
	}
	return out, nil
}
