package repos

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/pkg/dbctx"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
)

type ConversationRepo interface {
	Create(dbc dbctx.Context, row *types.Conversation) (*types.Conversation, error)
	GetByID(dbc dbctx.Context, userID, id uuid.UUID) (*types.Conversation, error)
	List(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.Conversation, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	SoftDelete(dbc dbctx.Context, userID, id uuid.UUID) error
	// AllocateSeqs reserves n consecutive message sequence numbers for the
	// conversation and returns the first one. Safe under concurrent turns.
	AllocateSeqs(dbc dbctx.Context, id uuid.UUID, n int) (int64, error)
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, log *logger.Logger) ConversationRepo {
	return &conversationRepo{db: db, log: log.With("repo", "ConversationRepo")}
}

func (r *conversationRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *conversationRepo) Create(dbc dbctx.Context, row *types.Conversation) (*types.Conversation, error) {
	if row == nil {
		return nil, fmt.Errorf("missing conversation")
	}
	if err := r.handle(dbc).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *conversationRepo) GetByID(dbc dbctx.Context, userID, id uuid.UUID) (*types.Conversation, error) {
	if userID == uuid.Nil || id == uuid.Nil {
		return nil, fmt.Errorf("missing ids")
	}
	var out types.Conversation
	if err := r.handle(dbc).
		Where("id = ? AND user_id = ?", id, userID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *conversationRepo) List(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.Conversation, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*types.Conversation
	if err := r.handle(dbc).
		Where("user_id = ?", userID).
		Order("pinned DESC, last_message_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conversationRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = time.Now().UTC()
	return r.handle(dbc).
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *conversationRepo) SoftDelete(dbc dbctx.Context, userID, id uuid.UUID) error {
	if userID == uuid.Nil || id == uuid.Nil {
		return fmt.Errorf("missing ids")
	}
	return r.handle(dbc).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&types.Conversation{}).Error
}

func (r *conversationRepo) AllocateSeqs(dbc dbctx.Context, id uuid.UUID, n int) (int64, error) {
	if id == uuid.Nil {
		return 0, fmt.Errorf("missing id")
	}
	if n <= 0 {
		return 0, fmt.Errorf("n must be positive")
	}
	var next int64
	if err := r.handle(dbc).
		Raw(`UPDATE conversation SET next_seq = next_seq + ? WHERE id = ? RETURNING next_seq`, n, id).
		Scan(&next).Error; err != nil {
		return 0, err
	}
	return next - int64(n) + 1, nil
}
