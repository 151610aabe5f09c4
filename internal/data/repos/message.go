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

type MessageRepo interface {
	Create(dbc dbctx.Context, rows []*types.Message) ([]*types.Message, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Message, error)
	ListRecent(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.Message, error)
	ListByConversation(dbc dbctx.Context, conversationID uuid.UUID, limit int, beforeSeq *int64) ([]*types.Message, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// SetReviewOutcome records the async review verdict. Idempotent: it only
	// writes while review_passed is still NULL, so a done verdict never flips.
	SetReviewOutcome(dbc dbctx.Context, id uuid.UUID, passed bool, note string) error
	// HasStreaming reports whether the conversation has a live in-flight
	// assistant turn. Streaming rows not touched within staleAfter are
	// orphans from a crashed turn; they are finalized as errors and do not
	// count, so a crash never wedges the conversation.
	HasStreaming(dbc dbctx.Context, conversationID uuid.UUID, staleAfter time.Duration) (bool, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, log *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: log.With("repo", "MessageRepo")}
}

func (r *messageRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *messageRepo) Create(dbc dbctx.Context, rows []*types.Message) ([]*types.Message, error) {
	if len(rows) == 0 {
		return []*types.Message{}, nil
	}
	if err := r.handle(dbc).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *messageRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Message, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	var out types.Message
	if err := r.handle(dbc).Where("id = ?", id).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *messageRepo) ListRecent(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.Message, error) {
	if conversationID == uuid.Nil {
		return nil, fmt.Errorf("missing conversation_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	var out []*types.Message
	if err := r.handle(dbc).
		Where("conversation_id = ?", conversationID).
		Order("seq DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	// Normalize to ASC (oldest-first) for prompt assembly.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *messageRepo) ListByConversation(dbc dbctx.Context, conversationID uuid.UUID, limit int, beforeSeq *int64) ([]*types.Message, error) {
	if conversationID == uuid.Nil {
		return nil, fmt.Errorf("missing conversation_id")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := r.handle(dbc).Where("conversation_id = ?", conversationID)
	if beforeSeq != nil {
		q = q.Where("seq < ?", *beforeSeq)
	}
	var out []*types.Message
	if err := q.Order("seq DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *messageRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = time.Now().UTC()
	return r.handle(dbc).
		Model(&types.Message{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *messageRepo) SetReviewOutcome(dbc dbctx.Context, id uuid.UUID, passed bool, note string) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	return r.handle(dbc).
		Model(&types.Message{}).
		Where("id = ? AND review_passed IS NULL", id).
		Updates(map[string]interface{}{
			"review_passed": passed,
			"review_note":   note,
			"updated_at":    time.Now().UTC(),
		}).Error
}

func (r *messageRepo) HasStreaming(dbc dbctx.Context, conversationID uuid.UUID, staleAfter time.Duration) (bool, error) {
	if conversationID == uuid.Nil {
		return false, fmt.Errorf("missing conversation_id")
	}
	now := time.Now().UTC()
	if staleAfter > 0 {
		res := r.handle(dbc).
			Model(&types.Message{}).
			Where("conversation_id = ? AND status = ? AND updated_at < ?",
				conversationID, types.MessageStatusStreaming, now.Add(-staleAfter)).
			Updates(map[string]interface{}{
				"status":     types.MessageStatusError,
				"updated_at": now,
			})
		if res.Error != nil {
			return false, res.Error
		}
		if res.RowsAffected > 0 {
			r.log.Warn("reclaimed stale streaming messages",
				"conversation_id", conversationID, "count", res.RowsAffected)
		}
	}
	var count int64
	if err := r.handle(dbc).
		Model(&types.Message{}).
		Where("conversation_id = ? AND status = ?", conversationID, types.MessageStatusStreaming).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
