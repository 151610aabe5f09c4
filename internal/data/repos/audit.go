package repos

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/pkg/dbctx"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
)

type AuditRepo interface {
	Create(dbc dbctx.Context, row *types.AuditEvent) error
}

type auditRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuditRepo(db *gorm.DB, log *logger.Logger) AuditRepo {
	return &auditRepo{db: db, log: log.With("repo", "AuditRepo")}
}

func (r *auditRepo) Create(dbc dbctx.Context, row *types.AuditEvent) error {
	if row == nil {
		return fmt.Errorf("missing audit event")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	txx := r.db
	if dbc.Tx != nil {
		txx = dbc.Tx
	}
	return txx.WithContext(dbc.Ctx).Create(row).Error
}
