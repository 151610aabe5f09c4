package repos

import (
	"gorm.io/gorm"

	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/pkg/dbctx"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
)

// PolicyRepo reads the admin-curated configuration the pipeline snapshots at
// turn start: provider groups, sensitive word groups and calendar periods.
// All of it is mutated by admin CRUD elsewhere; the core only reads.
type PolicyRepo interface {
	ProviderGroups(dbc dbctx.Context) ([]types.ProviderGroup, error)
	SensitiveGroups(dbc dbctx.Context) ([]types.SensitiveWordGroup, error)
	CalendarPeriods(dbc dbctx.Context) ([]types.CalendarPeriod, error)
}

type policyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPolicyRepo(db *gorm.DB, log *logger.Logger) PolicyRepo {
	return &policyRepo{db: db, log: log.With("repo", "PolicyRepo")}
}

func (r *policyRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *policyRepo) ProviderGroups(dbc dbctx.Context) ([]types.ProviderGroup, error) {
	var out []types.ProviderGroup
	if err := r.handle(dbc).
		Preload("Instances", "enabled = ?", true).
		Where("enabled = ?", true).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *policyRepo) SensitiveGroups(dbc dbctx.Context) ([]types.SensitiveWordGroup, error) {
	var out []types.SensitiveWordGroup
	if err := r.handle(dbc).
		Preload("Words").
		Where("enabled = ?", true).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *policyRepo) CalendarPeriods(dbc dbctx.Context) ([]types.CalendarPeriod, error) {
	var out []types.CalendarPeriod
	if err := r.handle(dbc).
		Where("active = ?", true).
		Order("updated_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
