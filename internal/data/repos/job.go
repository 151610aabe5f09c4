package repos

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/pkg/dbctx"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
)

type JobRunRepo interface {
	Enqueue(dbc dbctx.Context, userID uuid.UUID, jobType string, entityID uuid.UUID, payload map[string]any) (*types.JobRun, error)
	// ClaimNextRunnable atomically claims the oldest runnable job, or returns
	// nil when there is none. Jobs stuck "running" longer than staleRunning
	// are reclaimed.
	ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, staleRunning time.Duration) (*types.JobRun, error)
	MarkDone(dbc dbctx.Context, id uuid.UUID) error
	// MarkError reschedules the job after retryDelay while attempts remain,
	// otherwise marks it permanently failed.
	MarkError(dbc dbctx.Context, id uuid.UUID, jobErr error, maxAttempts int, retryDelay time.Duration) error
	HasRunnableForEntity(dbc dbctx.Context, jobType string, entityID uuid.UUID) (bool, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, log *logger.Logger) JobRunRepo {
	return &jobRunRepo{db: db, log: log.With("repo", "JobRunRepo")}
}

func (r *jobRunRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *jobRunRepo) Enqueue(dbc dbctx.Context, userID uuid.UUID, jobType string, entityID uuid.UUID, payload map[string]any) (*types.JobRun, error) {
	if jobType == "" || entityID == uuid.Nil {
		return nil, fmt.Errorf("missing job_type or entity_id")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	row := &types.JobRun{
		ID:       uuid.New(),
		UserID:   userID,
		JobType:  jobType,
		EntityID: entityID,
		Status:   types.JobStatusPending,
		RunAfter: time.Now().UTC(),
		Payload:  datatypes.JSON(raw),
	}
	if err := r.handle(dbc).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *jobRunRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, staleRunning time.Duration) (*types.JobRun, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-staleRunning)

	var claimed types.JobRun
	err := r.handle(dbc).Raw(`
		UPDATE job_run SET
			status = 'running',
			attempt = attempt + 1,
			started_at = ?,
			updated_at = ?
		WHERE id = (
			SELECT id FROM job_run
			WHERE (
				(status = 'pending' AND run_after <= ?)
				OR (status = 'running' AND started_at < ?)
			)
			AND attempt < ?
			ORDER BY run_after ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`,
		now, now, now, staleBefore, maxAttempts,
	).Scan(&claimed).Error
	if err != nil {
		return nil, err
	}
	if claimed.ID == uuid.Nil {
		return nil, nil
	}
	return &claimed, nil
}

func (r *jobRunRepo) MarkDone(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	now := time.Now().UTC()
	return r.handle(dbc).
		Model(&types.JobRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       types.JobStatusDone,
			"completed_at": &now,
			"updated_at":   now,
		}).Error
}

func (r *jobRunRepo) MarkError(dbc dbctx.Context, id uuid.UUID, jobErr error, maxAttempts int, retryDelay time.Duration) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	now := time.Now().UTC()

	var row types.JobRun
	if err := r.handle(dbc).Where("id = ?", id).First(&row).Error; err != nil {
		return err
	}
	updates := map[string]interface{}{
		"last_error": msg,
		"updated_at": now,
	}
	if row.Attempt >= maxAttempts {
		updates["status"] = types.JobStatusError
		updates["completed_at"] = &now
	} else {
		updates["status"] = types.JobStatusPending
		updates["run_after"] = now.Add(retryDelay)
	}
	return r.handle(dbc).
		Model(&types.JobRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *jobRunRepo) HasRunnableForEntity(dbc dbctx.Context, jobType string, entityID uuid.UUID) (bool, error) {
	if jobType == "" || entityID == uuid.Nil {
		return false, fmt.Errorf("missing job_type or entity_id")
	}
	var count int64
	if err := r.handle(dbc).
		Model(&types.JobRun{}).
		Where("job_type = ? AND entity_id = ? AND status IN ?", jobType, entityID, []string{types.JobStatusPending, types.JobStatusRunning}).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
