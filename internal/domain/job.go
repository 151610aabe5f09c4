package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobTypeReviewMessage = "review_message"
	JobTypeTitleGenerate = "title_generate"

	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusError   = "error"
)

// JobRun is one claimable background job. The review worker polls this table;
// claiming uses SKIP LOCKED so concurrent workers never double-run a job.
type JobRun struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	JobType  string    `gorm:"column:job_type;not null;index" json:"job_type"`
	EntityID uuid.UUID `gorm:"type:uuid;not null;index" json:"entity_id"`

	Status    string         `gorm:"column:status;not null;default:'pending';index" json:"status"`
	Attempt   int            `gorm:"column:attempt;not null;default:0" json:"attempt"`
	RunAfter  time.Time      `gorm:"column:run_after;not null;default:now();index" json:"run_after"`
	Payload   datatypes.JSON `gorm:"type:jsonb;column:payload;not null;default:'{}'" json:"payload"`
	LastError string         `gorm:"column:last_error;type:text;not null;default:''" json:"last_error,omitempty"`

	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (JobRun) TableName() string { return "job_run" }
