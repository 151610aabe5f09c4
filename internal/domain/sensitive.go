package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SeverityBlock  = "block"
	SeverityReview = "review"
	SeverityWarn   = "warn"
)

type SensitiveWordGroup struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name     string    `gorm:"column:name;not null" json:"name"`
	Severity string    `gorm:"column:severity;not null;index" json:"severity"` // block | review | warn
	Enabled  bool      `gorm:"column:enabled;not null;default:true;index" json:"enabled"`

	Words []SensitiveWord `gorm:"foreignKey:GroupID" json:"words,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (SensitiveWordGroup) TableName() string { return "sensitive_word_group" }

type SensitiveWord struct {
	ID      uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GroupID uuid.UUID `gorm:"type:uuid;not null;index" json:"group_id"`
	Word    string    `gorm:"column:word;not null" json:"word"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (SensitiveWord) TableName() string { return "sensitive_word" }
