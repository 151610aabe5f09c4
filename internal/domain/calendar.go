package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CalendarPeriod maps a date range in the admission calendar to a tone
// configuration. When two active ranges overlap, the most recently updated
// period wins.
type CalendarPeriod struct {
	ID   uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name string    `gorm:"column:name;not null" json:"name"`

	StartDate time.Time `gorm:"column:start_date;not null;index" json:"start_date"`
	EndDate   time.Time `gorm:"column:end_date;not null;index" json:"end_date"`

	StyleKeywords string `gorm:"column:style_keywords;type:text;not null;default:''" json:"style_keywords"`
	FocusTopics   string `gorm:"column:focus_topics;type:text;not null;default:''" json:"focus_topics"`

	Active bool `gorm:"column:active;not null;default:true;index" json:"active"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (CalendarPeriod) TableName() string { return "calendar_period" }

// Contains reports whether d falls inside the period's date range, inclusive
// on both ends. Comparison is by calendar day in d's location.
func (p CalendarPeriod) Contains(d time.Time) bool {
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	start := time.Date(p.StartDate.Year(), p.StartDate.Month(), p.StartDate.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(p.EndDate.Year(), p.EndDate.Month(), p.EndDate.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(start) && !day.After(end)
}
