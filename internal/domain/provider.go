package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ProviderGroupPrimary = "primary"
	ProviderGroupReview  = "review"

	StrategyRoundRobin = "round_robin"
	StrategyWeighted   = "weighted"
	StrategyFailover   = "failover"
)

// ProviderGroup is a named pool of interchangeable LLM backends. Admin-mutable
// at any time; the pipeline reads an immutable snapshot per turn.
type ProviderGroup struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name     string    `gorm:"column:name;not null" json:"name"`
	Kind     string    `gorm:"column:kind;not null;index" json:"kind"` // primary | review
	Strategy string    `gorm:"column:strategy;not null;default:'failover'" json:"strategy"`
	Enabled  bool      `gorm:"column:enabled;not null;default:true;index" json:"enabled"`

	Instances []ProviderInstance `gorm:"foreignKey:GroupID" json:"instances,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ProviderGroup) TableName() string { return "provider_group" }

// ProviderInstance binds an endpoint + credential to a model name with
// per-instance load-balancing and generation parameters.
type ProviderInstance struct {
	ID      uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GroupID uuid.UUID `gorm:"type:uuid;not null;index" json:"group_id"`

	Name    string `gorm:"column:name;not null" json:"name"`
	BaseURL string `gorm:"column:base_url;not null" json:"base_url"`
	APIKey  string `gorm:"column:api_key;not null" json:"-"`
	Model   string `gorm:"column:model;not null" json:"model"`

	Weight   int `gorm:"column:weight;not null;default:1" json:"weight"`
	Priority int `gorm:"column:priority;not null;default:0" json:"priority"`

	MaxTokens   int      `gorm:"column:max_tokens;not null;default:0" json:"max_tokens"`
	Temperature *float64 `gorm:"column:temperature" json:"temperature,omitempty"`

	Enabled bool `gorm:"column:enabled;not null;default:true;index" json:"enabled"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ProviderInstance) TableName() string { return "provider_instance" }
