package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	AuditOutcomeAnswered   = "answered"
	AuditOutcomeBlocked    = "blocked"
	AuditOutcomeRedirected = "redirected"
	AuditOutcomeError      = "error"
)

// AuditEvent records one row per conversation turn. Append-only.
type AuditEvent struct {
	ID             uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index" json:"conversation_id"`
	MessageID      uuid.UUID `gorm:"type:uuid;index" json:"message_id"`

	RiskLevel     string         `gorm:"column:risk_level" json:"risk_level,omitempty"`
	SensitiveHits datatypes.JSON `gorm:"type:jsonb;column:sensitive_hits;not null;default:'[]'" json:"sensitive_hits"`
	ModelVersion  string         `gorm:"column:model_version" json:"model_version,omitempty"`
	Outcome       string         `gorm:"column:outcome;not null;index" json:"outcome"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (AuditEvent) TableName() string { return "audit_event" }
