package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
	MessageRoleSystem    = "system"

	MessageStatusSent      = "sent"
	MessageStatusStreaming = "streaming"
	MessageStatusDone      = "done"
	MessageStatusError     = "error"

	RiskLevelLow    = "low"
	RiskLevelMedium = "medium"
	RiskLevelHigh   = "high"
)

// Source is one citation attached to an assistant message. DocumentID is set
// for knowledge-base hits, URL for web hits; SourceType tells them apart so
// the client can render separate citation groups.
type Source struct {
	DocumentID string  `json:"document_id,omitempty"`
	URL        string  `json:"url,omitempty"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet,omitempty"`
	Score      float64 `json:"score"`
	SourceType string  `json:"source_type"` // "knowledge" | "web"
}

type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_message_conversation_seq,unique,priority:1" json:"conversation_id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Seq int64 `gorm:"column:seq;not null;index:idx_message_conversation_seq,unique,priority:2" json:"seq"`

	Role    string `gorm:"column:role;not null;index" json:"role"`
	Status  string `gorm:"column:status;not null;default:'sent';index" json:"status"`
	Content string `gorm:"column:content;type:text;not null;default:''" json:"content"`

	// ModelVersion is the provider instance that actually served the answer,
	// recorded as "<instance>:<model>". Empty for user messages and for
	// moderation short-circuits.
	ModelVersion string `gorm:"column:model_version" json:"model_version,omitempty"`
	RiskLevel    string `gorm:"column:risk_level" json:"risk_level,omitempty"`

	// ReviewPassed stays nil until the asynchronous fact review finishes.
	// Clients must treat nil as "pending", never as "failed".
	ReviewPassed *bool  `gorm:"column:review_passed" json:"review_passed"`
	ReviewNote   string `gorm:"column:review_note;type:text;not null;default:''" json:"review_note,omitempty"`

	// Sources holds the ordered []Source list as jsonb.
	Sources datatypes.JSON `gorm:"type:jsonb;column:sources;not null;default:'[]'" json:"sources"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Message) TableName() string { return "message" }
