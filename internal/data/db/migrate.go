package db

import (
	types "github.com/openadmit/counselor-backend/internal/domain"
	"gorm.io/gorm"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// Conversation core
		&types.Conversation{},
		&types.Message{},

		// Knowledge (read-only to the pipeline)
		&types.KnowledgeBase{},
		&types.KnowledgeDocument{},
		&types.KnowledgeChunk{},

		// Admin policy configuration
		&types.ProviderGroup{},
		&types.ProviderInstance{},
		&types.SensitiveWordGroup{},
		&types.SensitiveWord{},
		&types.CalendarPeriod{},

		// Audit + background jobs
		&types.AuditEvent{},
		&types.JobRun{},
	)
}
