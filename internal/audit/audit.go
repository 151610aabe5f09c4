// Package audit writes the append-only per-turn audit trail. Audit failures
// are logged and swallowed; they never fail the turn itself.
package audit

import (
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/openadmit/counselor-backend/internal/data/repos"
	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/pkg/dbctx"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
)

type Emitter struct {
	log  *logger.Logger
	repo repos.AuditRepo
}

func NewEmitter(log *logger.Logger, repo repos.AuditRepo) *Emitter {
	return &Emitter{log: log.With("component", "AuditEmitter"), repo: repo}
}

// Event is the per-turn record before marshaling.
type Event struct {
	UserID         uuid.UUID
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	RiskLevel      string
	SensitiveHits  any
	ModelVersion   string
	Outcome        string
}

func (e *Emitter) Emit(dbc dbctx.Context, ev Event) {
	hits := datatypes.JSON([]byte("[]"))
	if ev.SensitiveHits != nil {
		if raw, err := json.Marshal(ev.SensitiveHits); err == nil {
			hits = datatypes.JSON(raw)
		}
	}
	row := &types.AuditEvent{
		UserID:         ev.UserID,
		ConversationID: ev.ConversationID,
		MessageID:      ev.MessageID,
		RiskLevel:      ev.RiskLevel,
		SensitiveHits:  hits,
		ModelVersion:   ev.ModelVersion,
		Outcome:        ev.Outcome,
	}
	if err := e.repo.Create(dbc, row); err != nil {
		e.log.Error("failed to write audit event",
			"conversation_id", ev.ConversationID,
			"outcome", ev.Outcome,
			"error", err,
		)
	}
}
