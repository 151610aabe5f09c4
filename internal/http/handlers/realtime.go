package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openadmit/counselor-backend/internal/data/repos"
	"github.com/openadmit/counselor-backend/internal/http/middleware"
	"github.com/openadmit/counselor-backend/internal/http/response"
	"github.com/openadmit/counselor-backend/internal/pkg/dbctx"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
	"github.com/openadmit/counselor-backend/internal/realtime"
	"github.com/openadmit/counselor-backend/internal/sse"
)

// RealtimeHandler serves the long-lived event stream used to watch a
// conversation from another tab or device while a turn runs elsewhere.
type RealtimeHandler struct {
	log           *logger.Logger
	hub           *sse.Hub
	conversations repos.ConversationRepo
}

func NewRealtimeHandler(log *logger.Logger, hub *sse.Hub, conversations repos.ConversationRepo) *RealtimeHandler {
	return &RealtimeHandler{
		log:           log.With("handler", "RealtimeHandler"),
		hub:           hub,
		conversations: conversations,
	}
}

// GET /api/stream?conversation_id=...
func (h *RealtimeHandler) Stream(c *gin.Context) {
	convID, err := uuid.Parse(c.Query("conversation_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}
	userID := middleware.UserID(c)

	// Only the owner may watch a conversation's frames.
	dbc := dbctx.New(c.Request.Context())
	if _, err := h.conversations.GetByID(dbc, userID, convID); err != nil {
		response.RespondError(c, http.StatusNotFound, "conversation_not_found", err)
		return
	}

	client := h.hub.NewClient(userID)
	h.hub.AddChannel(client, realtime.ConversationChannel(convID))
	defer h.hub.CloseClient(client)

	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
