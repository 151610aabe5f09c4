package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openadmit/counselor-backend/internal/data/repos"
	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/http/middleware"
	"github.com/openadmit/counselor-backend/internal/http/response"
	"github.com/openadmit/counselor-backend/internal/pkg/dbctx"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
)

type ConversationHandler struct {
	log           *logger.Logger
	conversations repos.ConversationRepo
	messages      repos.MessageRepo
}

func NewConversationHandler(log *logger.Logger, conversations repos.ConversationRepo, messages repos.MessageRepo) *ConversationHandler {
	return &ConversationHandler{
		log:           log.With("handler", "ConversationHandler"),
		conversations: conversations,
		messages:      messages,
	}
}

type createConversationReq struct {
	Title string `json:"title"`
}

// POST /api/conversations
func (h *ConversationHandler) Create(c *gin.Context) {
	var req createConversationReq
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	row := &types.Conversation{UserID: middleware.UserID(c)}
	if title := strings.TrimSpace(req.Title); title != "" {
		row.Title = title
		row.TitleGenerated = true
	}
	dbc := dbctx.New(c.Request.Context())
	conv, err := h.conversations.Create(dbc, row)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "create_conversation_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"conversation": conv})
}

// GET /api/conversations?limit=50
func (h *ConversationHandler) List(c *gin.Context) {
	limit := 50
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	dbc := dbctx.New(c.Request.Context())
	conversations, err := h.conversations.List(dbc, middleware.UserID(c), limit)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "list_conversations_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"conversations": conversations})
}

// GET /api/conversations/:id
func (h *ConversationHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	dbc := dbctx.New(c.Request.Context())
	conv, err := h.conversations.GetByID(dbc, middleware.UserID(c), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.RespondError(c, http.StatusNotFound, "conversation_not_found", err)
			return
		}
		response.RespondError(c, http.StatusBadRequest, "get_conversation_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"conversation": conv})
}

type updateConversationReq struct {
	Title  *string `json:"title"`
	Pinned *bool   `json:"pinned"`
}

// PATCH /api/conversations/:id
func (h *ConversationHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var req updateConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.New(c.Request.Context())
	if _, err := h.conversations.GetByID(dbc, middleware.UserID(c), id); err != nil {
		response.RespondError(c, http.StatusNotFound, "conversation_not_found", err)
		return
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			response.RespondError(c, http.StatusBadRequest, "empty_title", errors.New("title must not be empty"))
			return
		}
		updates["title"] = title
		// A manual rename wins over auto-generation for good.
		updates["title_generated"] = true
	}
	if req.Pinned != nil {
		updates["pinned"] = *req.Pinned
	}
	if len(updates) == 0 {
		response.RespondError(c, http.StatusBadRequest, "empty_update", errors.New("nothing to update"))
		return
	}
	if err := h.conversations.UpdateFields(dbc, id, updates); err != nil {
		response.RespondError(c, http.StatusBadRequest, "update_conversation_failed", err)
		return
	}
	conv, err := h.conversations.GetByID(dbc, middleware.UserID(c), id)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "get_conversation_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"conversation": conv})
}

// DELETE /api/conversations/:id
func (h *ConversationHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	dbc := dbctx.New(c.Request.Context())
	if err := h.conversations.SoftDelete(dbc, middleware.UserID(c), id); err != nil {
		response.RespondError(c, http.StatusBadRequest, "delete_conversation_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": true})
}

// GET /api/conversations/:id/messages?limit=50&before_seq=123
func (h *ConversationHandler) Messages(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	dbc := dbctx.New(c.Request.Context())
	if _, err := h.conversations.GetByID(dbc, middleware.UserID(c), id); err != nil {
		response.RespondError(c, http.StatusNotFound, "conversation_not_found", err)
		return
	}

	limit := 50
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var beforeSeq *int64
	if v := strings.TrimSpace(c.Query("before_seq")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			beforeSeq = &n
		}
	}
	messages, err := h.messages.ListByConversation(dbc, id, limit, beforeSeq)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "list_messages_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"messages": messages})
}
