package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openadmit/counselor-backend/internal/http/middleware"
	"github.com/openadmit/counselor-backend/internal/http/response"
	"github.com/openadmit/counselor-backend/internal/modules/pipeline/steps"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
	"github.com/openadmit/counselor-backend/internal/realtime"
	"github.com/openadmit/counselor-backend/internal/realtime/bus"
	"github.com/openadmit/counselor-backend/internal/sse"
)

// TurnHandler runs conversation turns. Both endpoints drive the same
// pipeline; they differ only in the sink receiving the frames.
type TurnHandler struct {
	log  *logger.Logger
	deps steps.RespondDeps
	bus  bus.Bus
	hub  *sse.Hub
}

func NewTurnHandler(log *logger.Logger, deps steps.RespondDeps, frameBus bus.Bus, hub *sse.Hub) *TurnHandler {
	return &TurnHandler{
		log:  log.With("handler", "TurnHandler"),
		deps: deps,
		bus:  frameBus,
		hub:  hub,
	}
}

type turnReq struct {
	Question string `json:"question"`
}

// publishSink mirrors every frame onto the cross-instance bus so hub
// subscribers on any instance see the turn progress. The bus forwarder
// delivers published frames back to the local hub; without a bus the sink
// broadcasts to the hub directly so watchers still see the turn.
func (h *TurnHandler) publishSink(c *gin.Context, inner realtime.Sink) realtime.Sink {
	return realtime.SinkFunc(func(f realtime.Frame) {
		inner.Send(f)
		if h.bus != nil {
			if err := h.bus.Publish(c.Request.Context(), f); err != nil {
				h.log.Debug("bus publish failed", "error", err)
			}
			return
		}
		if h.hub != nil {
			h.hub.Broadcast(f)
		}
	})
}

// POST /api/conversations/:id/turns
func (h *TurnHandler) Run(c *gin.Context) {
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var req turnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	var (
		mu     sync.Mutex
		frames []realtime.Frame
	)
	collector := realtime.SinkFunc(func(f realtime.Frame) {
		mu.Lock()
		frames = append(frames, f)
		mu.Unlock()
	})

	out, err := steps.Respond(c.Request.Context(), h.deps, steps.RespondInput{
		UserID:         middleware.UserID(c),
		UserRole:       middleware.UserRole(c),
		ConversationID: convID,
		Question:       req.Question,
		Sink:           h.publishSink(c, collector),
	})
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"turn":   out,
		"frames": frames,
	})
}

// POST /api/conversations/:id/turns/stream
func (h *TurnHandler) Stream(c *gin.Context) {
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var req turnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.RespondError(c, http.StatusInternalServerError, "streaming_unsupported", fmt.Errorf("response writer cannot flush"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var mu sync.Mutex
	writer := realtime.SinkFunc(func(f realtime.Frame) {
		raw, err := json.Marshal(f)
		if err != nil {
			h.log.Warn("failed to marshal frame", "error", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintf(w, "event: %s\n", f.Type)
		_, _ = fmt.Fprintf(w, "data: %s\n\n", string(raw))
		flusher.Flush()
	})

	// Client disconnect cancels the request context, which propagates into
	// the pipeline and the upstream model call.
	_, err = steps.Respond(c.Request.Context(), h.deps, steps.RespondInput{
		UserID:         middleware.UserID(c),
		UserRole:       middleware.UserRole(c),
		ConversationID: convID,
		Question:       req.Question,
		Sink:           h.publishSink(c, writer),
	})
	if err != nil {
		// The pipeline already emitted an error frame when it could; this
		// covers failures before the first frame.
		h.log.Warn("streaming turn failed", "conversation_id", convID, "error", err)
	}
}
