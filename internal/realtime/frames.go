package realtime

import (
	"github.com/google/uuid"
)

// FrameType enumerates the frame kinds carried on a turn stream.
type FrameType string

const (
	FrameToken          FrameType = "token"
	FrameToolStatus     FrameType = "tool_status"
	FrameDone           FrameType = "done"
	FrameError          FrameType = "error"
	FrameSensitiveBlock FrameType = "sensitive_block"
	FrameHighRisk       FrameType = "high_risk"
)

// Frame is one event on a turn stream. Channel scopes hub/bus fan-out to the
// conversation the turn belongs to.
type Frame struct {
	Channel string    `json:"channel"`
	Type    FrameType `json:"type"`
	Data    any       `json:"data,omitempty"`
}

// ConversationChannel names the fan-out channel for a conversation.
func ConversationChannel(id uuid.UUID) string {
	return "conversation:" + id.String()
}

// Sink receives pipeline frames. The streaming handler backs it with an SSE
// writer; the synchronous handler collects frames into the response payload.
type Sink interface {
	Send(f Frame)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(f Frame)

func (fn SinkFunc) Send(f Frame) { fn(f) }
