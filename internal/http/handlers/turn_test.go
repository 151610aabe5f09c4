package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openadmit/counselor-backend/internal/modules/pipeline/steps"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
	"github.com/openadmit/counselor-backend/internal/realtime"
	"github.com/openadmit/counselor-backend/internal/sse"
)

type recordingBus struct {
	frames []realtime.Frame
}

func (b *recordingBus) Publish(_ context.Context, f realtime.Frame) error {
	b.frames = append(b.frames, f)
	return nil
}

func (b *recordingBus) StartForwarder(context.Context, func(realtime.Frame)) error { return nil }
func (b *recordingBus) Close() error                                              { return nil }

func testGinContext(t *testing.T) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req, err := http.NewRequest(http.MethodPost, "/api/conversations/x/turns", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	c.Request = req
	return c
}

func TestPublishSinkBroadcastsLocallyWithoutBus(t *testing.T) {
	log := logger.NewNop()
	hub := sse.NewHub(log)
	convID := uuid.New()
	channel := realtime.ConversationChannel(convID)

	watcher := hub.NewClient(uuid.New())
	hub.AddChannel(watcher, channel)

	h := NewTurnHandler(log, steps.RespondDeps{}, nil, hub)

	var passedThrough []realtime.Frame
	inner := realtime.SinkFunc(func(f realtime.Frame) {
		passedThrough = append(passedThrough, f)
	})

	frame := realtime.Frame{Channel: channel, Type: realtime.FrameToken, Data: map[string]any{"delta": "你好"}}
	h.publishSink(testGinContext(t), inner).Send(frame)

	if len(passedThrough) != 1 {
		t.Fatalf("inner sink frames: want=1 got=%d", len(passedThrough))
	}
	select {
	case got := <-watcher.Outbound:
		if got.Type != realtime.FrameToken {
			t.Fatalf("watcher frame type: want=%q got=%q", realtime.FrameToken, got.Type)
		}
	default:
		t.Fatalf("watcher must receive the frame when no bus is configured")
	}
}

func TestPublishSinkUsesBusWhenConfigured(t *testing.T) {
	log := logger.NewNop()
	hub := sse.NewHub(log)
	convID := uuid.New()
	channel := realtime.ConversationChannel(convID)

	watcher := hub.NewClient(uuid.New())
	hub.AddChannel(watcher, channel)

	rb := &recordingBus{}
	h := NewTurnHandler(log, steps.RespondDeps{}, rb, hub)

	frame := realtime.Frame{Channel: channel, Type: realtime.FrameDone}
	h.publishSink(testGinContext(t), realtime.SinkFunc(func(realtime.Frame) {})).Send(frame)

	if len(rb.frames) != 1 {
		t.Fatalf("bus frames: want=1 got=%d", len(rb.frames))
	}
	// The forwarder, not the sink, delivers bus frames to the hub; the sink
	// must not double-deliver.
	select {
	case <-watcher.Outbound:
		t.Fatalf("sink must not broadcast directly when a bus is configured")
	default:
	}
}
