package realtime

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestConversationChannel(t *testing.T) {
	id := uuid.MustParse("3e9c1b52-8f47-4a7e-9a3d-0c2f6f9a1b2c")
	want := "conversation:3e9c1b52-8f47-4a7e-9a3d-0c2f6f9a1b2c"
	if got := ConversationChannel(id); got != want {
		t.Fatalf("channel: want=%q got=%q", want, got)
	}
}

func TestFrameMarshalOmitsEmptyData(t *testing.T) {
	raw, err := json.Marshal(Frame{Channel: "conversation:x", Type: FrameDone})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"channel":"conversation:x","type":"done"}`
	if string(raw) != want {
		t.Fatalf("frame json: want=%s got=%s", want, raw)
	}
}

func TestFrameMarshalCarriesData(t *testing.T) {
	raw, err := json.Marshal(Frame{
		Channel: "conversation:x",
		Type:    FrameToken,
		Data:    map[string]any{"delta": "你好"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back struct {
		Channel string         `json:"channel"`
		Type    string         `json:"type"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Type != "token" || back.Data["delta"] != "你好" {
		t.Fatalf("round trip: got=%+v", back)
	}
}

func TestSinkFuncForwards(t *testing.T) {
	var got []Frame
	sink := SinkFunc(func(f Frame) { got = append(got, f) })
	sink.Send(Frame{Type: FrameToken})
	sink.Send(Frame{Type: FrameDone})
	if len(got) != 2 || got[0].Type != FrameToken || got[1].Type != FrameDone {
		t.Fatalf("forwarded frames: got=%+v", got)
	}
}
