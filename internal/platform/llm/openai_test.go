package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openadmit/counselor-backend/internal/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewOpenAIClient(logger.NewNop(), Config{
		Name:    "test",
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		Model:   "test-model",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return p
}

func TestStreamChatForwardsDeltas(t *testing.T) {
	p := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path: want=/v1/chat/completions got=%s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization: got=%q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"你\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"好\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive comment\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var deltas []string
	full, err := p.StreamChat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	}, func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}
	if full != "你好" {
		t.Fatalf("full content: want=%q got=%q", "你好", full)
	}
	if strings.Join(deltas, "|") != "你|好" {
		t.Fatalf("deltas: got=%v", deltas)
	}
}

func TestStreamChatToleratesUnknownFrames(t *testing.T) {
	p := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	full, err := p.StreamChat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	}, nil)
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}
	if full != "ok" {
		t.Fatalf("full content: want=%q got=%q", "ok", full)
	}
}

func TestStreamChatUpstreamErrorBecomesHTTPError(t *testing.T) {
	p := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "rate limited"}}`)
	})

	_, err := p.StreamChat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	}, nil)
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("want HTTPError, got %v", err)
	}
	if he.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status: want=429 got=%d", he.StatusCode)
	}
	if !IsTransient(err) {
		t.Fatalf("429 must be transient")
	}
}

func TestStreamChatMidStreamErrorKeepsPartial(t *testing.T) {
	p := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"部分\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"backend overloaded\"}}\n\n")
	})

	full, err := p.StreamChat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	}, nil)
	if err == nil {
		t.Fatalf("want mid-stream error")
	}
	if full != "部分" {
		t.Fatalf("partial content: want=%q got=%q", "部分", full)
	}
}

func TestEmbedOrdersByIndex(t *testing.T) {
	p := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path: want=/v1/embeddings got=%s", r.URL.Path)
		}
		// Out-of-order response data; the client must reorder by index.
		fmt.Fprint(w, `{"data":[
			{"index":1,"embedding":[0.4,0.5]},
			{"index":0,"embedding":[0.1,0.2]}
		]}`)
	})

	vectors, err := p.Embed(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("vectors: want=2 got=%d", len(vectors))
	}
	if vectors[0][0] != 0.1 || vectors[1][0] != 0.4 {
		t.Fatalf("vectors out of order: %v", vectors)
	}
}

func TestEmbedCountMismatchFails(t *testing.T) {
	p := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[0.1]}]}`)
	})

	if _, err := p.Embed(context.Background(), []string{"one", "two"}); err == nil {
		t.Fatalf("want count mismatch error")
	}
}

func TestNewOpenAIClientValidates(t *testing.T) {
	log := logger.NewNop()
	if _, err := NewOpenAIClient(log, Config{Model: "m"}); err == nil {
		t.Fatalf("missing base url must fail")
	}
	if _, err := NewOpenAIClient(log, Config{BaseURL: "http://x"}); err == nil {
		t.Fatalf("missing model must fail")
	}
}
