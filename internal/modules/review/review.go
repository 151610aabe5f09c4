// Package review implements the asynchronous post-answer steps: the fact
// review that judges a stored answer against its cited sources, and one-time
// conversation title generation. Both run from background jobs and never
// block a conversation turn.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openadmit/counselor-backend/internal/config"
	"github.com/openadmit/counselor-backend/internal/data/repos"
	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/modules/pipeline/router"
	"github.com/openadmit/counselor-backend/internal/pkg/dbctx"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
	"github.com/openadmit/counselor-backend/internal/platform/llm"
)

type Deps struct {
	Log *logger.Logger

	Conversations repos.ConversationRepo
	Messages      repos.MessageRepo

	Config *config.Loader
	Router *router.Router
}

const reviewSystemPrompt = `你是招生问答系统的事实审核员。给你一段智能助手的回答和它引用的官方资料。
判断回答中的事实性陈述(数字、日期、政策条件)是否与资料一致。
资料未覆盖的陈述视为不一致。回答中没有事实性陈述时判定为通过。
只输出一个 JSON 对象: {"passed": true或false, "note": "一句话说明"}`

type reviewVerdict struct {
	Passed bool   `json:"passed"`
	Note   string `json:"note"`
}

// ReviewMessage runs the fact review for one assistant message. An error
// return makes the job worker retry; after the final attempt the message's
// ReviewPassed simply stays nil, which clients render as "unreviewed".
// The outcome write is idempotent, so a duplicate run is harmless.
func ReviewMessage(ctx context.Context, deps Deps, messageID uuid.UUID) error {
	if deps.Messages == nil || deps.Config == nil || deps.Router == nil {
		return fmt.Errorf("review: missing deps")
	}
	dbc := dbctx.New(ctx)

	msg, err := deps.Messages.GetByID(dbc, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if msg.Role != types.MessageRoleAssistant || msg.Status != types.MessageStatusDone {
		return nil
	}
	if msg.ReviewPassed != nil {
		return nil
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}

	snap, err := deps.Config.Load(ctx)
	if err != nil {
		return fmt.Errorf("review: load config: %w", err)
	}
	group := snap.Group(types.ProviderGroupReview)
	if group == nil {
		return fmt.Errorf("review: no enabled review provider group")
	}

	var sources []types.Source
	if len(msg.Sources) > 0 {
		if err := json.Unmarshal(msg.Sources, &sources); err != nil {
			deps.Log.Warn("review: unreadable sources, reviewing without them",
				"message_id", msg.ID, "error", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	res, err := deps.Router.Complete(callCtx, group, llm.ChatRequest{
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: reviewSystemPrompt},
			{Role: llm.RoleUser, Content: renderReviewPayload(msg.Content, sources)},
		},
		MaxTokens: 256,
	})
	if err != nil {
		return fmt.Errorf("review: judge call: %w", err)
	}

	verdict, err := parseVerdict(res.Content)
	if err != nil {
		return fmt.Errorf("review: %w", err)
	}

	if err := deps.Messages.SetReviewOutcome(dbc, msg.ID, verdict.Passed, verdict.Note); err != nil {
		return fmt.Errorf("review: persist outcome: %w", err)
	}
	if !verdict.Passed {
		appendDisclaimer(deps, dbc, msg, snap.Policy.DisclaimerText)
	}
	deps.Log.Info("message reviewed",
		"message_id", msg.ID, "passed", verdict.Passed, "model_version", res.ModelVersion())
	return nil
}

func renderReviewPayload(answer string, sources []types.Source) string {
	var b strings.Builder
	b.WriteString("回答:\n")
	b.WriteString(answer)
	b.WriteString("\n\n引用资料:")
	if len(sources) == 0 {
		b.WriteString("\n(无)")
		return b.String()
	}
	for i, s := range sources {
		b.WriteString(fmt.Sprintf("\n[%d] %s", i+1, strings.TrimSpace(s.Title)))
		if snippet := strings.TrimSpace(s.Snippet); snippet != "" {
			b.WriteString("\n")
			b.WriteString(snippet)
		}
	}
	return b.String()
}

// parseVerdict pulls the first JSON object out of the judge output; models
// like to wrap their JSON in prose or code fences.
func parseVerdict(out string) (reviewVerdict, error) {
	var v reviewVerdict
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end <= start {
		return v, fmt.Errorf("no JSON verdict in judge output")
	}
	if err := json.Unmarshal([]byte(out[start:end+1]), &v); err != nil {
		return v, fmt.Errorf("decode judge verdict: %w", err)
	}
	return v, nil
}

func appendDisclaimer(deps Deps, dbc dbctx.Context, msg *types.Message, disclaimer string) {
	disclaimer = strings.TrimSpace(disclaimer)
	if disclaimer == "" || strings.HasSuffix(strings.TrimSpace(msg.Content), disclaimer) {
		return
	}
	if err := deps.Messages.UpdateFields(dbc, msg.ID, map[string]interface{}{
		"content": strings.TrimRight(msg.Content, "\n") + "\n" + disclaimer,
	}); err != nil {
		deps.Log.Error("failed to append review disclaimer", "message_id", msg.ID, "error", err)
	}
}
