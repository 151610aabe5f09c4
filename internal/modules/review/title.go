package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/pkg/dbctx"
	"github.com/openadmit/counselor-backend/internal/platform/llm"
)

const titleSystemPrompt = `为下面这段招生咨询对话生成一个标题,不超过12个字,不要标点,不要引号,只输出标题本身。`

const maxTitleRunes = 24

// GenerateTitle summarizes the first exchange into a conversation title.
// Runs once per conversation; a second job for the same conversation is a
// no-op because TitleGenerated is checked both here and at enqueue time.
func GenerateTitle(ctx context.Context, deps Deps, conversationID uuid.UUID) error {
	if deps.Conversations == nil || deps.Messages == nil || deps.Config == nil || deps.Router == nil {
		return fmt.Errorf("title: missing deps")
	}
	dbc := dbctx.New(ctx)

	history, err := deps.Messages.ListRecent(dbc, conversationID, 4)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if len(history) == 0 {
		return nil
	}

	var firstQuestion string
	for _, m := range history {
		if m.Role == types.MessageRoleUser && strings.TrimSpace(m.Content) != "" {
			firstQuestion = m.Content
			break
		}
	}
	if firstQuestion == "" {
		return nil
	}

	snap, err := deps.Config.Load(ctx)
	if err != nil {
		return fmt.Errorf("title: load config: %w", err)
	}
	group := snap.Group(types.ProviderGroupReview)
	if group == nil {
		group = snap.Group(types.ProviderGroupPrimary)
	}
	if group == nil {
		return fmt.Errorf("title: no enabled provider group")
	}

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	res, err := deps.Router.Complete(callCtx, group, llm.ChatRequest{
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: titleSystemPrompt},
			{Role: llm.RoleUser, Content: firstQuestion},
		},
		MaxTokens: 32,
	})
	if err != nil {
		return fmt.Errorf("title: generate: %w", err)
	}

	title := cleanTitle(res.Content)
	if title == "" {
		return nil
	}
	return deps.Conversations.UpdateFields(dbc, conversationID, map[string]interface{}{
		"title":           title,
		"title_generated": true,
	})
}

func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, "\"'“”‘’《》")
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > maxTitleRunes {
		runes := []rune(title)
		title = string(runes[:maxTitleRunes])
	}
	return title
}
