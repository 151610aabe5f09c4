package steps

import (
	"fmt"
	"strings"
	"unicode/utf8"

	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/platform/llm"
)

// PromptInput carries everything the assembler needs. Assembly is pure:
// identical input always yields identical messages in identical order.
type PromptInput struct {
	RolePrompt       string
	ToneDirective    string
	EmotionDirective string

	RiskLevel  string
	Restricted bool
	Degraded   bool

	Sources []types.Source

	History            []*types.Message
	HistoryTurns       int
	HistoryTokenBudget int

	Question string
}

const (
	restrictedDirective = "回答限制: 本问题属于高风险咨询。不得给出任何录取承诺或结果预测," +
		"只能转述官方已发布的信息,并在结尾提醒考生以招生办公室的正式答复为准。"
	citationDirective = "回答要求: 涉及分数、费用、名额、日期等具体数字时必须引用下方官方资料," +
		"资料中没有依据的数字一律不得给出,并说明无法确认。"
	degradedDirective = "注意: 当前无法访问知识库资料。不得引用任何具体数字或日期," +
		"并提醒考生以学校官方发布为准。"
)

// AssemblePrompt builds the chat messages in fixed order: role base prompt,
// tone, emotion, risk directives, context block as the system message, then
// bounded history oldest-first, then the current question.
func AssemblePrompt(in PromptInput) []llm.ChatMessage {
	var sys strings.Builder
	sys.WriteString(strings.TrimSpace(in.RolePrompt))

	appendSection := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			sys.WriteString("\n\n")
			sys.WriteString(s)
		}
	}

	appendSection(in.ToneDirective)
	appendSection(in.EmotionDirective)

	if in.Restricted {
		appendSection(restrictedDirective)
	} else if in.RiskLevel == types.RiskLevelMedium {
		appendSection(citationDirective)
	}
	if in.Degraded {
		appendSection(degradedDirective)
	}
	appendSection(contextBlock(in.Sources))

	messages := []llm.ChatMessage{{Role: llm.RoleSystem, Content: sys.String()}}
	messages = append(messages, boundedHistory(in.History, in.HistoryTurns, in.HistoryTokenBudget)...)
	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: in.Question})
	return messages
}

func contextBlock(sources []types.Source) string {
	if len(sources) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("官方参考资料:")
	for i, s := range sources {
		b.WriteString(fmt.Sprintf("\n[%d] %s", i+1, strings.TrimSpace(s.Title)))
		if snippet := strings.TrimSpace(s.Snippet); snippet != "" {
			b.WriteString("\n")
			b.WriteString(snippet)
		}
	}
	return b.String()
}

// boundedHistory keeps the most recent turns within the token budget and
// returns them oldest-first. Token counts are approximated by rune count,
// which over-counts CJK slightly and keeps the bound conservative.
func boundedHistory(history []*types.Message, maxTurns, tokenBudget int) []llm.ChatMessage {
	if maxTurns <= 0 || len(history) == 0 {
		return nil
	}
	maxMessages := maxTurns * 2

	var picked []llm.ChatMessage
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role != types.MessageRoleUser && m.Role != types.MessageRoleAssistant {
			continue
		}
		if m.Status == types.MessageStatusError || strings.TrimSpace(m.Content) == "" {
			continue
		}
		cost := utf8.RuneCountInString(m.Content)
		if len(picked) > 0 && (len(picked) >= maxMessages || used+cost > tokenBudget) {
			break
		}
		picked = append(picked, llm.ChatMessage{Role: m.Role, Content: m.Content})
		used += cost
		if len(picked) >= maxMessages {
			break
		}
	}

	// Reverse back to oldest-first.
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}
