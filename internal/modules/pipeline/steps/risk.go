package steps

import (
	"context"
	"strings"
	"time"

	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
	"github.com/openadmit/counselor-backend/internal/platform/llm"
)

// highRiskTerms covers questions that must never get a confident machine
// answer: admission promises, score-line commitments, money-for-admission,
// policy interpretation with legal weight.
var highRiskTerms = []string{
	"保证录取", "包录取", "肯定能上", "一定能录", "承诺录取",
	"内部指标", "点招", "交钱就能", "花钱录取", "保送名额",
	"分数线是多少就一定", "政策解读是否有法律效力", "违规", "作弊",
	"guaranteed admission", "pay for admission",
}

// mediumRiskTerms are answerable but only with citations: concrete numbers
// and dates the school publishes.
var mediumRiskTerms = []string{
	"分数线", "录取线", "学费", "奖学金金额", "招生计划", "名额",
	"截止日期", "报名时间", "录取率", "多少分",
	"tuition", "deadline", "cutoff", "quota",
}

func containsAny(lowered string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(lowered, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// heuristicRisk is the deterministic lexical pass.
func heuristicRisk(question string) string {
	lowered := strings.ToLower(question)
	if containsAny(lowered, highRiskTerms) {
		return types.RiskLevelHigh
	}
	if containsAny(lowered, mediumRiskTerms) {
		return types.RiskLevelMedium
	}
	return types.RiskLevelLow
}

const riskJudgePrompt = `你是高校招生问答系统的风险分类器。判断下面的考生问题属于哪个风险等级:
low: 一般咨询,可以自由回答。
medium: 涉及分数线、学费、名额等具体数字或日期,回答必须引用官方来源。
high: 涉及录取承诺、内部指标、政策法律效力等,不能给出确定答复。
只输出一个词: low、medium 或 high。`

// ClassifyRisk runs the lexical heuristic first, then optionally asks a
// cheap judge model to upgrade the verdict. The judge can only raise the
// level, never lower it, and any judge failure falls back to the heuristic.
// A warn or review sensitive hit floors the result at medium.
func ClassifyRisk(ctx context.Context, log *logger.Logger, judge llm.Provider, question, sensitiveSeverity string) string {
	level := heuristicRisk(question)

	if judge != nil && level != types.RiskLevelHigh {
		judgeCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
		out, err := judge.StreamChat(judgeCtx, llm.ChatRequest{
			Messages: []llm.ChatMessage{
				{Role: llm.RoleSystem, Content: riskJudgePrompt},
				{Role: llm.RoleUser, Content: question},
			},
			MaxTokens: 8,
		}, nil)
		cancel()
		if err != nil {
			log.Warn("risk judge unavailable, keeping heuristic verdict", "error", err)
		} else {
			switch parseRiskLabel(out) {
			case types.RiskLevelHigh:
				level = types.RiskLevelHigh
			case types.RiskLevelMedium:
				if level == types.RiskLevelLow {
					level = types.RiskLevelMedium
				}
			}
		}
	}

	if level == types.RiskLevelLow &&
		(sensitiveSeverity == types.SeverityWarn || sensitiveSeverity == types.SeverityReview) {
		level = types.RiskLevelMedium
	}
	return level
}

func parseRiskLabel(out string) string {
	lowered := strings.ToLower(strings.TrimSpace(out))
	switch {
	case strings.Contains(lowered, "high"):
		return types.RiskLevelHigh
	case strings.Contains(lowered, "medium"):
		return types.RiskLevelMedium
	case strings.Contains(lowered, "low"):
		return types.RiskLevelLow
	default:
		return ""
	}
}
