package steps

import (
	"context"
	"strings"
	"time"

	"github.com/openadmit/counselor-backend/internal/pkg/logger"
	"github.com/openadmit/counselor-backend/internal/platform/llm"
)

const (
	EmotionNone       = "none"
	EmotionAnxious    = "anxious"
	EmotionConfused   = "confused"
	EmotionFrustrated = "frustrated"
	EmotionEager      = "eager"
)

var emotionKeywords = map[string][]string{
	EmotionAnxious:    {"焦虑", "担心", "害怕", "怕", "着急", "紧张", "来不及", "怎么办", "睡不着", "压力"},
	EmotionConfused:   {"搞不懂", "不明白", "弄不清", "迷茫", "糊涂", "看不懂", "到底是什么意思"},
	EmotionFrustrated: {"烦死", "气死", "没人管", "投诉", "为什么还没", "一直打不通", "受不了"},
	EmotionEager:      {"特别想", "非常希望", "梦校", "一定要上", "盼着", "求"},
}

const emotionJudgePrompt = `识别下面考生或家长提问中的情绪,输出一个词:
anxious(焦虑)、confused(困惑)、frustrated(不满)、eager(渴望)、none(无明显情绪)。
只输出这个词。`

// DetectEmotion runs a keyword pass first and only consults the judge model
// when the keywords say nothing. Any failure degrades silently to "none";
// emotion colors the tone, it never gates the answer.
func DetectEmotion(ctx context.Context, log *logger.Logger, judge llm.Provider, question string) string {
	lowered := strings.ToLower(question)
	for _, emotion := range []string{EmotionAnxious, EmotionFrustrated, EmotionConfused, EmotionEager} {
		if containsAny(lowered, emotionKeywords[emotion]) {
			return emotion
		}
	}

	if judge == nil {
		return EmotionNone
	}
	judgeCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	out, err := judge.StreamChat(judgeCtx, llm.ChatRequest{
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: emotionJudgePrompt},
			{Role: llm.RoleUser, Content: question},
		},
		MaxTokens: 8,
	}, nil)
	if err != nil {
		log.Debug("emotion judge unavailable", "error", err)
		return EmotionNone
	}
	return parseEmotionLabel(out)
}

func parseEmotionLabel(out string) string {
	lowered := strings.ToLower(strings.TrimSpace(out))
	for _, emotion := range []string{EmotionAnxious, EmotionConfused, EmotionFrustrated, EmotionEager} {
		if strings.Contains(lowered, emotion) {
			return emotion
		}
	}
	return EmotionNone
}

// EmotionDirective maps a detected emotion to a prompt directive.
func EmotionDirective(emotion string) string {
	switch emotion {
	case EmotionAnxious:
		return "情绪提示: 提问者比较焦虑,先安抚再作答,给出明确可执行的下一步。"
	case EmotionConfused:
		return "情绪提示: 提问者对流程感到困惑,用分步列表解释,避免术语。"
	case EmotionFrustrated:
		return "情绪提示: 提问者有不满情绪,先表达理解,再给出解决途径。"
	case EmotionEager:
		return "情绪提示: 提问者意愿强烈,肯定其积极性,同时客观说明条件与不确定性。"
	default:
		return ""
	}
}
