package steps

import (
	"context"
	"testing"

	"github.com/openadmit/counselor-backend/internal/pkg/logger"
)

func TestDetectEmotionKeywordHit(t *testing.T) {
	got := DetectEmotion(context.Background(), logger.NewNop(), nil, "我很担心考不上,怎么办")
	if got != EmotionAnxious {
		t.Fatalf("emotion: want=%q got=%q", EmotionAnxious, got)
	}
}

func TestDetectEmotionNoJudgeDefaultsNone(t *testing.T) {
	got := DetectEmotion(context.Background(), logger.NewNop(), nil, "请问图书馆几点开门")
	if got != EmotionNone {
		t.Fatalf("emotion: want=%q got=%q", EmotionNone, got)
	}
}

func TestParseEmotionLabel(t *testing.T) {
	cases := map[string]string{
		"anxious":      EmotionAnxious,
		"  Confused ":  EmotionConfused,
		"none":         EmotionNone,
		"无法判断":         EmotionNone,
		"用户是 eager 的": EmotionEager,
	}
	for in, want := range cases {
		if got := parseEmotionLabel(in); got != want {
			t.Fatalf("parseEmotionLabel(%q): want=%q got=%q", in, want, got)
		}
	}
}

func TestEmotionDirectiveEmptyForNone(t *testing.T) {
	if got := EmotionDirective(EmotionNone); got != "" {
		t.Fatalf("directive for none: want=%q got=%q", "", got)
	}
	if got := EmotionDirective(EmotionAnxious); got == "" {
		t.Fatalf("directive for anxious: want non-empty")
	}
}
