package steps

import (
	"testing"

	types "github.com/openadmit/counselor-backend/internal/domain"
)

func wordGroup(name, severity string, enabled bool, words ...string) types.SensitiveWordGroup {
	g := types.SensitiveWordGroup{Name: name, Severity: severity, Enabled: enabled}
	for _, w := range words {
		g.Words = append(g.Words, types.SensitiveWord{Word: w})
	}
	return g
}

func TestEvaluateSensitiveClean(t *testing.T) {
	groups := []types.SensitiveWordGroup{
		wordGroup("politics", types.SeverityBlock, true, "敏感词A"),
	}
	v := EvaluateSensitive("请问今年的报名流程是什么", groups)
	if v.TopSeverity != "" {
		t.Fatalf("TopSeverity: want=%q got=%q", "", v.TopSeverity)
	}
	if len(v.Hits) != 0 {
		t.Fatalf("Hits: want=0 got=%d", len(v.Hits))
	}
	if v.Blocked() {
		t.Fatalf("Blocked: want=false got=true")
	}
}

func TestEvaluateSensitiveBlockWinsOverWarn(t *testing.T) {
	groups := []types.SensitiveWordGroup{
		wordGroup("mild", types.SeverityWarn, true, "内部"),
		wordGroup("hard", types.SeverityBlock, true, "内部指标"),
	}
	v := EvaluateSensitive("有没有内部指标可以操作", groups)
	if !v.Blocked() {
		t.Fatalf("Blocked: want=true got=false")
	}
	if v.TopSeverity != types.SeverityBlock {
		t.Fatalf("TopSeverity: want=%q got=%q", types.SeverityBlock, v.TopSeverity)
	}
	if len(v.Hits) != 2 {
		t.Fatalf("Hits: want=2 got=%d", len(v.Hits))
	}
}

func TestEvaluateSensitiveCaseInsensitive(t *testing.T) {
	groups := []types.SensitiveWordGroup{
		wordGroup("english", types.SeverityReview, true, "Bribe"),
	}
	v := EvaluateSensitive("can I BRIBE someone", groups)
	if v.TopSeverity != types.SeverityReview {
		t.Fatalf("TopSeverity: want=%q got=%q", types.SeverityReview, v.TopSeverity)
	}
}

func TestEvaluateSensitiveSkipsDisabledGroups(t *testing.T) {
	groups := []types.SensitiveWordGroup{
		wordGroup("off", types.SeverityBlock, false, "保证录取"),
	}
	v := EvaluateSensitive("能保证录取吗", groups)
	if len(v.Hits) != 0 {
		t.Fatalf("Hits: want=0 got=%d", len(v.Hits))
	}
}
