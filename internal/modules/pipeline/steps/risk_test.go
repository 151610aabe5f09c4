package steps

import (
	"context"
	"testing"

	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
)

func TestClassifyRiskHeuristicHigh(t *testing.T) {
	got := ClassifyRisk(context.Background(), logger.NewNop(), nil, "交钱就能保证录取吗", "")
	if got != types.RiskLevelHigh {
		t.Fatalf("risk: want=%q got=%q", types.RiskLevelHigh, got)
	}
}

func TestClassifyRiskHeuristicMedium(t *testing.T) {
	got := ClassifyRisk(context.Background(), logger.NewNop(), nil, "今年计算机专业的分数线是多少", "")
	if got != types.RiskLevelMedium {
		t.Fatalf("risk: want=%q got=%q", types.RiskLevelMedium, got)
	}
}

func TestClassifyRiskHeuristicLow(t *testing.T) {
	got := ClassifyRisk(context.Background(), logger.NewNop(), nil, "校园里有哪些社团", "")
	if got != types.RiskLevelLow {
		t.Fatalf("risk: want=%q got=%q", types.RiskLevelLow, got)
	}
}

func TestClassifyRiskSensitiveHitFloorsMedium(t *testing.T) {
	got := ClassifyRisk(context.Background(), logger.NewNop(), nil, "校园里有哪些社团", types.SeverityWarn)
	if got != types.RiskLevelMedium {
		t.Fatalf("risk with warn hit: want=%q got=%q", types.RiskLevelMedium, got)
	}
}

func TestParseRiskLabel(t *testing.T) {
	cases := map[string]string{
		"high":                 types.RiskLevelHigh,
		" Medium\n":            types.RiskLevelMedium,
		"答案是 low 等级":           types.RiskLevelLow,
		"完全看不懂这个输出":            "",
		"HIGH risk definitely": types.RiskLevelHigh,
	}
	for in, want := range cases {
		if got := parseRiskLabel(in); got != want {
			t.Fatalf("parseRiskLabel(%q): want=%q got=%q", in, want, got)
		}
	}
}
