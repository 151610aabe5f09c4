package steps

import (
	"strings"
	"testing"
	"time"

	types "github.com/openadmit/counselor-backend/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestActivePeriodInclusiveBounds(t *testing.T) {
	periods := []types.CalendarPeriod{
		{
			Name:      "报名期",
			StartDate: day(2026, 6, 1),
			EndDate:   day(2026, 6, 30),
			Active:    true,
		},
	}
	for _, d := range []time.Time{day(2026, 6, 1), day(2026, 6, 15), day(2026, 6, 30)} {
		if got := ActivePeriod(periods, d); got == nil {
			t.Fatalf("ActivePeriod(%s): want=报名期 got=nil", d.Format("2006-01-02"))
		}
	}
	if got := ActivePeriod(periods, day(2026, 7, 1)); got != nil {
		t.Fatalf("ActivePeriod outside range: want=nil got=%q", got.Name)
	}
}

func TestActivePeriodOverlapMostRecentlyUpdatedWins(t *testing.T) {
	periods := []types.CalendarPeriod{
		{
			Name:      "老配置",
			StartDate: day(2026, 6, 1),
			EndDate:   day(2026, 7, 31),
			Active:    true,
			UpdatedAt: day(2026, 5, 1),
		},
		{
			Name:      "新配置",
			StartDate: day(2026, 6, 15),
			EndDate:   day(2026, 7, 15),
			Active:    true,
			UpdatedAt: day(2026, 6, 10),
		},
	}
	got := ActivePeriod(periods, day(2026, 6, 20))
	if got == nil || got.Name != "新配置" {
		t.Fatalf("overlap winner: want=新配置 got=%v", got)
	}
}

func TestActivePeriodSkipsInactive(t *testing.T) {
	periods := []types.CalendarPeriod{
		{Name: "停用", StartDate: day(2026, 6, 1), EndDate: day(2026, 6, 30), Active: false},
	}
	if got := ActivePeriod(periods, day(2026, 6, 10)); got != nil {
		t.Fatalf("inactive period: want=nil got=%q", got.Name)
	}
}

func TestToneDirectiveDeterministic(t *testing.T) {
	p := &types.CalendarPeriod{
		Name:          "录取季",
		StyleKeywords: "稳重,安抚",
		FocusTopics:   "录取查询,报到流程",
	}
	first := ToneDirective(p)
	second := ToneDirective(p)
	if first != second {
		t.Fatalf("directive not deterministic: first=%q second=%q", first, second)
	}
	if !strings.Contains(first, "录取季") || !strings.Contains(first, "稳重,安抚") {
		t.Fatalf("directive missing period config: got=%q", first)
	}
}

func TestToneDirectiveNeutralWithoutPeriod(t *testing.T) {
	if got := ToneDirective(nil); got != neutralToneDirective {
		t.Fatalf("neutral directive: want=%q got=%q", neutralToneDirective, got)
	}
}
