package steps

import (
	"strings"
	"time"

	types "github.com/openadmit/counselor-backend/internal/domain"
)

// ActivePeriod returns the calendar period whose date range contains the
// given date. When several active ranges overlap, the most recently updated
// one wins. Returns nil outside every range.
func ActivePeriod(periods []types.CalendarPeriod, date time.Time) *types.CalendarPeriod {
	var best *types.CalendarPeriod
	for i := range periods {
		p := &periods[i]
		if !p.Active || !p.Contains(date) {
			continue
		}
		if best == nil || p.UpdatedAt.After(best.UpdatedAt) {
			best = p
		}
	}
	return best
}

const neutralToneDirective = "语气要求: 保持平和、专业、耐心的咨询语气。"

// ToneDirective renders the period's style configuration into one prompt
// directive line. Same period and date always yield the same directive.
func ToneDirective(p *types.CalendarPeriod) string {
	if p == nil {
		return neutralToneDirective
	}
	var b strings.Builder
	b.WriteString("语气要求: 当前处于")
	b.WriteString(p.Name)
	b.WriteString("阶段。")
	if kw := strings.TrimSpace(p.StyleKeywords); kw != "" {
		b.WriteString("回答风格: ")
		b.WriteString(kw)
		b.WriteString("。")
	}
	if topics := strings.TrimSpace(p.FocusTopics); topics != "" {
		b.WriteString("优先关注话题: ")
		b.WriteString(topics)
		b.WriteString("。")
	}
	return b.String()
}
