package steps

import (
	"strings"

	types "github.com/openadmit/counselor-backend/internal/domain"
)

// SensitiveHit is one matched word, kept for the audit trail.
type SensitiveHit struct {
	Group    string `json:"group"`
	Severity string `json:"severity"`
	Word     string `json:"word"`
}

// SensitiveVerdict summarizes the filter outcome for a question.
type SensitiveVerdict struct {
	Hits        []SensitiveHit
	TopSeverity string // "" when clean
}

func (v SensitiveVerdict) Blocked() bool {
	return v.TopSeverity == types.SeverityBlock
}

func severityRank(s string) int {
	switch s {
	case types.SeverityBlock:
		return 3
	case types.SeverityReview:
		return 2
	case types.SeverityWarn:
		return 1
	default:
		return 0
	}
}

// EvaluateSensitive matches the question against every enabled word group,
// case-insensitively. All hits are collected; the strongest severity decides
// the outcome (block > review > warn).
func EvaluateSensitive(question string, groups []types.SensitiveWordGroup) SensitiveVerdict {
	lowered := strings.ToLower(question)
	verdict := SensitiveVerdict{Hits: []SensitiveHit{}}
	if strings.TrimSpace(lowered) == "" {
		return verdict
	}

	for _, g := range groups {
		if !g.Enabled {
			continue
		}
		for _, w := range g.Words {
			word := strings.ToLower(strings.TrimSpace(w.Word))
			if word == "" {
				continue
			}
			if !strings.Contains(lowered, word) {
				continue
			}
			verdict.Hits = append(verdict.Hits, SensitiveHit{
				Group:    g.Name,
				Severity: g.Severity,
				Word:     w.Word,
			})
			if severityRank(g.Severity) > severityRank(verdict.TopSeverity) {
				verdict.TopSeverity = g.Severity
			}
		}
	}
	return verdict
}
