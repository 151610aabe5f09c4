package config

import (
	"context"
	"strings"
	"sync"
	"time"

	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/data/repos"
	"github.com/openadmit/counselor-backend/internal/pkg/dbctx"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
	"github.com/openadmit/counselor-backend/internal/platform/envutil"
)

// Policy holds the tunable pipeline constants. They are policy knobs, not
// invariants, so everything is configurable.
type Policy struct {
	TopK               int
	ConfidenceFloor    float64
	DisambigCount      int
	HistoryTurns       int
	HistoryTokenBudget int
	WebSearchEnabled   bool

	// StaleStreamAfter bounds how long a streaming assistant row can block a
	// conversation. A turn that crashed before reaching a terminal status is
	// reclaimed past this age, same as the worker's stale running jobs.
	StaleStreamAfter time.Duration

	RefusalText    string
	RedirectText   string
	DisclaimerText string
}

func PolicyFromEnv() Policy {
	return Policy{
		TopK:               envutil.Int("PIPELINE_TOP_K", 5),
		ConfidenceFloor:    envutil.Float("PIPELINE_CONFIDENCE_FLOOR", 0.55),
		DisambigCount:      envutil.Int("PIPELINE_DISAMBIG_COUNT", 3),
		HistoryTurns:       envutil.Int("PIPELINE_HISTORY_TURNS", 6),
		HistoryTokenBudget: envutil.Int("PIPELINE_HISTORY_TOKEN_BUDGET", 2000),
		WebSearchEnabled:   envutil.Bool("PIPELINE_WEB_SEARCH_ENABLED", false),
		StaleStreamAfter:   envutil.Duration("PIPELINE_STALE_STREAM_SECONDS", 10*time.Minute),
		RefusalText: envutil.Str("PIPELINE_REFUSAL_TEXT",
			"抱歉,您的问题涉及不适宜讨论的内容,无法回答。如需帮助请联系招生办公室。"),
		RedirectText: envutil.Str("PIPELINE_REDIRECT_TEXT",
			"这个问题比较重要,建议直接联系招生办公室获取权威答复,电话与邮箱见学校招生网站。"),
		DisclaimerText: envutil.Str("PIPELINE_DISCLAIMER_TEXT",
			"(以上内容仅供参考,请以招生办公室官方答复为准。)"),
	}
}

// Snapshot is the immutable view of the admin-curated configuration a turn
// runs against. The router and filters never re-read shared state mid-turn,
// so an admin edit can never switch providers or word sets under a stream.
type Snapshot struct {
	LoadedAt time.Time

	ProviderGroups  []types.ProviderGroup
	SensitiveGroups []types.SensitiveWordGroup
	CalendarPeriods []types.CalendarPeriod

	Policy Policy
}

// Group returns the enabled provider group of the given kind, or nil.
func (s *Snapshot) Group(kind string) *types.ProviderGroup {
	if s == nil {
		return nil
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	for i := range s.ProviderGroups {
		if strings.EqualFold(s.ProviderGroups[i].Kind, kind) {
			return &s.ProviderGroups[i]
		}
	}
	return nil
}

// Loader caches snapshots with a TTL. The cache also expires on a calendar
// day boundary so a tone period change is never missed for longer than one
// interval.
type Loader struct {
	log    *logger.Logger
	policy repos.PolicyRepo
	ttl    time.Duration

	mu        sync.Mutex
	cached    *Snapshot
	loadedDay string
}

func NewLoader(log *logger.Logger, policy repos.PolicyRepo) *Loader {
	return &Loader{
		log:    log.With("component", "ConfigLoader"),
		policy: policy,
		ttl:    envutil.Duration("CONFIG_CACHE_TTL_SECONDS", 30*time.Second),
	}
}

func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	now := time.Now().UTC()
	day := now.Format("2006-01-02")

	l.mu.Lock()
	if l.cached != nil && now.Sub(l.cached.LoadedAt) < l.ttl && l.loadedDay == day {
		snap := l.cached
		l.mu.Unlock()
		return snap, nil
	}
	l.mu.Unlock()

	dbc := dbctx.New(ctx)
	groups, err := l.policy.ProviderGroups(dbc)
	if err != nil {
		return nil, err
	}
	sensitive, err := l.policy.SensitiveGroups(dbc)
	if err != nil {
		return nil, err
	}
	periods, err := l.policy.CalendarPeriods(dbc)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		LoadedAt:        now,
		ProviderGroups:  groups,
		SensitiveGroups: sensitive,
		CalendarPeriods: periods,
		Policy:          PolicyFromEnv(),
	}

	l.mu.Lock()
	l.cached = snap
	l.loadedDay = day
	l.mu.Unlock()

	l.log.Debug("config snapshot refreshed",
		"provider_groups", len(groups),
		"sensitive_groups", len(sensitive),
		"calendar_periods", len(periods),
	)
	return snap, nil
}
