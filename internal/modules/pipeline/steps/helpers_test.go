package steps

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/openadmit/counselor-backend/internal/config"
	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/pkg/dbctx"
	"github.com/openadmit/counselor-backend/internal/platform/llm"
	"github.com/openadmit/counselor-backend/internal/realtime"
)

func policyForTest() config.Policy {
	return config.PolicyFromEnv()
}

func dbctxForTest() dbctx.Context {
	return dbctx.New(context.Background())
}

// newTestDB opens a per-test in-memory database with hand-written schema.
// The production schema leans on Postgres defaults, so tests create their
// own tables and rows always carry explicit ids.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	ddl := []string{
		`CREATE TABLE conversation (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '新对话',
			title_generated INTEGER NOT NULL DEFAULT 0,
			pinned INTEGER NOT NULL DEFAULT 0,
			next_seq INTEGER NOT NULL DEFAULT 0,
			last_message_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME,
			deleted_at DATETIME
		)`,
		`CREATE TABLE message (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'sent',
			content TEXT NOT NULL DEFAULT '',
			model_version TEXT,
			risk_level TEXT,
			review_passed INTEGER,
			review_note TEXT NOT NULL DEFAULT '',
			sources TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME,
			updated_at DATETIME,
			deleted_at DATETIME,
			UNIQUE (conversation_id, seq)
		)`,
		`CREATE TABLE job_run (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			job_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempt INTEGER NOT NULL DEFAULT 0,
			run_after DATETIME,
			payload TEXT NOT NULL DEFAULT '{}',
			last_error TEXT NOT NULL DEFAULT '',
			started_at DATETIME,
			completed_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE audit_event (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			message_id TEXT,
			risk_level TEXT,
			sensitive_hits TEXT NOT NULL DEFAULT '[]',
			model_version TEXT,
			outcome TEXT NOT NULL,
			created_at DATETIME
		)`,
	}
	for _, stmt := range ddl {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return db
}

// fakePolicyRepo serves a fixed admin configuration.
type fakePolicyRepo struct {
	groups    []types.ProviderGroup
	sensitive []types.SensitiveWordGroup
	periods   []types.CalendarPeriod
	calls     int
}

func (f *fakePolicyRepo) ProviderGroups(dbctx.Context) ([]types.ProviderGroup, error) {
	f.calls++
	return f.groups, nil
}

func (f *fakePolicyRepo) SensitiveGroups(dbctx.Context) ([]types.SensitiveWordGroup, error) {
	return f.sensitive, nil
}

func (f *fakePolicyRepo) CalendarPeriods(dbctx.Context) ([]types.CalendarPeriod, error) {
	return f.periods, nil
}

// fakeProvider lets each test script the upstream model.
type fakeProvider struct {
	name   string
	model  string
	stream func(ctx context.Context, req llm.ChatRequest, onDelta func(string)) (string, error)
}

func (p *fakeProvider) StreamChat(ctx context.Context, req llm.ChatRequest, onDelta func(string)) (string, error) {
	return p.stream(ctx, req, onDelta)
}

func (p *fakeProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("fake provider has no embeddings")
}

func (p *fakeProvider) Name() string  { return p.name }
func (p *fakeProvider) Model() string { return p.model }

// frameCollector is the synchronous sink used by tests.
type frameCollector struct {
	mu     sync.Mutex
	frames []realtime.Frame
}

func (c *frameCollector) Send(f realtime.Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
}

func (c *frameCollector) byType(t realtime.FrameType) []realtime.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []realtime.Frame
	for _, f := range c.frames {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func primaryGroup(strategy string, instances ...types.ProviderInstance) types.ProviderGroup {
	return types.ProviderGroup{
		ID:        uuid.New(),
		Name:      "primary",
		Kind:      types.ProviderGroupPrimary,
		Strategy:  strategy,
		Enabled:   true,
		Instances: instances,
	}
}

func instance(name, model string, priority int) types.ProviderInstance {
	return types.ProviderInstance{
		ID:       uuid.New(),
		Name:     name,
		BaseURL:  "http://" + name,
		Model:    model,
		Weight:   1,
		Priority: priority,
		Enabled:  true,
	}
}
