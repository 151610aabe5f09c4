package review

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/openadmit/counselor-backend/internal/config"
	"github.com/openadmit/counselor-backend/internal/data/repos"
	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/modules/pipeline/router"
	"github.com/openadmit/counselor-backend/internal/pkg/dbctx"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
	"github.com/openadmit/counselor-backend/internal/platform/llm"
)

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
	}
	for _, stmt := range ddl {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return db
}

type fakePolicyRepo struct {
	groups []types.ProviderGroup
}

func (f *fakePolicyRepo) ProviderGroups(dbctx.Context) ([]types.ProviderGroup, error) {
	return f.groups, nil
}

func (f *fakePolicyRepo) SensitiveGroups(dbctx.Context) ([]types.SensitiveWordGroup, error) {
	return nil, nil
}

func (f *fakePolicyRepo) CalendarPeriods(dbctx.Context) ([]types.CalendarPeriod, error) {
	return nil, nil
}

type judgeProvider struct {
	reply string
	calls int
}

func (p *judgeProvider) StreamChat(ctx context.Context, req llm.ChatRequest, onDelta func(string)) (string, error) {
	p.calls++
	return p.reply, nil
}

func (p *judgeProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("no embeddings")
}

func (p *judgeProvider) Name() string  { return "judge" }
func (p *judgeProvider) Model() string { return "judge-v1" }

type reviewFixture struct {
	db    *gorm.DB
	deps  Deps
	judge *judgeProvider

	userID uuid.UUID
	convID uuid.UUID
}

func newReviewFixture(t *testing.T, reply string) *reviewFixture {
	t.Helper()
	log := logger.NewNop()
	db := newTestDB(t)

	judge := &judgeProvider{reply: reply}
	factory := func(types.ProviderInstance) (llm.Provider, error) { return judge, nil }

	policy := &fakePolicyRepo{groups: []types.ProviderGroup{{
		ID:       uuid.New(),
		Name:     "reviewers",
		Kind:     types.ProviderGroupReview,
		Strategy: types.StrategyFailover,
		Enabled:  true,
		Instances: []types.ProviderInstance{{
			ID:      uuid.New(),
			Name:    "judge",
			Model:   "judge-v1",
			Enabled: true,
		}},
	}}}

	f := &reviewFixture{
		db:    db,
		judge: judge,
		deps: Deps{
			Log:           log,
			Conversations: repos.NewConversationRepo(db, log),
			Messages:      repos.NewMessageRepo(db, log),
			Config:        config.NewLoader(log, policy),
			Router:        router.New(log, factory),
		},
		userID: uuid.New(),
		convID: uuid.New(),
	}

	conv := &types.Conversation{
		ID:            f.convID,
		UserID:        f.userID,
		Title:         "新对话",
		LastMessageAt: time.Now().UTC(),
	}
	if err := db.Create(conv).Error; err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return f
}

func (f *reviewFixture) seedMessage(t *testing.T, seq int64, role, status, content string) uuid.UUID {
	t.Helper()
	msg := &types.Message{
		ID:             uuid.New(),
		ConversationID: f.convID,
		UserID:         f.userID,
		Seq:            seq,
		Role:           role,
		Status:         status,
		Content:        content,
		Sources:        datatypes.JSON([]byte(`[{"title":"招生简章","snippet":"学费每年5000元","score":0.8,"source_type":"knowledge"}]`)),
	}
	if err := f.db.Create(msg).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return msg.ID
}

func (f *reviewFixture) loadMessage(t *testing.T, id uuid.UUID) *types.Message {
	t.Helper()
	var msg types.Message
	if err := f.db.Where("id = ?", id).First(&msg).Error; err != nil {
		t.Fatalf("load message: %v", err)
	}
	return &msg
}

func TestReviewPassedVerdictSticks(t *testing.T) {
	f := newReviewFixture(t, `{"passed": true, "note": "与资料一致"}`)
	id := f.seedMessage(t, 2, types.MessageRoleAssistant, types.MessageStatusDone, "学费每年5000元。")

	if err := ReviewMessage(context.Background(), f.deps, id); err != nil {
		t.Fatalf("review: %v", err)
	}
	msg := f.loadMessage(t, id)
	if msg.ReviewPassed == nil || !*msg.ReviewPassed {
		t.Fatalf("review_passed: want=true got=%v", msg.ReviewPassed)
	}
	if msg.ReviewNote != "与资料一致" {
		t.Fatalf("review_note: want=%q got=%q", "与资料一致", msg.ReviewNote)
	}
	if strings.Contains(msg.Content, config.PolicyFromEnv().DisclaimerText) {
		t.Fatalf("passed review must not append disclaimer, got %q", msg.Content)
	}
}

func TestReviewFailedVerdictAppendsDisclaimer(t *testing.T) {
	f := newReviewFixture(t, "审核结果如下:\n```json\n{\"passed\": false, \"note\": \"数字与资料不符\"}\n```")
	id := f.seedMessage(t, 2, types.MessageRoleAssistant, types.MessageStatusDone, "学费每年8000元。")

	if err := ReviewMessage(context.Background(), f.deps, id); err != nil {
		t.Fatalf("review: %v", err)
	}
	msg := f.loadMessage(t, id)
	if msg.ReviewPassed == nil || *msg.ReviewPassed {
		t.Fatalf("review_passed: want=false got=%v", msg.ReviewPassed)
	}
	disclaimer := config.PolicyFromEnv().DisclaimerText
	if !strings.HasSuffix(msg.Content, disclaimer) {
		t.Fatalf("disclaimer missing: got=%q", msg.Content)
	}
	if !strings.HasPrefix(msg.Content, "学费每年8000元。") {
		t.Fatalf("original answer must survive: got=%q", msg.Content)
	}
}

func TestReviewIsIdempotent(t *testing.T) {
	f := newReviewFixture(t, `{"passed": false, "note": "不符"}`)
	id := f.seedMessage(t, 2, types.MessageRoleAssistant, types.MessageStatusDone, "学费每年8000元。")

	if err := ReviewMessage(context.Background(), f.deps, id); err != nil {
		t.Fatalf("first review: %v", err)
	}
	first := f.loadMessage(t, id)

	// A duplicate job run must not call the judge again or rewrite anything.
	f.judge.reply = `{"passed": true, "note": "flip"}`
	callsBefore := f.judge.calls
	if err := ReviewMessage(context.Background(), f.deps, id); err != nil {
		t.Fatalf("second review: %v", err)
	}
	if f.judge.calls != callsBefore {
		t.Fatalf("duplicate review must skip the judge, calls=%d", f.judge.calls)
	}
	second := f.loadMessage(t, id)
	if *second.ReviewPassed != *first.ReviewPassed || second.Content != first.Content {
		t.Fatalf("verdict flipped on rerun: first=%+v second=%+v", first, second)
	}
}

func TestReviewSkipsIneligibleMessages(t *testing.T) {
	f := newReviewFixture(t, `{"passed": true, "note": ""}`)

	userMsg := f.seedMessage(t, 1, types.MessageRoleUser, types.MessageStatusSent, "学费多少?")
	streaming := f.seedMessage(t, 2, types.MessageRoleAssistant, types.MessageStatusStreaming, "正在")

	for _, id := range []uuid.UUID{userMsg, streaming, uuid.New()} {
		if err := ReviewMessage(context.Background(), f.deps, id); err != nil {
			t.Fatalf("review %s: %v", id, err)
		}
	}
	if f.judge.calls != 0 {
		t.Fatalf("ineligible messages must skip the judge, calls=%d", f.judge.calls)
	}
}

func TestGenerateTitleUsesFirstQuestion(t *testing.T) {
	f := newReviewFixture(t, "《关于宿舍条件的咨询》")
	f.seedMessage(t, 1, types.MessageRoleUser, types.MessageStatusSent, "宿舍条件怎么样?")
	f.seedMessage(t, 2, types.MessageRoleAssistant, types.MessageStatusDone, "四人间,有独立卫浴。")

	if err := GenerateTitle(context.Background(), f.deps, f.convID); err != nil {
		t.Fatalf("generate title: %v", err)
	}
	var conv types.Conversation
	if err := f.db.Where("id = ?", f.convID).First(&conv).Error; err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	if conv.Title != "关于宿舍条件的咨询" {
		t.Fatalf("title: want=%q got=%q", "关于宿舍条件的咨询", conv.Title)
	}
	if !conv.TitleGenerated {
		t.Fatalf("title_generated must be set")
	}
}

func TestGenerateTitleNoopWithoutUserMessage(t *testing.T) {
	f := newReviewFixture(t, "不应被使用")
	f.seedMessage(t, 1, types.MessageRoleAssistant, types.MessageStatusDone, "欢迎咨询。")

	if err := GenerateTitle(context.Background(), f.deps, f.convID); err != nil {
		t.Fatalf("generate title: %v", err)
	}
	if f.judge.calls != 0 {
		t.Fatalf("title without a user question must skip the model, calls=%d", f.judge.calls)
	}
	var conv types.Conversation
	if err := f.db.Where("id = ?", f.convID).First(&conv).Error; err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	if conv.Title != "新对话" {
		t.Fatalf("title must stay default, got=%q", conv.Title)
	}
}

func TestParseVerdict(t *testing.T) {
	cases := []struct {
		in      string
		passed  bool
		wantErr bool
	}{
		{`{"passed": true, "note": "ok"}`, true, false},
		{"前缀 {\"passed\": false, \"note\": \"不符\"} 后缀", false, false},
		{"模型没有输出 JSON", false, true},
		{"{broken", false, true},
	}
	for _, c := range cases {
		v, err := parseVerdict(c.in)
		if c.wantErr {
			if err == nil {
				t.Fatalf("parseVerdict(%q): want error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseVerdict(%q): %v", c.in, err)
		}
		if v.Passed != c.passed {
			t.Fatalf("parseVerdict(%q): want passed=%v got=%v", c.in, c.passed, v.Passed)
		}
	}
}

func TestCleanTitle(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  宿舍条件咨询  ", "宿舍条件咨询"},
		{"\"录取分数线\"", "录取分数线"},
		{"《招生政策》", "招生政策"},
		{"第一行\n第二行", "第一行"},
		{strings.Repeat("长", 40), strings.Repeat("长", 24)},
		{"", ""},
	}
	for _, c := range cases {
		if got := cleanTitle(c.in); got != c.want {
			t.Fatalf("cleanTitle(%q): want=%q got=%q", c.in, c.want, got)
		}
	}
}
