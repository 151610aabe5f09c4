package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/openadmit/counselor-backend/internal/audit"
	"github.com/openadmit/counselor-backend/internal/config"
	"github.com/openadmit/counselor-backend/internal/data/repos"
	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/modules/pipeline/prompts"
	"github.com/openadmit/counselor-backend/internal/modules/pipeline/router"
	"github.com/openadmit/counselor-backend/internal/pkg/dbctx"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
	"github.com/openadmit/counselor-backend/internal/platform/apierr"
	"github.com/openadmit/counselor-backend/internal/platform/llm"
	"github.com/openadmit/counselor-backend/internal/realtime"
)

type RespondDeps struct {
	DB  *gorm.DB
	Log *logger.Logger

	Conversations repos.ConversationRepo
	Messages      repos.MessageRepo
	Jobs          repos.JobRunRepo

	Audit    *audit.Emitter
	Config   *config.Loader
	Router   *router.Router
	Retrieve RetrieveDeps
	Prompts  *prompts.Library
}

type RespondInput struct {
	UserID         uuid.UUID
	UserRole       string
	ConversationID uuid.UUID
	Question       string

	Sink realtime.Sink

	// Now is injectable for tests; zero means time.Now.
	Now time.Time
}

type RespondOutput struct {
	UserMessage      *types.Message `json:"user_message"`
	AssistantMessage *types.Message `json:"assistant_message"`
	Outcome          string         `json:"outcome"`
	RiskLevel        string         `json:"risk_level,omitempty"`
	ModelVersion     string         `json:"model_version,omitempty"`
	Disambiguation   []string       `json:"disambiguation,omitempty"`
}

// Respond runs one conversation turn end to end: moderation, risk, tone,
// emotion, retrieval, prompt assembly, routed streaming generation,
// persistence and audit. Frames go to in.Sink as stages progress.
func Respond(ctx context.Context, deps RespondDeps, in RespondInput) (RespondOutput, error) {
	out := RespondOutput{}
	if deps.DB == nil || deps.Log == nil || deps.Conversations == nil || deps.Messages == nil ||
		deps.Jobs == nil || deps.Audit == nil || deps.Config == nil || deps.Router == nil || deps.Prompts == nil {
		return out, fmt.Errorf("turn respond: missing deps")
	}
	if in.UserID == uuid.Nil || in.ConversationID == uuid.Nil {
		return out, apierr.New(http.StatusBadRequest, "missing_ids", fmt.Errorf("missing user or conversation id"))
	}
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return out, apierr.New(http.StatusBadRequest, "empty_question", fmt.Errorf("question is empty"))
	}
	if in.Sink == nil {
		in.Sink = realtime.SinkFunc(func(realtime.Frame) {})
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	ctx, span := otel.Tracer("pipeline").Start(ctx, "conversation.turn",
		trace.WithAttributes(attribute.String("conversation.id", in.ConversationID.String())))
	defer span.End()

	dbc := dbctx.New(ctx)

	conv, err := deps.Conversations.GetByID(dbc, in.UserID, in.ConversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return out, apierr.New(http.StatusNotFound, "conversation_not_found", err)
		}
		return out, err
	}

	snap, err := deps.Config.Load(ctx)
	if err != nil {
		return out, fmt.Errorf("load config snapshot: %w", err)
	}
	policy := snap.Policy

	// One in-flight turn per conversation. Streaming rows older than the
	// stale threshold are leftovers from a crashed turn and do not block.
	busy, err := deps.Messages.HasStreaming(dbc, conv.ID, policy.StaleStreamAfter)
	if err != nil {
		return out, err
	}
	if busy {
		return out, apierr.New(http.StatusConflict, "turn_in_progress", fmt.Errorf("a turn is already streaming in this conversation"))
	}

	channel := realtime.ConversationChannel(conv.ID)
	send := func(t realtime.FrameType, data any) {
		in.Sink.Send(realtime.Frame{Channel: channel, Type: t, Data: data})
	}
	sendStage := func(stage string) {
		send(realtime.FrameToolStatus, map[string]any{"stage": stage})
	}

	// Stage 1: sensitive filter. A block hit short-circuits before any model
	// or retrieval work happens.
	verdict := EvaluateSensitive(question, snap.SensitiveGroups)
	if verdict.Blocked() {
		userMsg, asstMsg, err := deps.createTurnPair(ctx, in, conv, question, pairFinal{
			Content: policy.RefusalText,
			Status:  types.MessageStatusDone,
		}, now)
		if err != nil {
			return out, err
		}
		send(realtime.FrameSensitiveBlock, map[string]any{
			"message_id": asstMsg.ID,
			"text":       policy.RefusalText,
		})
		send(realtime.FrameDone, map[string]any{"message_id": asstMsg.ID})
		deps.Audit.Emit(dbc, audit.Event{
			UserID:         in.UserID,
			ConversationID: conv.ID,
			MessageID:      asstMsg.ID,
			SensitiveHits:  verdict.Hits,
			Outcome:        types.AuditOutcomeBlocked,
		})
		out.UserMessage, out.AssistantMessage = userMsg, asstMsg
		out.Outcome = types.AuditOutcomeBlocked
		return out, nil
	}

	userMsg, asstMsg, err := deps.createTurnPair(ctx, in, conv, question, pairFinal{
		Status: types.MessageStatusStreaming,
	}, now)
	if err != nil {
		return out, err
	}
	out.UserMessage, out.AssistantMessage = userMsg, asstMsg

	fail := func(cause error) (RespondOutput, error) {
		detached := dbctx.New(context.WithoutCancel(ctx))
		_ = deps.Messages.UpdateFields(detached, asstMsg.ID, map[string]interface{}{
			"status": types.MessageStatusError,
		})
		send(realtime.FrameError, map[string]any{
			"message_id": asstMsg.ID,
			"error":      cause.Error(),
		})
		deps.Audit.Emit(detached, audit.Event{
			UserID:         in.UserID,
			ConversationID: conv.ID,
			MessageID:      asstMsg.ID,
			SensitiveHits:  verdict.Hits,
			Outcome:        types.AuditOutcomeError,
		})
		out.Outcome = types.AuditOutcomeError
		return out, cause
	}

	// Judge model for cheap classification calls; optional.
	var judge llm.Provider
	if reviewGroup := snap.Group(types.ProviderGroupReview); reviewGroup != nil {
		if p, jerr := deps.Router.Provider(reviewGroup); jerr == nil {
			judge = p
		} else {
			deps.Log.Debug("no judge provider available", "error", jerr)
		}
	}

	// Stage 2: risk.
	sendStage("risk_check")
	risk := ClassifyRisk(ctx, deps.Log, judge, question, verdict.TopSeverity)
	out.RiskLevel = risk

	// Stages 3 and 4: tone and emotion.
	sendStage("tone")
	tone := ToneDirective(ActivePeriod(snap.CalendarPeriods, now))
	emotion := DetectEmotion(ctx, deps.Log, judge, question)

	// Stage 5: retrieval.
	sendStage("retrieve")
	retr := Retrieve(ctx, deps.Retrieve, dbc, question, policy)

	primary := snap.Group(types.ProviderGroupPrimary)
	if primary == nil {
		return fail(fmt.Errorf("no enabled primary provider group"))
	}
	lowConfidence := retr.TopScore < policy.ConfidenceFloor

	// High risk with nothing solid to cite: redirect instead of answering.
	if risk == types.RiskLevelHigh && lowConfidence {
		if err := deps.finalizeAssistant(ctx, conv, asstMsg, policy.RedirectText, risk, "", nil); err != nil {
			return fail(err)
		}
		send(realtime.FrameHighRisk, map[string]any{
			"message_id": asstMsg.ID,
			"text":       policy.RedirectText,
		})
		send(realtime.FrameDone, map[string]any{"message_id": asstMsg.ID})
		deps.Audit.Emit(dbc, audit.Event{
			UserID:         in.UserID,
			ConversationID: conv.ID,
			MessageID:      asstMsg.ID,
			RiskLevel:      risk,
			SensitiveHits:  verdict.Hits,
			Outcome:        types.AuditOutcomeRedirected,
		})
		out.Outcome = types.AuditOutcomeRedirected
		return out, nil
	}

	// Underspecified question with no grounding: ask back instead of guessing.
	if lowConfidence && Ambiguous(question, retr.TopScore, policy.ConfidenceFloor) {
		questions := DisambiguationQuestions(ctx, deps.Log, deps.Router, primary, question, policy.DisambigCount)
		content := strings.Join(questions, "\n")
		if err := deps.finalizeAssistant(ctx, conv, asstMsg, content, risk, "", nil); err != nil {
			return fail(err)
		}
		send(realtime.FrameToken, map[string]any{"message_id": asstMsg.ID, "delta": content})
		send(realtime.FrameDone, map[string]any{
			"message_id":     asstMsg.ID,
			"disambiguation": questions,
		})
		deps.Audit.Emit(dbc, audit.Event{
			UserID:         in.UserID,
			ConversationID: conv.ID,
			MessageID:      asstMsg.ID,
			RiskLevel:      risk,
			SensitiveHits:  verdict.Hits,
			Outcome:        types.AuditOutcomeAnswered,
		})
		out.Outcome = types.AuditOutcomeAnswered
		out.Disambiguation = questions
		return out, nil
	}

	// Stage 6: prompt assembly.
	history, err := deps.Messages.ListByConversation(dbc, conv.ID, policy.HistoryTurns*2, &userMsg.Seq)
	if err != nil {
		deps.Log.Warn("history load failed, prompting without history", "error", err)
		history = nil
	}
	messages := AssemblePrompt(PromptInput{
		RolePrompt:         deps.Prompts.Role(in.UserRole),
		ToneDirective:      tone,
		EmotionDirective:   EmotionDirective(emotion),
		RiskLevel:          risk,
		Restricted:         risk == types.RiskLevelHigh,
		Degraded:           retr.Degraded,
		Sources:            retr.Sources,
		History:            history,
		HistoryTurns:       policy.HistoryTurns,
		HistoryTokenBudget: policy.HistoryTokenBudget,
		Question:           question,
	})

	// Stages 7 and 8: routed streaming generation.
	sendStage("generate")
	var (
		full          strings.Builder
		lastFlushAt   = time.Now()
		lastFlushSize = 0
	)
	flushDB := func(force bool) {
		if !force && time.Since(lastFlushAt) < 750*time.Millisecond && (full.Len()-lastFlushSize) < 256 {
			return
		}
		txt := full.String()
		lastFlushAt = time.Now()
		lastFlushSize = len(txt)
		_ = deps.Messages.UpdateFields(dbctx.New(context.WithoutCancel(ctx)), asstMsg.ID, map[string]interface{}{
			"content": txt,
			"status":  types.MessageStatusStreaming,
		})
	}
	onDelta := func(delta string) {
		if delta == "" {
			return
		}
		full.WriteString(delta)
		send(realtime.FrameToken, map[string]any{"message_id": asstMsg.ID, "delta": delta})
		flushDB(false)
	}

	res, genErr := deps.Router.Dispatch(ctx, primary, llm.ChatRequest{Messages: messages}, onDelta)
	content := strings.TrimSpace(res.Content)
	if content == "" {
		content = strings.TrimSpace(full.String())
	}
	modelVersion := res.ModelVersion()
	out.ModelVersion = modelVersion

	if genErr != nil {
		// Client cancel: keep whatever already streamed; the partial answer is
		// never dropped.
		if errors.Is(genErr, context.Canceled) && content != "" {
			detachedCtx := context.WithoutCancel(ctx)
			if err := deps.finalizeAssistant(detachedCtx, conv, asstMsg, content, risk, modelVersion, retr.Sources); err != nil {
				return fail(err)
			}
			deps.Audit.Emit(dbctx.New(detachedCtx), audit.Event{
				UserID:         in.UserID,
				ConversationID: conv.ID,
				MessageID:      asstMsg.ID,
				RiskLevel:      risk,
				SensitiveHits:  verdict.Hits,
				ModelVersion:   modelVersion,
				Outcome:        types.AuditOutcomeAnswered,
			})
			out.Outcome = types.AuditOutcomeAnswered
			return out, nil
		}
		if errors.Is(genErr, router.ErrInterrupted) && content != "" {
			// Truncation is terminal; persist the partial and surface the error.
			flushDB(true)
		}
		return fail(genErr)
	}

	if retr.Degraded {
		content = content + "\n" + policy.DisclaimerText
	}

	if err := deps.finalizeAssistant(ctx, conv, asstMsg, content, risk, modelVersion, retr.Sources); err != nil {
		return fail(err)
	}
	send(realtime.FrameDone, map[string]any{
		"message_id":    asstMsg.ID,
		"model_version": modelVersion,
		"sources":       retr.Sources,
	})
	deps.Audit.Emit(dbc, audit.Event{
		UserID:         in.UserID,
		ConversationID: conv.ID,
		MessageID:      asstMsg.ID,
		RiskLevel:      risk,
		SensitiveHits:  verdict.Hits,
		ModelVersion:   modelVersion,
		Outcome:        types.AuditOutcomeAnswered,
	})
	out.Outcome = types.AuditOutcomeAnswered

	// Stage 9 is asynchronous: enqueue the fact review, and a one-time title
	// generation for fresh conversations. Both are fire-and-forget.
	if _, err := deps.Jobs.Enqueue(dbc, in.UserID, types.JobTypeReviewMessage, asstMsg.ID, nil); err != nil {
		deps.Log.Error("failed to enqueue review job", "message_id", asstMsg.ID, "error", err)
	}
	if !conv.TitleGenerated {
		if _, err := deps.Jobs.Enqueue(dbc, in.UserID, types.JobTypeTitleGenerate, conv.ID, nil); err != nil {
			deps.Log.Warn("failed to enqueue title job", "conversation_id", conv.ID, "error", err)
		}
	}

	return out, nil
}

// pairFinal describes the assistant placeholder's initial state.
type pairFinal struct {
	Content string
	Status  string
}

// createTurnPair writes the user message and the assistant placeholder in one
// transaction, allocating both sequence numbers atomically and bumping the
// conversation's last activity.
func (deps RespondDeps) createTurnPair(ctx context.Context, in RespondInput, conv *types.Conversation, question string, final pairFinal, now time.Time) (*types.Message, *types.Message, error) {
	var userMsg, asstMsg *types.Message
	err := deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.New(ctx).WithTx(tx)

		firstSeq, err := deps.Conversations.AllocateSeqs(txc, conv.ID, 2)
		if err != nil {
			return fmt.Errorf("allocate seqs: %w", err)
		}

		rows := []*types.Message{
			{
				ID:             uuid.New(),
				ConversationID: conv.ID,
				UserID:         in.UserID,
				Seq:            firstSeq,
				Role:           types.MessageRoleUser,
				Status:         types.MessageStatusSent,
				Content:        question,
				Sources:        datatypes.JSON([]byte("[]")),
			},
			{
				ID:             uuid.New(),
				ConversationID: conv.ID,
				UserID:         in.UserID,
				Seq:            firstSeq + 1,
				Role:           types.MessageRoleAssistant,
				Status:         final.Status,
				Content:        final.Content,
				Sources:        datatypes.JSON([]byte("[]")),
			},
		}
		created, err := deps.Messages.Create(txc, rows)
		if err != nil {
			return fmt.Errorf("create turn pair: %w", err)
		}
		userMsg, asstMsg = created[0], created[1]

		return deps.Conversations.UpdateFields(txc, conv.ID, map[string]interface{}{
			"last_message_at": now,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return userMsg, asstMsg, nil
}

// finalizeAssistant writes the assistant message's terminal state.
func (deps RespondDeps) finalizeAssistant(ctx context.Context, conv *types.Conversation, asst *types.Message, content, risk, modelVersion string, sources []types.Source) error {
	if sources == nil {
		sources = []types.Source{}
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{
		"content":    content,
		"status":     types.MessageStatusDone,
		"risk_level": risk,
		"sources":    datatypes.JSON(raw),
	}
	if modelVersion != "" {
		updates["model_version"] = modelVersion
	}
	if err := deps.Messages.UpdateFields(dbctx.New(ctx), asst.ID, updates); err != nil {
		return fmt.Errorf("finalize assistant message: %w", err)
	}
	asst.Content = content
	asst.Status = types.MessageStatusDone
	asst.RiskLevel = risk
	asst.ModelVersion = modelVersion
	asst.Sources = datatypes.JSON(raw)
	return nil
}
