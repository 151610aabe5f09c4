package steps

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/openadmit/counselor-backend/internal/config"
	"github.com/openadmit/counselor-backend/internal/data/repos"
	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/modules/pipeline/router"
	"github.com/openadmit/counselor-backend/internal/pkg/dbctx"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
	"github.com/openadmit/counselor-backend/internal/platform/llm"
	"github.com/openadmit/counselor-backend/internal/platform/vector"
	"github.com/openadmit/counselor-backend/internal/platform/websearch"
)

type RetrieveDeps struct {
	Log       *logger.Logger
	Knowledge repos.KnowledgeRepo
	Vector    vector.Store
	Embedder  llm.Provider
	Web       websearch.Client
}

// Retrieval is what the prompt assembler gets to work with. Degraded means
// the knowledge lookup failed and the answer must not cite anything.
type Retrieval struct {
	Sources  []types.Source
	TopScore float64
	Degraded bool
}

// Retrieve embeds the question, queries the vector store restricted to
// approved documents in enabled bases, re-checks eligibility against the
// database, and optionally fans out to web search. Both legs run
// concurrently; either leg failing degrades that leg, never the turn.
func Retrieve(ctx context.Context, deps RetrieveDeps, dbc dbctx.Context, question string, policy config.Policy) Retrieval {
	out := Retrieval{Sources: []types.Source{}}

	var kbSources []types.Source
	var webSources []types.Source
	var kbDegraded bool

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sources, err := deps.retrieveKnowledge(gctx, dbc, question, policy.TopK)
		if err != nil {
			deps.Log.Warn("knowledge retrieval degraded", "error", err)
			kbDegraded = true
			return nil
		}
		kbSources = sources
		return nil
	})

	if deps.Web != nil && policy.WebSearchEnabled {
		g.Go(func() error {
			results, err := deps.Web.Search(gctx, question, policy.TopK)
			if err != nil {
				deps.Log.Warn("web search degraded", "error", err)
				return nil
			}
			for _, r := range results {
				webSources = append(webSources, types.Source{
					URL:        r.URL,
					Title:      r.Title,
					Snippet:    r.Snippet,
					SourceType: "web",
				})
			}
			return nil
		})
	}

	// Legs swallow their own errors.
	_ = g.Wait()

	out.Sources = append(out.Sources, kbSources...)
	out.Sources = append(out.Sources, webSources...)
	out.Degraded = kbDegraded
	for _, s := range kbSources {
		if s.Score > out.TopScore {
			out.TopScore = s.Score
		}
	}
	return out
}

func (deps RetrieveDeps) retrieveKnowledge(ctx context.Context, dbc dbctx.Context, question string, topK int) ([]types.Source, error) {
	if deps.Embedder == nil || deps.Vector == nil || deps.Knowledge == nil {
		return []types.Source{}, nil
	}
	baseIDs, err := deps.Knowledge.EnabledBaseIDs(dbc)
	if err != nil {
		return nil, fmt.Errorf("enabled bases: %w", err)
	}
	if len(baseIDs) == 0 {
		return []types.Source{}, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	vectors, err := deps.Embedder.Embed(embedCtx, []string{question})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed question: want=1 vector got=%d", len(vectors))
	}

	ids := make([]string, 0, len(baseIDs))
	for _, id := range baseIDs {
		ids = append(ids, id.String())
	}
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	matches, err := deps.Vector.QueryMatches(queryCtx, vectors[0], topK, map[string]any{
		"knowledge_base_id": ids,
		"approved":          true,
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(matches) == 0 {
		return []types.Source{}, nil
	}

	vectorIDs := make([]string, 0, len(matches))
	scores := make(map[string]float64, len(matches))
	for _, m := range matches {
		vectorIDs = append(vectorIDs, m.ID)
		scores[m.ID] = m.Score
	}
	hits, err := deps.Knowledge.ChunksByVectorIDs(dbc, vectorIDs)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}

	sources := make([]types.Source, 0, len(hits))
	for _, h := range hits {
		// The vector store filter is advisory; the database is authoritative
		// on approval and enablement at answer time.
		if !h.DocApproved || !h.KBEnabled {
			continue
		}
		sources = append(sources, types.Source{
			DocumentID: h.DocumentID.String(),
			Title:      h.DocumentTitle,
			Snippet:    h.Content,
			Score:      scores[h.VectorID],
			SourceType: "knowledge",
		})
	}
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].Score > sources[j].Score })
	if len(sources) > topK {
		sources = sources[:topK]
	}
	return sources, nil
}

// Ambiguous reports whether the question is too underspecified to answer:
// nothing relevant in the knowledge base and barely any words to go on.
func Ambiguous(question string, topScore, confidenceFloor float64) bool {
	return topScore < confidenceFloor && utf8.RuneCountInString(strings.TrimSpace(question)) <= 12
}

var fallbackDisambigQuestions = []string{
	"您想了解哪个学院或专业的情况?",
	"您是考生本人还是家长?方便说明一下目前的年级吗?",
	"您想咨询的是哪一年的招生政策?",
}

const disambigPrompt = `考生的提问过于模糊,知识库中找不到相关内容。请生成 %d 个澄清问题,帮助确定对方真正想问什么。每行一个问题,不要编号,不要其它内容。`

// DisambiguationQuestions asks the primary group for clarifying follow-ups,
// falling back to canned questions when the model call fails.
func DisambiguationQuestions(ctx context.Context, log *logger.Logger, rt *router.Router, group *types.ProviderGroup, question string, n int) []string {
	if n <= 0 {
		n = 3
	}
	if n > len(fallbackDisambigQuestions) {
		n = len(fallbackDisambigQuestions)
	}

	if rt != nil && group != nil {
		genCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		res, err := rt.Complete(genCtx, group, llm.ChatRequest{
			Messages: []llm.ChatMessage{
				{Role: llm.RoleSystem, Content: fmt.Sprintf(disambigPrompt, n)},
				{Role: llm.RoleUser, Content: question},
			},
			MaxTokens: 256,
		})
		cancel()
		if err == nil {
			questions := parseQuestionLines(res.Content, n)
			if len(questions) > 0 {
				return questions
			}
		} else {
			log.Warn("disambiguation generation failed, using fallback questions", "error", err)
		}
	}
	return append([]string{}, fallbackDisambigQuestions[:n]...)
}

func parseQuestionLines(out string, n int) []string {
	var questions []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "0123456789.、)- ")
		if line == "" {
			continue
		}
		questions = append(questions, line)
		if len(questions) == n {
			break
		}
	}
	return questions
}
