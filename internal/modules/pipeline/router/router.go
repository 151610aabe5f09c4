package router

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
	"github.com/openadmit/counselor-backend/internal/platform/envutil"
	"github.com/openadmit/counselor-backend/internal/platform/llm"
)

// ErrExhausted means every candidate instance in the group failed before a
// single token was forwarded.
var ErrExhausted = errors.New("all provider instances exhausted")

// ErrInterrupted means the stream died after tokens already reached the
// client. Failover is not allowed at that point; the partial text survives.
var ErrInterrupted = errors.New("stream interrupted mid-answer")

// Factory builds a Provider for one configured instance. Tests substitute
// fakes here.
type Factory func(inst types.ProviderInstance) (llm.Provider, error)

// Result reports who served the turn and what they produced.
type Result struct {
	Content  string
	Instance string
	Model    string
}

// ModelVersion is the "<instance>:<model>" string persisted on messages.
func (r Result) ModelVersion() string {
	if r.Instance == "" && r.Model == "" {
		return ""
	}
	return r.Instance + ":" + r.Model
}

// Router picks instances out of a provider group snapshot and drives
// streaming calls with failover. Selection state (round-robin cursors) is
// process-local; the group config itself comes frozen from the snapshot.
type Router struct {
	log         *logger.Logger
	factory     Factory
	callTimeout time.Duration
	randIntn    func(n int) int

	mu      sync.Mutex
	cursors map[uuid.UUID]int
}

func New(log *logger.Logger, factory Factory) *Router {
	if factory == nil {
		factory = defaultFactory(log)
	}
	return &Router{
		log:         log.With("component", "LLMRouter"),
		factory:     factory,
		callTimeout: envutil.Duration("LLM_CALL_TIMEOUT_SECONDS", 180*time.Second),
		randIntn:    rand.Intn,
		cursors:     make(map[uuid.UUID]int),
	}
}

func defaultFactory(log *logger.Logger) Factory {
	return func(inst types.ProviderInstance) (llm.Provider, error) {
		return llm.NewOpenAIClient(log, llm.Config{
			Name:    inst.Name,
			BaseURL: inst.BaseURL,
			APIKey:  inst.APIKey,
			Model:   inst.Model,
		})
	}
}

// Candidates orders the group's enabled instances according to its strategy.
// The first element is the preferred instance; the rest is the failover tail.
func (r *Router) Candidates(g *types.ProviderGroup) []types.ProviderInstance {
	if g == nil {
		return nil
	}
	enabled := make([]types.ProviderInstance, 0, len(g.Instances))
	for _, inst := range g.Instances {
		if inst.Enabled {
			enabled = append(enabled, inst)
		}
	}
	if len(enabled) == 0 {
		return nil
	}

	switch g.Strategy {
	case types.StrategyRoundRobin:
		sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Name < enabled[j].Name })
		r.mu.Lock()
		start := r.cursors[g.ID] % len(enabled)
		r.cursors[g.ID] = start + 1
		r.mu.Unlock()
		rotated := make([]types.ProviderInstance, 0, len(enabled))
		rotated = append(rotated, enabled[start:]...)
		rotated = append(rotated, enabled[:start]...)
		return rotated

	case types.StrategyWeighted:
		return r.weightedOrder(enabled)

	default: // failover
		sort.SliceStable(enabled, func(i, j int) bool {
			if enabled[i].Priority != enabled[j].Priority {
				return enabled[i].Priority < enabled[j].Priority
			}
			return enabled[i].Name < enabled[j].Name
		})
		return enabled
	}
}

// weightedOrder draws instances proportionally to weight, without
// replacement, so the tail still forms a sensible failover order.
func (r *Router) weightedOrder(pool []types.ProviderInstance) []types.ProviderInstance {
	remaining := make([]types.ProviderInstance, len(pool))
	copy(remaining, pool)
	out := make([]types.ProviderInstance, 0, len(pool))

	for len(remaining) > 0 {
		total := 0
		for _, inst := range remaining {
			w := inst.Weight
			if w < 1 {
				w = 1
			}
			total += w
		}
		roll := r.randIntn(total)
		picked := 0
		for i, inst := range remaining {
			w := inst.Weight
			if w < 1 {
				w = 1
			}
			roll -= w
			if roll < 0 {
				picked = i
				break
			}
		}
		out = append(out, remaining[picked])
		remaining = append(remaining[:picked], remaining[picked+1:]...)
	}
	return out
}

// Dispatch streams a chat completion through the group. A candidate that
// fails before forwarding any token is skipped and the whole request restarts
// on the next one. Once a token has been forwarded the serving instance is
// final: a later failure returns ErrInterrupted with the partial content.
func (r *Router) Dispatch(ctx context.Context, g *types.ProviderGroup, req llm.ChatRequest, onDelta func(delta string)) (Result, error) {
	cands := r.Candidates(g)
	if len(cands) == 0 {
		return Result{}, fmt.Errorf("%w: no enabled instances", ErrExhausted)
	}

	var lastErr error
	for _, inst := range cands {
		provider, err := r.factory(inst)
		if err != nil {
			r.log.Warn("provider construction failed", "instance", inst.Name, "error", err)
			lastErr = err
			continue
		}

		// The latch only engages once a real client sink consumed a delta.
		// Non-streaming callers pass a nil onDelta and keep failing over.
		forwarded := false
		wrapped := func(delta string) {
			if onDelta != nil {
				forwarded = true
				onDelta(delta)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		content, err := provider.StreamChat(callCtx, requestFor(inst, req), wrapped)
		cancel()

		res := Result{Content: content, Instance: inst.Name, Model: inst.Model}
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			// Client cancel or request deadline; partial content goes back to
			// the caller for persistence.
			return res, ctx.Err()
		}
		if forwarded {
			r.log.Warn("stream failed after first forwarded token",
				"instance", inst.Name, "error", err)
			return res, fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		if !llm.IsTransient(err) {
			return Result{}, err
		}
		r.log.Warn("instance failed before first token, trying next",
			"instance", inst.Name, "error", err)
		lastErr = err
	}
	return Result{}, fmt.Errorf("%w: last error: %v", ErrExhausted, lastErr)
}

// Provider returns a client for the group's currently preferred instance.
// Used for cheap single-shot judge calls that do their own error handling.
func (r *Router) Provider(g *types.ProviderGroup) (llm.Provider, error) {
	cands := r.Candidates(g)
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: no enabled instances", ErrExhausted)
	}
	return r.factory(cands[0])
}

// Complete is the non-streaming form used by judges and summarizers. No
// client ever sees intermediate tokens here, so a mid-stream provider
// failure still fails over instead of interrupting.
func (r *Router) Complete(ctx context.Context, g *types.ProviderGroup, req llm.ChatRequest) (Result, error) {
	return r.Dispatch(ctx, g, req, nil)
}

// requestFor fills generation parameters the caller left unset from the
// instance configuration.
func requestFor(inst types.ProviderInstance, req llm.ChatRequest) llm.ChatRequest {
	if req.MaxTokens == 0 && inst.MaxTokens > 0 {
		req.MaxTokens = inst.MaxTokens
	}
	if req.Temperature == nil && inst.Temperature != nil {
		t := *inst.Temperature
		req.Temperature = &t
	}
	return req
}
