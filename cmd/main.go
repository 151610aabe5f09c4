package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openadmit/counselor-backend/internal/audit"
	"github.com/openadmit/counselor-backend/internal/config"
	"github.com/openadmit/counselor-backend/internal/data/db"
	"github.com/openadmit/counselor-backend/internal/data/repos"
	types "github.com/openadmit/counselor-backend/internal/domain"
	"github.com/openadmit/counselor-backend/internal/http/handlers"
	"github.com/openadmit/counselor-backend/internal/http/middleware"
	"github.com/openadmit/counselor-backend/internal/jobs"
	"github.com/openadmit/counselor-backend/internal/modules/pipeline/prompts"
	"github.com/openadmit/counselor-backend/internal/modules/pipeline/router"
	"github.com/openadmit/counselor-backend/internal/modules/pipeline/steps"
	"github.com/openadmit/counselor-backend/internal/modules/review"
	"github.com/openadmit/counselor-backend/internal/observability"
	"github.com/openadmit/counselor-backend/internal/pkg/logger"
	"github.com/openadmit/counselor-backend/internal/platform/envutil"
	"github.com/openadmit/counselor-backend/internal/platform/llm"
	"github.com/openadmit/counselor-backend/internal/platform/vector"
	"github.com/openadmit/counselor-backend/internal/platform/websearch"
	"github.com/openadmit/counselor-backend/internal/realtime/bus"
	"github.com/openadmit/counselor-backend/internal/server"
	"github.com/openadmit/counselor-backend/internal/sse"
)

func main() {
	log, err := logger.New(envutil.Str("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel := observability.InitOTel(ctx, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("postgres init failed", "error", err)
	}
	thePG := postgresService.DB()
	if err := db.AutoMigrateAll(thePG); err != nil {
		log.Fatal("postgres auto migration failed", "error", err)
	}

	// Repos
	log.Info("setting up repos...")
	conversationRepo := repos.NewConversationRepo(thePG, log)
	messageRepo := repos.NewMessageRepo(thePG, log)
	knowledgeRepo := repos.NewKnowledgeRepo(thePG, log)
	policyRepo := repos.NewPolicyRepo(thePG, log)
	auditRepo := repos.NewAuditRepo(thePG, log)
	jobRunRepo := repos.NewJobRunRepo(thePG, log)

	// Platform collaborators
	vectorStore, err := vector.NewQdrantStore(log)
	if err != nil {
		log.Warn("vector store unavailable, retrieval will degrade", "error", err)
		vectorStore = nil
	}
	webClient, err := websearch.NewFromEnv(log)
	if err != nil {
		log.Warn("web search client init failed", "error", err)
	}
	embedder := newEmbedder(log)

	promptLibrary, err := prompts.Load(log)
	if err != nil {
		log.Fatal("failed to load role prompts", "error", err)
	}

	configLoader := config.NewLoader(log, policyRepo)
	llmRouter := router.New(log, nil)
	auditEmitter := audit.NewEmitter(log, auditRepo)

	respondDeps := steps.RespondDeps{
		DB:            thePG,
		Log:           log,
		Conversations: conversationRepo,
		Messages:      messageRepo,
		Jobs:          jobRunRepo,
		Audit:         auditEmitter,
		Config:        configLoader,
		Router:        llmRouter,
		Prompts:       promptLibrary,
		Retrieve: steps.RetrieveDeps{
			Log:       log,
			Knowledge: knowledgeRepo,
			Vector:    vectorStore,
			Embedder:  embedder,
			Web:       webClient,
		},
	}

	// Realtime fan-out: SSE hub locally, Redis bus across instances.
	sseHub := sse.NewHub(log)
	frameBus, err := bus.NewRedisBus(log)
	if err != nil {
		log.Warn("redis frame bus unavailable, running single-instance", "error", err)
		frameBus = nil
	} else {
		if err := frameBus.StartForwarder(ctx, sseHub.Broadcast); err != nil {
			log.Warn("frame forwarder failed to start", "error", err)
		}
		defer frameBus.Close()
	}

	// Background jobs: fact review + title generation.
	reviewDeps := review.Deps{
		Log:           log,
		Conversations: conversationRepo,
		Messages:      messageRepo,
		Config:        configLoader,
		Router:        llmRouter,
	}
	worker := jobs.NewWorker(log, jobRunRepo)
	worker.Register(types.JobTypeReviewMessage, func(ctx context.Context, job *types.JobRun) error {
		return review.ReviewMessage(ctx, reviewDeps, job.EntityID)
	})
	worker.Register(types.JobTypeTitleGenerate, func(ctx context.Context, job *types.JobRun) error {
		return review.GenerateTitle(ctx, reviewDeps, job.EntityID)
	})
	worker.Start(ctx)

	// HTTP
	authMiddleware, err := middleware.NewAuthMiddleware(log)
	if err != nil {
		log.Fatal("auth middleware init failed", "error", err)
	}
	engine := server.NewRouter(server.RouterConfig{
		AuthMiddleware:      authMiddleware,
		HealthHandler:       handlers.NewHealthHandler(),
		ConversationHandler: handlers.NewConversationHandler(log, conversationRepo, messageRepo),
		TurnHandler:         handlers.NewTurnHandler(log, respondDeps, frameBus, sseHub),
		RealtimeHandler:     handlers.NewRealtimeHandler(log, sseHub, conversationRepo),
	})

	addr := ":" + envutil.Str("PORT", "8080")
	srv := &http.Server{Addr: addr, Handler: engine}
	go func() {
		log.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", "error", err)
	}
	if shutdownOtel != nil {
		if err := shutdownOtel(shutdownCtx); err != nil {
			log.Warn("otel shutdown failed", "error", err)
		}
	}
}

// newEmbedder builds the embedding client from its own env config. Embeddings
// are pinned to one instance; routing them would make stored vectors and
// query vectors drift apart.
func newEmbedder(log *logger.Logger) llm.Provider {
	baseURL := envutil.Str("EMBED_BASE_URL", "")
	if baseURL == "" {
		log.Warn("EMBED_BASE_URL unset, knowledge retrieval disabled")
		return nil
	}
	client, err := llm.NewOpenAIClient(log, llm.Config{
		Name:       "embedder",
		BaseURL:    baseURL,
		APIKey:     envutil.Str("EMBED_API_KEY", ""),
		Model:      envutil.Str("EMBED_MODEL", "text-embedding-3-small"),
		EmbedModel: envutil.Str("EMBED_MODEL", "text-embedding-3-small"),
		Timeout:    envutil.Duration("EMBED_TIMEOUT_SECONDS", 30*time.Second),
	})
	if err != nil {
		log.Warn("embedder init failed, knowledge retrieval disabled", "error", err)
		return nil
	}
	return client
}
