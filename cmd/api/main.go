package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/kairos-ai/kairos-core/internal/character"
	"github.com/kairos-ai/kairos-core/internal/config"
	"github.com/kairos-ai/kairos-core/internal/db"
	"github.com/kairos-ai/kairos-core/internal/email"
	"github.com/kairos-ai/kairos-core/internal/enrichment"
	apihttp "github.com/kairos-ai/kairos-core/internal/http"
	"github.com/kairos-ai/kairos-core/internal/llm"
	"github.com/kairos-ai/kairos-core/internal/orchestrator"
	"github.com/kairos-ai/kairos-core/internal/persistence"
	"github.com/kairos-ai/kairos-core/internal/promptbuilder"
	"github.com/kairos-ai/kairos-core/internal/relational"
	"github.com/kairos-ai/kairos-core/internal/relationship"
	"github.com/kairos-ai/kairos-core/internal/repository"
	"github.com/kairos-ai/kairos-core/internal/retriever"
	"github.com/kairos-ai/kairos-core/internal/service"
	"github.com/kairos-ai/kairos-core/internal/timeseries"
	"github.com/kairos-ai/kairos-core/internal/trajectory"
	"github.com/kairos-ai/kairos-core/internal/vectorstore"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Each store gets its own pool sized per spec §5's bounded-concurrency
	// model (C4 50, C5 20, C6 20 by default) instead of sharing one limit;
	// the ambient repository package rides on the relational pool since it
	// is C5-adjacent (user/session/message CRUD), not a distinct store.
	vectorPool, err := db.NewPool(ctx, cfg, int32(cfg.VectorPoolSize))
	if err != nil {
		logger.Fatal("vector store db connect", zap.Error(err))
	}
	defer vectorPool.Close()

	relPool, err := db.NewPool(ctx, cfg, int32(cfg.RelationalPoolSize))
	if err != nil {
		logger.Fatal("relational store db connect", zap.Error(err))
	}
	defer relPool.Close()

	tsPool, err := db.NewPool(ctx, cfg, int32(cfg.TimeSeriesPoolSize))
	if err != nil {
		logger.Fatal("time-series store db connect", zap.Error(err))
	}
	defer tsPool.Close()

	// Auth ambient stack (Sprint 1 surface, unrelated to the turn pipeline).
	userRepo := repository.NewPgUserRepository(relPool)

	emailSender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}

	var (
		otpLimiter  service.OTPRateLimiter
		tokenStore  service.RefreshTokenStore
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			otpLimiter = service.NewRedisOTPRateLimiter(redisClient, 10*time.Minute, 3)
			tokenStore = service.NewRedisRefreshTokenStore(redisClient)
		}
		cancel()
	}
	if tokenStore == nil {
		tokenStore = service.NewMemoryRefreshTokenStore()
	}

	jwtSvc := service.NewJWTServiceWithStore(
		cfg.JWTSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
		tokenStore,
	)
	jwtSvc.Sessions = repository.NewPgSessionRepository(relPool)
	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}

	userSvc := service.NewUserService(logger, userRepo, emailSender, otpLimiter)
	userHandler := apihttp.NewUserHandler(logger, userSvc, jwtSvc)

	// Turn pipeline stack (C1-C14): no dedicated vector or time-series service
	// appears anywhere in the retrieved examples, so both ride on
	// pgvector/plain Postgres (see DESIGN.md), each over its own pool above.
	vectorStore := vectorstore.NewPgStore(vectorPool)
	relationalStore := relational.NewPgStore(relPool)
	tsStore := timeseries.NewPgStore(tsPool)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	embedder := llm.NewHTTPEmbedder(cfg.EmbedderBaseURL, cfg.EmbedderAPIKey, cfg.EmbedderModel, httpClient)
	emotionAnalyzer := llm.NewHTTPEmotionAnalyzer(cfg.EmotionAnalyzerBaseURL, cfg.EmotionAnalyzerAPIKey, httpClient)
	// LLMPoolSize bounds concurrent completions the way the pgx pools above
	// bound concurrent store connections, completing spec §5's per-store
	// connection-pool model for C3.
	llmClient := llm.NewLimitedClient(llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, httpClient), cfg.LLMPoolSize)

	retr := retriever.New(vectorStore, embedder)
	retr.Judge = llmClient
	if redisClient != nil {
		retr.DedupGuard = retriever.NewRedisContradictionGuard(redisClient, 30*time.Second)
	}
	charIntegrator := character.New(relationalStore)
	charIntegrator.DisclosureEnabled = cfg.EnableAIIdentityDisclosure
	relEngine := relationship.New(relationalStore, tsStore)
	traj := trajectory.New(tsStore, vectorStore)
	assembler := promptbuilder.New(cfg.TokenBudget, cfg.DedupHashPrefixChars)

	persist := persistence.New(vectorStore, relationalStore, tsStore, llmClient, embedder, cfg.LLMModelExtraction, cfg.VectorCollectionPrefix)
	persist.Retriever = retr

	pipe := orchestrator.New(orchestrator.Config{
		TurnDeadline:          time.Duration(cfg.TurnDeadlineMs) * time.Millisecond,
		ChatModel:             cfg.LLMModelChat,
		ExtractionModel:       cfg.LLMModelExtraction,
		CollectionPrefix:      cfg.VectorCollectionPrefix,
		TokenBudget:           cfg.TokenBudget,
		DedupPrefixChars:      cfg.DedupHashPrefixChars,
		HalfLifeDays:          cfg.MemoryRecencyHalfLifeDays,
		EnableEmojiDecoration: cfg.EnableEmojiDecoration,
	}, logger)
	pipe.Relational = relationalStore
	pipe.VectorStore = vectorStore
	pipe.TimeSeries = tsStore
	pipe.EmotionAnalyzer = emotionAnalyzer
	pipe.Embedder = embedder
	pipe.LLM = llmClient
	pipe.Retriever = retr
	pipe.Character = charIntegrator
	pipe.Relationship = relEngine
	pipe.Trajectory = traj
	pipe.Assembler = assembler
	pipe.Persistence = persist
	pipe.Emoji = enrichment.EmojiDecorator{}

	chatHandler := apihttp.NewChatHandler(logger, pipe)
	chatHandler.Messages = repository.NewPgMessageRepository(relPool)
	router := apihttp.NewRouter(logger, userHandler, chatHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
