package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kairos-ai/kairos-core/internal/character"
	"github.com/kairos-ai/kairos-core/internal/config"
	"github.com/kairos-ai/kairos-core/internal/db"
	"github.com/kairos-ai/kairos-core/internal/domain"
	"github.com/kairos-ai/kairos-core/internal/enrichment"
	"github.com/kairos-ai/kairos-core/internal/llm"
	"github.com/kairos-ai/kairos-core/internal/orchestrator"
	"github.com/kairos-ai/kairos-core/internal/persistence"
	"github.com/kairos-ai/kairos-core/internal/promptbuilder"
	"github.com/kairos-ai/kairos-core/internal/relational"
	"github.com/kairos-ai/kairos-core/internal/relationship"
	"github.com/kairos-ai/kairos-core/internal/retriever"
	"github.com/kairos-ai/kairos-core/internal/timeseries"
	"github.com/kairos-ai/kairos-core/internal/trajectory"
	"github.com/kairos-ai/kairos-core/internal/vectorstore"

	"go.uber.org/zap"
)

// cli_chat is a terminal REPL over the same orchestrator pipeline cmd/api
// exposes over HTTP, useful for exercising a character turn-by-turn without
// standing up the server. It does not author characters: pass an existing
// character_id (see §1, character definitions are loaded externally).
func main() {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Each store gets its own pool sized per spec §5's bounded-concurrency
	// model, same as cmd/api.
	vectorPool, err := db.NewPool(ctx, cfg, int32(cfg.VectorPoolSize))
	if err != nil {
		log.Fatal(err)
	}
	defer vectorPool.Close()

	relPool, err := db.NewPool(ctx, cfg, int32(cfg.RelationalPoolSize))
	if err != nil {
		log.Fatal(err)
	}
	defer relPool.Close()

	tsPool, err := db.NewPool(ctx, cfg, int32(cfg.TimeSeriesPoolSize))
	if err != nil {
		log.Fatal(err)
	}
	defer tsPool.Close()

	vectorStore := vectorstore.NewPgStore(vectorPool)
	relationalStore := relational.NewPgStore(relPool)
	tsStore := timeseries.NewPgStore(tsPool)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	embedder := llm.NewHTTPEmbedder(cfg.EmbedderBaseURL, cfg.EmbedderAPIKey, cfg.EmbedderModel, httpClient)
	emotionAnalyzer := llm.NewHTTPEmotionAnalyzer(cfg.EmotionAnalyzerBaseURL, cfg.EmotionAnalyzerAPIKey, httpClient)
	llmClient := llm.NewLimitedClient(llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, httpClient), cfg.LLMPoolSize)

	retr := retriever.New(vectorStore, embedder)
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
	pipe.Character = character.New(relationalStore)
	pipe.Relationship = relationship.New(relationalStore, tsStore)
	pipe.Trajectory = trajectory.New(tsStore, vectorStore)
	pipe.Assembler = promptbuilder.New(cfg.TokenBudget, cfg.DedupHashPrefixChars)
	pipe.Persistence = persist
	pipe.Emoji = enrichment.EmojiDecorator{}

	fmt.Print("user_id > ")
	userID, _ := reader.ReadString('\n')
	userID = strings.TrimSpace(userID)

	fmt.Print("character_id > ")
	characterID, _ := reader.ReadString('\n')
	characterID = strings.TrimSpace(characterID)

	fmt.Println("Escribe tu mensaje (o 'salir' para terminar).")
	for {
		fmt.Print("Tu > ")
		text, err := reader.ReadString('\n')
		if err != nil {
			log.Fatalf("read input: %v", err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if strings.EqualFold(text, "salir") || strings.EqualFold(text, "exit") {
			fmt.Println("Saliendo...")
			return
		}

		turn := domain.Turn{
			UserID:      userID,
			CharacterID: characterID,
			Platform:    "cli",
			ChannelType: domain.ChannelDirect,
			Content:     text,
			ReceivedAt:  time.Now().UTC(),
		}

		result, err := pipe.Process(ctx, turn)
		if err != nil && !result.Success && result.ResponseText == "" {
			log.Printf("turn processing failed: %v", err)
			continue
		}
		fmt.Printf("Bot > %s\n", result.ResponseText)
	}
}
