package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kairos-ai/kairos-core/internal/character"
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
)

// pipeline_bench is an operator CLI that drives the orchestrator against the
// fake in-memory stores and a canned LLM response, so a character fixture can
// be smoke-tested without a database or a live model endpoint.
func main() {
	root := &cobra.Command{
		Use:   "pipeline_bench",
		Short: "Replay turns through the orchestrator against in-memory fakes",
	}

	var responseText string
	replayCmd := &cobra.Command{
		Use:   "replay <fixture.json>",
		Short: "Seed a character and run every turn in the fixture through the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(args[0], responseText)
		},
	}
	replayCmd.Flags().StringVar(&responseText, "response", "That's interesting, tell me more.", "canned LLM response the mock client returns every turn")

	seedCmd := &cobra.Command{
		Use:   "seed <fixture.json>",
		Short: "Validate a fixture and print the character definition it would seed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(args[0])
		},
	}

	root.AddCommand(replayCmd, seedCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSeed(fixturePath string) error {
	fixture, err := loadFixture(fixturePath)
	if err != nil {
		return err
	}
	fmt.Printf("character_id=%s name=%q archetype=%s turns=%d\n",
		fixture.Character.ID, fixture.Character.Name, fixture.Character.Archetype, len(fixture.Turns))
	return nil
}

func runReplay(fixturePath, cannedResponse string) error {
	fixture, err := loadFixture(fixturePath)
	if err != nil {
		return err
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	relationalStore := relational.NewFakeStore()
	relationalStore.PutCharacterDefinition(fixture.Character)

	vectorStore := vectorstore.NewFakeStore()
	tsStore := timeseries.NewFakeStore()

	embedder := &llm.MockEmbedder{}
	emotionAnalyzer := &llm.MockEmotionAnalyzer{
		Record: domain.EmotionRecord{PrimaryEmotion: "joy", Confidence: 0.8, EmotionalIntensity: 0.6},
	}
	llmClient := &llm.MockClient{Response: cannedResponse}

	retr := retriever.New(vectorStore, embedder)
	persist := persistence.New(vectorStore, relationalStore, tsStore, llmClient, embedder, "bench-extraction", "bench")
	persist.Retriever = retr

	pipe := orchestrator.New(orchestrator.Config{
		TurnDeadline:          10 * time.Second,
		ChatModel:             "bench-chat",
		ExtractionModel:       "bench-extraction",
		CollectionPrefix:      "bench",
		TokenBudget:           4000,
		DedupPrefixChars:      100,
		HalfLifeDays:          30,
		EnableEmojiDecoration: true,
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
	pipe.Assembler = promptbuilder.New(4000, 100)
	pipe.Persistence = persist
	pipe.Emoji = enrichment.EmojiDecorator{}

	ctx := context.Background()
	for i, tf := range fixture.Turns {
		turn := tf.toTurn(time.Now().UTC())
		result, err := pipe.Process(ctx, turn)
		fmt.Printf("--- turn %d ---\n", i+1)
		fmt.Printf("you: %s\n", turn.Content)
		fmt.Printf("bot: %s\n", result.ResponseText)
		if err != nil {
			fmt.Printf("(outcome: %v)\n", err)
		}
	}
	return nil
}
