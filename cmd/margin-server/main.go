// Package main runs the margin HTTP server: document-grounded notebook
// chat with background indexing.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dstowell/margin/internal/api"
	"github.com/dstowell/margin/internal/config"
	"github.com/dstowell/margin/internal/embedding"
	"github.com/dstowell/margin/internal/extract"
	"github.com/dstowell/margin/internal/generation"
	"github.com/dstowell/margin/internal/indexer"
	"github.com/dstowell/margin/internal/notebook"
	"github.com/dstowell/margin/internal/retrieval"
	"github.com/dstowell/margin/internal/store"
	"github.com/dstowell/margin/internal/vectorindex"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	st, err := store.New(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	openaiClient := openai.NewClient(option.WithAPIKey(cfg.OpenAIAPIKey))
	provider := embedding.NewFallback(embedding.NewOpenAI(&openaiClient, 0), 0, logger)

	index, cleanup, err := buildIndex(ctx, cfg, provider, logger)
	if err != nil {
		log.Fatalf("failed to build vector index: %v", err)
	}
	defer cleanup()

	pipeline := indexer.NewPipeline(st, index, logger)
	queue := indexer.NewQueue(pipeline, cfg.QueueSize, logger)
	queue.Start()
	defer queue.Stop()

	var ocr *extract.OCRClient
	if cfg.OCRServiceURL != "" {
		ocr = extract.NewOCRClient(cfg.OCRServiceURL, 0)
	}
	extractor := extract.New(ocr, logger)

	retriever := retrieval.New(index, st, logger)
	generator := generation.New(generation.NewOpenAI(&openaiClient, cfg.ChatModel), logger)
	service := notebook.New(st, extractor, queue, retriever, generator, logger)

	server := api.New(service, index, queue, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		if err := server.Shutdown(); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	addr := "0.0.0.0:" + cfg.Port
	logger.Info("starting server", "addr", addr, "vector_backend", cfg.VectorBackend)
	if err := server.Listen(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// buildIndex selects the vector backend from configuration.
func buildIndex(ctx context.Context, cfg *config.Config, provider embedding.Provider, logger *slog.Logger) (vectorindex.Index, func(), error) {
	switch cfg.VectorBackend {
	case config.BackendQdrant:
		idx, err := vectorindex.NewQdrant(cfg.QdrantHost, cfg.QdrantPort, provider, logger)
		if err != nil {
			return nil, nil, err
		}
		return idx, func() { idx.Close() }, nil

	case config.BackendPgvector:
		idx, err := vectorindex.NewPgvector(ctx, cfg.PostgresURL, provider, logger)
		if err != nil {
			return nil, nil, err
		}
		return idx, idx.Close, nil

	default:
		return vectorindex.NewMemory(provider, logger), func() {}, nil
	}
}
