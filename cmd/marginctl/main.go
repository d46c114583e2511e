// Package main provides marginctl, the operations CLI for the margin
// notebook service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/spf13/cobra"

	"github.com/dstowell/margin/internal/config"
	"github.com/dstowell/margin/internal/embedding"
	"github.com/dstowell/margin/internal/indexer"
	"github.com/dstowell/margin/internal/store"
	"github.com/dstowell/margin/internal/vectorindex"
)

var rootCmd = &cobra.Command{
	Use:   "marginctl",
	Short: "Operations tool for the margin notebook service",
	Long:  "CLI for reindexing documents and inspecting the vector index",
}

var reindexNotebookID string

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Re-index stored documents into the vector index",
	Long: `Re-chunks and re-embeds stored documents.

By default every notebook is reindexed; --notebook limits the run to
one notebook. Documents are processed sequentially with the same pacing
as the background queue.

Environment variables:
  VECTOR_BACKEND  memory | qdrant | pgvector (default: memory)
  QDRANT_HOST     Qdrant hostname (default: localhost)
  QDRANT_PORT     Qdrant gRPC port (default: 6334)
  POSTGRES_URL    Postgres connection string (pgvector backend)
  OPENAI_API_KEY  OpenAI API key for embeddings (required)
  DATA_DIR        SQLite data directory (default: ./data)`,
	RunE: runReindex,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index readiness and document counts",
	RunE:  runStatus,
}

func init() {
	reindexCmd.Flags().StringVar(&reindexNotebookID, "notebook", "", "reindex only this notebook")
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup opens the store and the configured index backend.
func setup(ctx context.Context) (*store.Store, vectorindex.Index, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := slog.Default()

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	openaiClient := openai.NewClient(option.WithAPIKey(cfg.OpenAIAPIKey))
	provider := embedding.NewFallback(embedding.NewOpenAI(&openaiClient, 0), 0, logger)

	var (
		index   vectorindex.Index
		cleanup = func() {}
	)
	switch cfg.VectorBackend {
	case config.BackendQdrant:
		idx, err := vectorindex.NewQdrant(cfg.QdrantHost, cfg.QdrantPort, provider, logger)
		if err != nil {
			st.Close()
			return nil, nil, nil, err
		}
		index, cleanup = idx, func() { idx.Close() }
	case config.BackendPgvector:
		idx, err := vectorindex.NewPgvector(ctx, cfg.PostgresURL, provider, logger)
		if err != nil {
			st.Close()
			return nil, nil, nil, err
		}
		index, cleanup = idx, idx.Close
	default:
		index = vectorindex.NewMemory(provider, logger)
	}

	closeAll := func() {
		cleanup()
		st.Close()
	}
	return st, index, closeAll, nil
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	start := time.Now()

	st, index, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	notebooks, err := listTargetNotebooks(ctx, st)
	if err != nil {
		return err
	}

	pipeline := indexer.NewPipeline(st, index, slog.Default())

	var indexed, failed int
	for _, nb := range notebooks {
		docs, err := st.ListDocuments(ctx, nb.ID)
		if err != nil {
			return fmt.Errorf("list documents of %s: %w", nb.ID, err)
		}
		fmt.Printf("Notebook %s (%s): %d documents\n", nb.Title, nb.ID, len(docs))

		for _, doc := range docs {
			if err := pipeline.IndexDocument(ctx, doc.ID); err != nil {
				fmt.Printf("  failed %s (%s): %v\n", doc.Filename, doc.ID, err)
				failed++
				continue
			}
			indexed++
			// Same pacing as the background queue.
			time.Sleep(2 * time.Second)
		}
	}

	fmt.Println()
	fmt.Printf("Reindex complete: %d indexed, %d failed in %s\n",
		indexed, failed, time.Since(start).Round(time.Second))
	return nil
}

// listTargetNotebooks resolves the --notebook flag.
func listTargetNotebooks(ctx context.Context, st *store.Store) ([]store.Notebook, error) {
	if reindexNotebookID != "" {
		nb, err := st.GetNotebook(ctx, reindexNotebookID)
		if err != nil {
			return nil, fmt.Errorf("notebook %s: %w", reindexNotebookID, err)
		}
		return []store.Notebook{*nb}, nil
	}
	return st.AllNotebooks(ctx)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	st, index, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	notebooks, err := st.AllNotebooks(ctx)
	if err != nil {
		return err
	}
	var docs int
	for _, nb := range notebooks {
		list, err := st.ListDocuments(ctx, nb.ID)
		if err != nil {
			return err
		}
		docs += len(list)
	}

	fmt.Printf("Store:  %s\n", st.Path())
	fmt.Printf("  notebooks: %d\n", len(notebooks))
	fmt.Printf("  documents: %d\n", docs)

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if !index.Ready(checkCtx) {
		fmt.Println("Index:  unreachable")
		return nil
	}

	count, err := index.Count(ctx)
	if err != nil {
		return fmt.Errorf("count indexed documents: %w", err)
	}
	fmt.Println("Index:  ready")
	fmt.Printf("  indexed documents: %d\n", count)
	return nil
}
