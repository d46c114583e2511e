package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dstowell/margin/internal/embedding"
)

const (
	// CollectionName is the single Qdrant collection for all chunks.
	CollectionName = "chunks"

	// Collection creation is retried a bounded number of times, then
	// readiness is polled. Worst case roughly five minutes.
	createAttempts    = 3
	readinessPolls    = 60
	readinessInterval = 5 * time.Second
)

// pointNamespace scopes deterministic chunk point IDs.
var pointNamespace = uuid.MustParse("8e1f1b0a-4c3d-49c7-9a52-6d1f6b5e0c44")

// Qdrant is an Index backed by a Qdrant collection over gRPC.
// Collection creation is lazy and memoized: the first operation
// triggers it, concurrent callers wait on the same in-flight attempt,
// and a failed attempt is retried by the next caller rather than cached
// as permanent.
type Qdrant struct {
	client   *qdrant.Client
	provider embedding.Provider
	logger   *slog.Logger

	initMu sync.Mutex
	ready  bool
}

// NewQdrant creates a Qdrant-backed index. It does not touch the server;
// the collection is created on first use.
func NewQdrant(host string, port int, provider embedding.Provider, logger *slog.Logger) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Qdrant{
		client:   client,
		provider: provider,
		logger:   logger,
	}, nil
}

// Close closes the underlying gRPC connection.
func (q *Qdrant) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

// ensureReady creates the collection once. The mutex makes concurrent
// initializers wait for the single in-flight attempt; q.ready is only
// set on success so failures stay retryable.
func (q *Qdrant) ensureReady(ctx context.Context) error {
	q.initMu.Lock()
	defer q.initMu.Unlock()

	if q.ready {
		return nil
	}

	exists, err := q.client.CollectionExists(ctx, CollectionName)
	if err != nil {
		return fmt.Errorf("%w: check collection: %v", ErrIndexUnavailable, err)
	}

	if !exists {
		if err := q.createCollection(ctx); err != nil {
			return err
		}
		if err := q.awaitCollection(ctx); err != nil {
			return err
		}
	}

	q.ready = true
	return nil
}

func (q *Qdrant) createCollection(ctx context.Context) error {
	operation := func() error {
		err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: CollectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(q.provider.Dimension()),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			if status.Code(err) == codes.ResourceExhausted {
				// Quota conditions do not heal on retry.
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrCapacityExceeded, err))
			}
			return err
		}
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), createAttempts-1)
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	// Payload index keeps delete-by-document and scoped scans fast.
	_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: CollectionName,
		FieldName:      "document_id",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		q.logger.Warn("creating document_id payload index failed", "error", err)
	}
	return nil
}

// awaitCollection polls until the new collection is visible, bounded by
// readinessPolls.
func (q *Qdrant) awaitCollection(ctx context.Context) error {
	for i := 0; i < readinessPolls; i++ {
		exists, err := q.client.CollectionExists(ctx, CollectionName)
		if err == nil && exists {
			return nil
		}
		select {
		case <-time.After(readinessInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: collection not ready after %d polls", ErrIndexUnavailable, readinessPolls)
}

// pointID derives a stable UUID for a chunk so re-upserting the same
// document overwrites its points instead of duplicating them.
func pointID(documentID string, chunkIndex int) string {
	return uuid.NewSHA1(pointNamespace, []byte(documentID+"#"+strconv.Itoa(chunkIndex))).String()
}

// Upsert implements Index.
func (q *Qdrant) Upsert(ctx context.Context, doc DocumentChunks) error {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	if err := q.ensureReady(ctx); err != nil {
		return err
	}

	embedded, err := embedChunks(ctx, q.provider, doc, q.logger)
	if err != nil {
		return err
	}
	if len(embedded) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(embedded))
	for i, ec := range embedded {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(doc.DocumentID, ec.Index)),
			Vectors: qdrant.NewVectors(ec.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"document_id": doc.DocumentID,
				"chunk_index": ec.Index,
				"filename":    doc.Filename,
				"title":       doc.Title,
				"content":     ec.Text,
			}),
		}
	}

	if err := q.upsertWithRetry(ctx, points); err != nil {
		return fmt.Errorf("%w: upsert %d points: %v", ErrIndexUnavailable, len(points), err)
	}
	if len(embedded) < len(doc.Chunks) {
		q.logger.Warn("document partially indexed",
			"document_id", doc.DocumentID, "indexed", len(embedded), "total", len(doc.Chunks))
	}
	return nil
}

// upsertWithRetry performs the upsert with exponential backoff.
func (q *Qdrant) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: CollectionName,
			Points:         points,
		})
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

// Search implements Index.
func (q *Qdrant) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	if err := q.ensureReady(ctx); err != nil {
		return nil, err
	}

	queryVec, err := embedQuery(ctx, q.provider, query)
	if err != nil {
		return nil, err
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: CollectionName,
		Query:          qdrant.NewQuery(queryVec...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrIndexUnavailable, err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, point := range points {
		payload := point.Payload
		results = append(results, SearchResult{
			Content:    payload["content"].GetStringValue(),
			Filename:   payload["filename"].GetStringValue(),
			Title:      payload["title"].GetStringValue(),
			DocumentID: payload["document_id"].GetStringValue(),
			Similarity: float64(point.Score),
		})
	}
	return results, nil
}

// Remove implements Index: delete-by-filter, idempotent by
// construction.
func (q *Qdrant) Remove(ctx context.Context, documentID string) error {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	if err := q.ensureReady(ctx); err != nil {
		return err
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: CollectionName,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", documentID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: delete document %s: %v", ErrIndexUnavailable, documentID, err)
	}
	return nil
}

// Count implements Index. Scrolls document_id payloads and counts
// distinct values.
func (q *Qdrant) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	if err := q.ensureReady(ctx); err != nil {
		return 0, err
	}

	seen := make(map[string]struct{})
	var offset *qdrant.PointId
	batchSize := uint32(256)

	for {
		points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: CollectionName,
			Limit:          qdrant.PtrOf(batchSize),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude("document_id"),
		})
		if err != nil {
			return 0, fmt.Errorf("%w: scroll: %v", ErrIndexUnavailable, err)
		}

		for _, point := range points {
			if id := point.Payload["document_id"].GetStringValue(); id != "" {
				seen[id] = struct{}{}
			}
		}

		if uint32(len(points)) < batchSize {
			break
		}
		offset = points[len(points)-1].Id
	}

	return len(seen), nil
}

// Ready implements Index via the Qdrant health check.
func (q *Qdrant) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := q.client.HealthCheck(ctx)
	return err == nil && result != nil
}
