package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dstowell/margin/internal/embedding"
	"github.com/dstowell/margin/internal/extract"
	"github.com/dstowell/margin/internal/generation"
	"github.com/dstowell/margin/internal/indexer"
	"github.com/dstowell/margin/internal/notebook"
	"github.com/dstowell/margin/internal/retrieval"
	"github.com/dstowell/margin/internal/store"
	"github.com/dstowell/margin/internal/vectorindex"
)

type hashProvider struct{}

func (hashProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedding.SyntheticVector(t, embedding.Dimension)
	}
	return out, nil
}

func (hashProvider) Dimension() int { return embedding.Dimension }

// stubGenerator answers with fixed text and one citation per group.
type stubGenerator struct{}

func (stubGenerator) Answer(_ context.Context, _ string, groups []retrieval.DocumentContext, _ []store.ChatTurn) (generation.Answer, error) {
	var citations []store.Citation
	for _, g := range groups {
		citations = append(citations, store.Citation{
			Filename:   g.Filename,
			DocumentID: g.DocumentID,
			Chunks:     g.Chunks,
		})
	}
	return generation.Answer{Text: "stub answer", Citations: citations}, nil
}

func (stubGenerator) Note(context.Context, string, []retrieval.DocumentContext) (string, error) {
	return "stub note", nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	idx := vectorindex.NewMemory(hashProvider{}, logger)
	pipeline := indexer.NewPipeline(st, idx, logger)
	queue := indexer.NewQueue(pipeline, 16, logger) // not started: jobs buffer
	retriever := retrieval.New(idx, st, logger)
	service := notebook.New(st, extract.New(nil, logger), queue, retriever, stubGenerator{}, logger)

	return New(service, idx, queue, logger)
}

func doJSON(t *testing.T, s *Server, method, path, user string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createNotebook(t *testing.T, s *Server, user string) store.Notebook {
	t.Helper()
	resp := doJSON(t, s, http.MethodPost, "/api/v1/notebooks", user, map[string]string{"title": "Research"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[store.Notebook](t, resp)
}

func uploadFile(t *testing.T, s *Server, user, notebookID, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notebooks/"+notebookID+"/documents", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-User-ID", user)

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestRequiresUserIdentity(t *testing.T) {
	s := newTestServer(t)

	resp := doJSON(t, s, http.MethodGet, "/api/v1/notebooks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNotebookLifecycle(t *testing.T) {
	s := newTestServer(t)

	nb := createNotebook(t, s, "u1")
	assert.Equal(t, "Research", nb.Title)

	resp := doJSON(t, s, http.MethodGet, "/api/v1/notebooks/"+nb.ID, "u1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, s, http.MethodPatch, "/api/v1/notebooks/"+nb.ID, "u1", map[string]string{"title": "Renamed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Renamed", decode[store.Notebook](t, resp).Title)

	resp = doJSON(t, s, http.MethodDelete, "/api/v1/notebooks/"+nb.ID, "u1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, s, http.MethodGet, "/api/v1/notebooks/"+nb.ID, "u1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNotebookOwnershipEnforced(t *testing.T) {
	s := newTestServer(t)
	nb := createNotebook(t, s, "u1")

	resp := doJSON(t, s, http.MethodGet, "/api/v1/notebooks/"+nb.ID, "u2", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDocumentUpload(t *testing.T) {
	s := newTestServer(t)
	nb := createNotebook(t, s, "u1")

	resp := uploadFile(t, s, "u1", nb.ID, "notes.txt", []byte("uploaded text content"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	doc := decode[store.Document](t, resp)
	assert.Equal(t, "notes.txt", doc.Filename)
	assert.Equal(t, store.StatusPending, doc.Status)

	resp = doJSON(t, s, http.MethodGet, "/api/v1/notebooks/"+nb.ID+"/documents", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	docs := decode[[]store.Document](t, resp)
	assert.Len(t, docs, 1)
}

func TestDocumentUploadUnsupportedFormat(t *testing.T) {
	s := newTestServer(t)
	nb := createNotebook(t, s, "u1")

	resp := uploadFile(t, s, "u1", nb.ID, "binary.exe", []byte("MZ"))
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestAskQuestion(t *testing.T) {
	s := newTestServer(t)
	nb := createNotebook(t, s, "u1")

	resp := uploadFile(t, s, "u1", nb.ID, "facts.txt", []byte("the answer lives here"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, s, http.MethodPost, "/api/v1/notebooks/"+nb.ID+"/chat", "u1",
		map[string]any{"message": "what is the answer?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	turn := decode[store.ChatTurn](t, resp)
	assert.Equal(t, "stub answer", turn.Content)
	assert.NotEmpty(t, turn.Citations)

	resp = doJSON(t, s, http.MethodGet, "/api/v1/notebooks/"+nb.ID+"/chat", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[[]store.ChatTurn](t, resp)
	assert.Len(t, history, 2)
}

func TestAskQuestionValidation(t *testing.T) {
	s := newTestServer(t)
	nb := createNotebook(t, s, "u1")

	resp := doJSON(t, s, http.MethodPost, "/api/v1/notebooks/"+nb.ID+"/chat", "u1",
		map[string]any{"message": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateContentValidation(t *testing.T) {
	s := newTestServer(t)
	nb := createNotebook(t, s, "u1")

	resp := doJSON(t, s, http.MethodPost, "/api/v1/notebooks/"+nb.ID+"/ai-content", "u1",
		map[string]any{"content_type": "podcast"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateContent(t *testing.T) {
	s := newTestServer(t)
	nb := createNotebook(t, s, "u1")

	resp := uploadFile(t, s, "u1", nb.ID, "src.txt", []byte("source material"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, s, http.MethodPost, "/api/v1/notebooks/"+nb.ID+"/ai-content", "u1",
		map[string]any{"content_type": "faq"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	note := decode[store.Note](t, resp)
	assert.Equal(t, "stub note", note.Content)
	assert.Equal(t, store.NoteSourceAI, note.SourceType)
}

func TestHealthAndJobs(t *testing.T) {
	s := newTestServer(t)

	resp := doJSON(t, s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[healthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)

	resp = doJSON(t, s, http.MethodGet, "/jobs", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobs := decode[jobsResponse](t, resp)
	assert.False(t, jobs.InFlight)
}
