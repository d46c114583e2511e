// Package notebook is the service layer: it owns notebook-scoped
// authorization and stitches together extraction, storage, background
// indexing, retrieval and generation behind the inbound operations.
package notebook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dstowell/margin/internal/extract"
	"github.com/dstowell/margin/internal/generation"
	"github.com/dstowell/margin/internal/retrieval"
	"github.com/dstowell/margin/internal/store"
)

const (
	// MaxUploadBytes caps a single uploaded file.
	MaxUploadBytes = 10 << 20
)

// allowedExtensions is the upload allow-list.
var allowedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
	".md":   true,
}

var (
	// ErrNotFound is returned when the referenced notebook, document or
	// note does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied is returned when the caller does not own the
	// notebook the operation targets.
	ErrAccessDenied = errors.New("access denied")

	// ErrFileTooLarge is returned when an upload exceeds MaxUploadBytes.
	ErrFileTooLarge = fmt.Errorf("file exceeds %d byte limit", MaxUploadBytes)
)

// TextExtractor converts uploaded bytes into sanitized text and a
// title.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, filename, ext string) (text, title string, err error)
}

// IndexQueue schedules background index maintenance.
type IndexQueue interface {
	EnqueueIndex(documentID string) bool
	EnqueueRemove(documentID string) bool
}

// ContextRetriever produces grounded context for questions and content
// generation.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query, notebookID string, selectedDocIDs []string) ([]retrieval.DocumentContext, error)
	RetrieveAll(ctx context.Context, notebookID string, selectedDocIDs []string) ([]retrieval.DocumentContext, error)
}

// AnswerGenerator produces grounded answers and structured notes.
type AnswerGenerator interface {
	Answer(ctx context.Context, query string, groups []retrieval.DocumentContext, history []store.ChatTurn) (generation.Answer, error)
	Note(ctx context.Context, contentType string, groups []retrieval.DocumentContext) (string, error)
}

// Service implements the inbound operations.
type Service struct {
	store     *store.Store
	extractor TextExtractor
	queue     IndexQueue
	retriever ContextRetriever
	generator AnswerGenerator
	logger    *slog.Logger
}

// New creates a Service.
func New(
	st *store.Store,
	extractor TextExtractor,
	queue IndexQueue,
	retriever ContextRetriever,
	generator AnswerGenerator,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		extractor: extractor,
		queue:     queue,
		retriever: retriever,
		generator: generator,
		logger:    logger,
	}
}

// authorize loads a notebook and verifies ownership.
func (s *Service) authorize(ctx context.Context, ownerID, notebookID string) (*store.Notebook, error) {
	nb, err := s.store.GetNotebook(ctx, notebookID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if nb.OwnerID != ownerID {
		return nil, ErrAccessDenied
	}
	return nb, nil
}

// ==================== Notebooks ====================

// CreateNotebook creates an empty notebook for ownerID.
func (s *Service) CreateNotebook(ctx context.Context, ownerID, title string) (*store.Notebook, error) {
	if strings.TrimSpace(title) == "" {
		title = "Untitled notebook"
	}
	nb := &store.Notebook{
		ID:      uuid.New().String(),
		OwnerID: ownerID,
		Title:   title,
	}
	if err := s.store.SaveNotebook(ctx, nb); err != nil {
		return nil, err
	}
	return nb, nil
}

// GetNotebook returns a notebook the caller owns.
func (s *Service) GetNotebook(ctx context.Context, ownerID, notebookID string) (*store.Notebook, error) {
	return s.authorize(ctx, ownerID, notebookID)
}

// ListNotebooks returns the caller's notebooks.
func (s *Service) ListNotebooks(ctx context.Context, ownerID string) ([]store.Notebook, error) {
	return s.store.ListNotebooks(ctx, ownerID)
}

// RenameNotebook updates a notebook's title.
func (s *Service) RenameNotebook(ctx context.Context, ownerID, notebookID, title string) (*store.Notebook, error) {
	nb, err := s.authorize(ctx, ownerID, notebookID)
	if err != nil {
		return nil, err
	}
	nb.Title = title
	if err := s.store.SaveNotebook(ctx, nb); err != nil {
		return nil, err
	}
	return nb, nil
}

// DeleteNotebook removes a notebook, its contents, and its indexed
// chunks.
func (s *Service) DeleteNotebook(ctx context.Context, ownerID, notebookID string) error {
	if _, err := s.authorize(ctx, ownerID, notebookID); err != nil {
		return err
	}

	docs, err := s.store.ListDocuments(ctx, notebookID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteNotebook(ctx, notebookID); err != nil {
		return err
	}
	for _, doc := range docs {
		s.queue.EnqueueRemove(doc.ID)
	}
	return nil
}

// ==================== Documents ====================

// UploadDocument validates, extracts and persists an uploaded file,
// then enqueues indexing. It returns as soon as extraction and storage
// succeed; indexing completes in the background.
func (s *Service) UploadDocument(ctx context.Context, ownerID, notebookID, filename string, data []byte) (*store.Document, error) {
	if _, err := s.authorize(ctx, ownerID, notebookID); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("%w: %s", extract.ErrUnsupportedFormat, ext)
	}
	if len(data) > MaxUploadBytes {
		return nil, ErrFileTooLarge
	}

	text, title, err := s.extractor.Extract(ctx, data, filename, ext)
	if err != nil {
		return nil, err
	}

	doc := &store.Document{
		ID:         uuid.New().String(),
		NotebookID: notebookID,
		Filename:   filename,
		Title:      title,
		Content:    text,
		SizeBytes:  int64(len(data)),
		Status:     store.StatusPending,
	}
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}

	if !s.queue.EnqueueIndex(doc.ID) {
		s.logger.Warn("indexing not scheduled, document served from raw content",
			"document_id", doc.ID)
	}

	s.logger.Info("document uploaded",
		"document_id", doc.ID, "notebook_id", notebookID, "filename", filename, "bytes", len(data))
	return doc, nil
}

// ListDocuments returns a notebook's documents.
func (s *Service) ListDocuments(ctx context.Context, ownerID, notebookID string) ([]store.Document, error) {
	if _, err := s.authorize(ctx, ownerID, notebookID); err != nil {
		return nil, err
	}
	return s.store.ListDocuments(ctx, notebookID)
}

// DeleteDocument removes a document and schedules its chunks for
// deletion from the index. Chat history referencing it is untouched.
func (s *Service) DeleteDocument(ctx context.Context, ownerID, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if _, err := s.authorize(ctx, ownerID, doc.NotebookID); err != nil {
		return err
	}

	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	s.queue.EnqueueRemove(documentID)
	return nil
}

// ==================== Chat ====================

// AskQuestion retrieves grounded context, generates an answer and
// persists both sides of the exchange. The returned turn carries the
// citations.
func (s *Service) AskQuestion(ctx context.Context, ownerID, notebookID, message string, selectedDocIDs []string) (*store.ChatTurn, error) {
	if _, err := s.authorize(ctx, ownerID, notebookID); err != nil {
		return nil, err
	}

	history, err := s.store.ListChatTurns(ctx, notebookID, generation.MaxHistoryTurns)
	if err != nil {
		return nil, err
	}

	groups, err := s.retriever.Retrieve(ctx, message, notebookID, selectedDocIDs)
	if err != nil {
		return nil, err
	}

	answer, err := s.generator.Answer(ctx, message, groups, history)
	if err != nil {
		return nil, err
	}

	userTurn := &store.ChatTurn{
		ID:         uuid.New().String(),
		NotebookID: notebookID,
		Role:       store.RoleUser,
		Content:    message,
	}
	if err := s.store.AppendChatTurn(ctx, userTurn); err != nil {
		return nil, err
	}

	assistantTurn := &store.ChatTurn{
		ID:         uuid.New().String(),
		NotebookID: notebookID,
		Role:       store.RoleAssistant,
		Content:    answer.Text,
		Citations:  answer.Citations,
	}
	if err := s.store.AppendChatTurn(ctx, assistantTurn); err != nil {
		return nil, err
	}
	return assistantTurn, nil
}

// GetHistory returns a notebook's conversation, oldest first.
func (s *Service) GetHistory(ctx context.Context, ownerID, notebookID string) ([]store.ChatTurn, error) {
	if _, err := s.authorize(ctx, ownerID, notebookID); err != nil {
		return nil, err
	}
	return s.store.ListChatTurns(ctx, notebookID, 0)
}

// ClearHistory deletes a notebook's conversation. Notes saved from chat
// keep their content.
func (s *Service) ClearHistory(ctx context.Context, ownerID, notebookID string) error {
	if _, err := s.authorize(ctx, ownerID, notebookID); err != nil {
		return err
	}
	return s.store.ClearChat(ctx, notebookID)
}

// ==================== Notes ====================

// CreateNote saves a user-written note.
func (s *Service) CreateNote(ctx context.Context, ownerID, notebookID, title, content string) (*store.Note, error) {
	if _, err := s.authorize(ctx, ownerID, notebookID); err != nil {
		return nil, err
	}
	note := &store.Note{
		ID:         uuid.New().String(),
		NotebookID: notebookID,
		Title:      title,
		Content:    content,
		SourceType: store.NoteSourceUser,
	}
	if err := s.store.SaveNote(ctx, note); err != nil {
		return nil, err
	}
	return note, nil
}

// SaveAnswerAsNote copies a chat answer into a note with a weak link
// back to the turn.
func (s *Service) SaveAnswerAsNote(ctx context.Context, ownerID, notebookID, chatTurnID, title, content string) (*store.Note, error) {
	if _, err := s.authorize(ctx, ownerID, notebookID); err != nil {
		return nil, err
	}
	note := &store.Note{
		ID:           uuid.New().String(),
		NotebookID:   notebookID,
		Title:        title,
		Content:      content,
		SourceType:   store.NoteSourceAI,
		LinkedChatID: chatTurnID,
	}
	if err := s.store.SaveNote(ctx, note); err != nil {
		return nil, err
	}
	return note, nil
}

// ListNotes returns a notebook's notes.
func (s *Service) ListNotes(ctx context.Context, ownerID, notebookID string) ([]store.Note, error) {
	if _, err := s.authorize(ctx, ownerID, notebookID); err != nil {
		return nil, err
	}
	return s.store.ListNotes(ctx, notebookID)
}

// DeleteNote removes a note the caller owns.
func (s *Service) DeleteNote(ctx context.Context, ownerID, noteID string) error {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if _, err := s.authorize(ctx, ownerID, note.NotebookID); err != nil {
		return err
	}
	return s.store.DeleteNote(ctx, noteID)
}

// GenerateAIContent builds structured content over the selected
// documents (or the whole notebook) and saves it as a note.
func (s *Service) GenerateAIContent(ctx context.Context, ownerID, notebookID, contentType string, selectedDocIDs []string) (*store.Note, error) {
	if _, err := s.authorize(ctx, ownerID, notebookID); err != nil {
		return nil, err
	}

	groups, err := s.retriever.RetrieveAll(ctx, notebookID, selectedDocIDs)
	if err != nil {
		return nil, err
	}

	content, err := s.generator.Note(ctx, contentType, groups)
	if err != nil {
		return nil, err
	}

	note := &store.Note{
		ID:            uuid.New().String(),
		NotebookID:    notebookID,
		Title:         noteTitle(contentType),
		Content:       content,
		SourceType:    store.NoteSourceAI,
		AIContentType: contentType,
	}
	if err := s.store.SaveNote(ctx, note); err != nil {
		return nil, err
	}
	return note, nil
}

// noteTitle derives a display title from the content type.
func noteTitle(contentType string) string {
	switch contentType {
	case generation.ContentStudyGuide:
		return "Study Guide"
	case generation.ContentBriefingDoc:
		return "Briefing Document"
	case generation.ContentFAQ:
		return "FAQ"
	case generation.ContentTimeline:
		return "Timeline"
	default:
		return contentType
	}
}
