// Package api exposes the notebook service over HTTP. Authentication
// is an external collaborator: requests arrive with the authenticated
// user in the X-User-ID header, set by the fronting auth proxy.
package api

import (
	"io"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/dstowell/margin/internal/indexer"
	"github.com/dstowell/margin/internal/notebook"
	"github.com/dstowell/margin/internal/vectorindex"
)

// Server wires the HTTP surface to the service layer.
type Server struct {
	app     *fiber.App
	service *notebook.Service
	index   vectorindex.Index
	queue   *indexer.Queue
	logger  *slog.Logger
}

// New builds the fiber application and its routes.
func New(service *notebook.Service, index vectorindex.Index, queue *indexer.Queue, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler,
		BodyLimit:    notebook.MaxUploadBytes + 1<<20, // multipart framing slack
	})

	s := &Server{
		app:     app,
		service: service,
		index:   index,
		queue:   queue,
		logger:  logger,
	}

	app.Get("/health", s.handleHealth)
	app.Get("/jobs", s.handleJobs)

	v1 := app.Group("/api/v1", s.requireUser)

	v1.Post("/notebooks", s.handleCreateNotebook)
	v1.Get("/notebooks", s.handleListNotebooks)
	v1.Get("/notebooks/:id", s.handleGetNotebook)
	v1.Patch("/notebooks/:id", s.handleRenameNotebook)
	v1.Delete("/notebooks/:id", s.handleDeleteNotebook)

	v1.Post("/notebooks/:id/documents", s.handleUploadDocument)
	v1.Get("/notebooks/:id/documents", s.handleListDocuments)
	v1.Delete("/documents/:id", s.handleDeleteDocument)

	v1.Post("/notebooks/:id/chat", s.handleAskQuestion)
	v1.Get("/notebooks/:id/chat", s.handleGetHistory)
	v1.Delete("/notebooks/:id/chat", s.handleClearHistory)

	v1.Post("/notebooks/:id/notes", s.handleCreateNote)
	v1.Get("/notebooks/:id/notes", s.handleListNotes)
	v1.Delete("/notes/:id", s.handleDeleteNote)

	v1.Post("/notebooks/:id/ai-content", s.handleGenerateContent)

	return s
}

// Listen serves until the listener fails or shuts down.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// requireUser extracts the authenticated user set by the auth layer.
func (s *Server) requireUser(c *fiber.Ctx) error {
	if c.Get("X-User-ID") == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing user identity")
	}
	return c.Next()
}

func userID(c *fiber.Ctx) string {
	return c.Get("X-User-ID")
}

// ==================== Notebooks ====================

func (s *Server) handleCreateNotebook(c *fiber.Ctx) error {
	var req createNotebookRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	nb, err := s.service.CreateNotebook(c.Context(), userID(c), req.Title)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(nb)
}

func (s *Server) handleListNotebooks(c *fiber.Ctx) error {
	notebooks, err := s.service.ListNotebooks(c.Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(notebooks)
}

func (s *Server) handleGetNotebook(c *fiber.Ctx) error {
	nb, err := s.service.GetNotebook(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(nb)
}

func (s *Server) handleRenameNotebook(c *fiber.Ctx) error {
	var req renameNotebookRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	nb, err := s.service.RenameNotebook(c.Context(), userID(c), c.Params("id"), req.Title)
	if err != nil {
		return err
	}
	return c.JSON(nb)
}

func (s *Server) handleDeleteNotebook(c *fiber.Ctx) error {
	if err := s.service.DeleteNotebook(c.Context(), userID(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ==================== Documents ====================

func (s *Server) handleUploadDocument(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart field 'file' is required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	doc, err := s.service.UploadDocument(c.Context(), userID(c), c.Params("id"), fileHeader.Filename, data)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(doc)
}

func (s *Server) handleListDocuments(c *fiber.Ctx) error {
	docs, err := s.service.ListDocuments(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(docs)
}

func (s *Server) handleDeleteDocument(c *fiber.Ctx) error {
	if err := s.service.DeleteDocument(c.Context(), userID(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ==================== Chat ====================

func (s *Server) handleAskQuestion(c *fiber.Ctx) error {
	var req askQuestionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	turn, err := s.service.AskQuestion(c.Context(), userID(c), c.Params("id"), req.Message, req.SelectedDocumentIDs)
	if err != nil {
		return err
	}
	return c.JSON(turn)
}

func (s *Server) handleGetHistory(c *fiber.Ctx) error {
	turns, err := s.service.GetHistory(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(turns)
}

func (s *Server) handleClearHistory(c *fiber.Ctx) error {
	if err := s.service.ClearHistory(c.Context(), userID(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ==================== Notes ====================

func (s *Server) handleCreateNote(c *fiber.Ctx) error {
	var req createNoteRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	if req.LinkedChatID != "" {
		note, err := s.service.SaveAnswerAsNote(c.Context(), userID(c), c.Params("id"), req.LinkedChatID, req.Title, req.Content)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(note)
	}

	note, err := s.service.CreateNote(c.Context(), userID(c), c.Params("id"), req.Title, req.Content)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(note)
}

func (s *Server) handleListNotes(c *fiber.Ctx) error {
	notes, err := s.service.ListNotes(c.Context(), userID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(notes)
}

func (s *Server) handleDeleteNote(c *fiber.Ctx) error {
	if err := s.service.DeleteNote(c.Context(), userID(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ==================== AI content ====================

func (s *Server) handleGenerateContent(c *fiber.Ctx) error {
	var req generateContentRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	note, err := s.service.GenerateAIContent(c.Context(), userID(c), c.Params("id"), req.ContentType, req.SelectedDocumentIDs)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(note)
}
