package api

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// parseBody unmarshals and validates a JSON request body.
func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}
	if err := validate.Struct(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
	}
	return nil
}

type createNotebookRequest struct {
	Title string `json:"title" validate:"max=200"`
}

type renameNotebookRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

type askQuestionRequest struct {
	Message             string   `json:"message" validate:"required,max=8000"`
	SelectedDocumentIDs []string `json:"selected_document_ids" validate:"max=100,dive,required"`
}

type createNoteRequest struct {
	Title        string `json:"title" validate:"required,max=200"`
	Content      string `json:"content" validate:"required"`
	LinkedChatID string `json:"linked_chat_id"`
}

type generateContentRequest struct {
	ContentType         string   `json:"content_type" validate:"required,oneof=study_guide briefing_doc faq timeline"`
	SelectedDocumentIDs []string `json:"selected_document_ids" validate:"max=100,dive,required"`
}
