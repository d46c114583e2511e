package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
)

const (
	// ChatModel is the model answering questions and drafting notes.
	ChatModel = openai.ChatModelGPT4o

	// CallTimeout is the hard deadline on a single generation call.
	CallTimeout = 30 * time.Second
)

// TextGenerator produces text from a fully assembled prompt. The core
// never assumes more than "prompt in, UTF-8 text out", so backends are
// swappable.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// OpenAI generates text via the OpenAI chat completions API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI text generator. An empty model selects
// ChatModel.
func NewOpenAI(client *openai.Client, model string) *OpenAI {
	if model == "" {
		model = ChatModel
	}
	return &OpenAI{client: client, model: model}
}

// Generate implements TextGenerator, mapping backend failures onto the
// generation error taxonomy.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generation returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyError maps transport and API errors onto the taxonomy.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		case 401, 403:
			return fmt.Errorf("%w: %v", ErrAuthFailure, err)
		}
	}
	return fmt.Errorf("generation failed: %w", err)
}
