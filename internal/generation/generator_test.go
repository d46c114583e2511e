package generation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dstowell/margin/internal/retrieval"
	"github.com/dstowell/margin/internal/store"
)

// recordingBackend captures the prompt and returns a canned reply.
type recordingBackend struct {
	prompt string
	reply  string
	err    error
}

func (r *recordingBackend) Generate(_ context.Context, prompt string) (string, error) {
	r.prompt = prompt
	return r.reply, r.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func group(docID, filename string, chunks ...string) retrieval.DocumentContext {
	return retrieval.DocumentContext{
		DocumentID: docID,
		Filename:   filename,
		Chunks:     chunks,
	}
}

func TestAnswerCitationUniqueness(t *testing.T) {
	// Groups arriving as A, A, B, A, C must collapse to exactly three
	// citations, numbered 1..3 in first-seen order.
	backend := &recordingBackend{reply: "Grounded answer [1][2][3]."}
	gen := New(backend, testLogger())

	groups := []retrieval.DocumentContext{
		group("A", "a.txt", "a-one"),
		group("A", "a.txt", "a-two"),
		group("B", "b.txt", "b-one"),
		group("A", "a.txt", "a-three"),
		group("C", "c.txt", "c-one"),
	}

	answer, err := gen.Answer(context.Background(), "what?", groups, nil)
	require.NoError(t, err)

	require.Len(t, answer.Citations, 3)
	assert.Equal(t, "A", answer.Citations[0].DocumentID)
	assert.Equal(t, "B", answer.Citations[1].DocumentID)
	assert.Equal(t, "C", answer.Citations[2].DocumentID)
	assert.Equal(t, []string{"a-one", "a-two", "a-three"}, answer.Citations[0].Chunks)
}

func TestAnswerPromptLaysOutNumberedSources(t *testing.T) {
	backend := &recordingBackend{reply: "ok"}
	gen := New(backend, testLogger())

	groups := []retrieval.DocumentContext{
		group("A", "report.pdf", "the finding"),
		group("B", "notes.md", "the observation"),
	}

	_, err := gen.Answer(context.Background(), "what was found?", groups, nil)
	require.NoError(t, err)

	assert.Contains(t, backend.prompt, "[1] report.pdf")
	assert.Contains(t, backend.prompt, "[2] notes.md")
	assert.Contains(t, backend.prompt, "the finding")
	assert.Contains(t, backend.prompt, "Question: what was found?")
	assert.Less(t,
		strings.Index(backend.prompt, "[1] report.pdf"),
		strings.Index(backend.prompt, "[2] notes.md"),
		"sources numbered in first-seen order")
}

func TestAnswerHistoryCappedAtTenTurns(t *testing.T) {
	backend := &recordingBackend{reply: "ok"}
	gen := New(backend, testLogger())

	history := make([]store.ChatTurn, 0, 14)
	for i := 0; i < 14; i++ {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		history = append(history, store.ChatTurn{
			Role:    role,
			Content: "turn-" + string(rune('a'+i)),
		})
	}

	_, err := gen.Answer(context.Background(), "q", []retrieval.DocumentContext{group("A", "a.txt", "x")}, history)
	require.NoError(t, err)

	assert.NotContains(t, backend.prompt, "turn-a", "oldest turns dropped")
	assert.NotContains(t, backend.prompt, "turn-d")
	assert.Contains(t, backend.prompt, "turn-e", "ten most recent turns kept")
	assert.Contains(t, backend.prompt, "turn-n")
	assert.Contains(t, backend.prompt, store.RoleAssistant+": ")
}

func TestAnswerBackendErrorPropagates(t *testing.T) {
	backend := &recordingBackend{err: ErrQuotaExceeded}
	gen := New(backend, testLogger())

	_, err := gen.Answer(context.Background(), "q", []retrieval.DocumentContext{group("A", "a.txt", "x")}, nil)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestAnswerStripsCodeFence(t *testing.T) {
	backend := &recordingBackend{reply: "```markdown\nThe answer [1].\n```"}
	gen := New(backend, testLogger())

	answer, err := gen.Answer(context.Background(), "q", []retrieval.DocumentContext{group("A", "a.txt", "x")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "The answer [1].", answer.Text)
}

func TestAnswerTokenBudgetDropsWholeChunks(t *testing.T) {
	backend := &recordingBackend{reply: "ok"}
	gen := New(backend, testLogger())

	huge := strings.Repeat("lorem ipsum dolor sit amet ", 2000) // way past the budget
	groups := []retrieval.DocumentContext{
		group("A", "a.txt", "small chunk", huge),
		group("B", "b.txt", "another small chunk"),
	}

	answer, err := gen.Answer(context.Background(), "q", groups, nil)
	require.NoError(t, err)

	require.Len(t, answer.Citations, 2)
	assert.Equal(t, []string{"small chunk"}, answer.Citations[0].Chunks, "oversized chunk dropped whole")
	assert.NotContains(t, backend.prompt, huge[:200])
}

func TestAnswerDocumentDroppedEntirelyByBudgetIsNotCited(t *testing.T) {
	backend := &recordingBackend{reply: "ok"}
	gen := New(backend, testLogger())

	huge := strings.Repeat("word ", 40000)
	groups := []retrieval.DocumentContext{
		group("A", "a.txt", "kept"),
		group("B", "b.txt", huge),
	}

	answer, err := gen.Answer(context.Background(), "q", groups, nil)
	require.NoError(t, err)

	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "A", answer.Citations[0].DocumentID)
}

func TestNoteTemplates(t *testing.T) {
	for _, contentType := range ContentTypes() {
		t.Run(contentType, func(t *testing.T) {
			backend := &recordingBackend{reply: "generated " + contentType}
			gen := New(backend, testLogger())

			out, err := gen.Note(context.Background(), contentType, []retrieval.DocumentContext{
				group("A", "a.txt", "source material"),
			})
			require.NoError(t, err)
			assert.Equal(t, "generated "+contentType, out)
			assert.Contains(t, backend.prompt, "source material")
			assert.Contains(t, backend.prompt, "[1] a.txt")
		})
	}
}

func TestNoteUnknownContentType(t *testing.T) {
	gen := New(&recordingBackend{}, testLogger())

	_, err := gen.Note(context.Background(), "podcast", nil)
	assert.Error(t, err)
}

func TestNoteWithoutSourcesFails(t *testing.T) {
	gen := New(&recordingBackend{}, testLogger())

	_, err := gen.Note(context.Background(), ContentFAQ, nil)
	assert.Error(t, err)
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", "plain text", "plain text"},
		{"fence with language", "```markdown\nbody\n```", "body"},
		{"bare fence", "```\nbody\n```", "body"},
		{"inner fence kept", "text with ``` inside", "text with ``` inside"},
		{"whitespace trimmed", "  answer  \n", "answer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCodeFence(tt.in))
		})
	}
}

func TestClassifyError(t *testing.T) {
	assert.ErrorIs(t, classifyError(context.DeadlineExceeded), ErrTimeout)
	assert.NotErrorIs(t, classifyError(errors.New("boom")), ErrTimeout)
}
