// Package generation turns retrieved document context and chat history
// into grounded answers and structured notes, with per-document
// citations numbered by first appearance.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/dstowell/margin/internal/retrieval"
	"github.com/dstowell/margin/internal/store"
)

const (
	// MaxHistoryTurns bounds how much conversation is replayed into the
	// prompt.
	MaxHistoryTurns = 10

	// maxContextTokens bounds the grounding context placed in a prompt.
	// Chunks past the budget are dropped, never truncated mid-chunk.
	maxContextTokens = 6000

	// tokenEncoding is the tokenizer matching the chat model family.
	tokenEncoding = "cl100k_base"
)

// Answer is a generated reply plus the sources that grounded it. The
// citation order matches the [n] markers in the text: Citations[0] is
// source [1].
type Answer struct {
	Text      string
	Citations []store.Citation
}

// Generator assembles prompts and invokes a TextGenerator backend.
type Generator struct {
	backend TextGenerator
	logger  *slog.Logger
	tokens  func(string) int
}

// New creates a Generator.
func New(backend TextGenerator, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		backend: backend,
		logger:  logger,
		tokens:  newTokenCounter(logger),
	}
}

// newTokenCounter returns a tiktoken-backed counter, or a 4-chars-per-
// token estimate when the encoding cannot be loaded.
func newTokenCounter(logger *slog.Logger) func(string) int {
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		logger.Warn("tokenizer unavailable, estimating tokens", "error", err)
		return func(s string) int { return len(s) / 4 }
	}
	return func(s string) int { return len(enc.Encode(s, nil, nil)) }
}

// Answer generates a grounded reply to query. groups is retrieved
// context in first-seen document order; history is replayed, capped at
// MaxHistoryTurns most recent turns.
func (g *Generator) Answer(ctx context.Context, query string, groups []retrieval.DocumentContext, history []store.ChatTurn) (Answer, error) {
	citations := buildCitations(g.dedupe(groups))

	var b strings.Builder
	b.WriteString("You are a research assistant answering strictly from the numbered sources below.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Base every claim on the sources; if they do not contain the answer, say so.\n")
	b.WriteString("- Cite sources inline with their bracketed number, e.g. [1].\n")
	b.WriteString("- Source numbers are fixed: [1] always refers to source 1 below. Never renumber or invent sources.\n\n")

	if len(citations) > 0 {
		b.WriteString("Sources:\n")
		b.WriteString(g.renderSources(citations))
		b.WriteString("\n")
	} else {
		b.WriteString("No sources are available; say that you have nothing to answer from.\n\n")
	}

	if tail := tailTurns(history, MaxHistoryTurns); len(tail) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, turn := range tail {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question: %s\n", query)

	text, err := g.backend.Generate(ctx, b.String())
	if err != nil {
		return Answer{}, err
	}

	return Answer{
		Text:      stripCodeFence(text),
		Citations: citations,
	}, nil
}

// Note generates structured content (study guide, briefing doc, FAQ or
// timeline) over the same grounding set used for answers.
func (g *Generator) Note(ctx context.Context, contentType string, groups []retrieval.DocumentContext) (string, error) {
	template, ok := noteTemplates[contentType]
	if !ok {
		return "", fmt.Errorf("unknown content type %q", contentType)
	}

	citations := buildCitations(g.dedupe(groups))
	if len(citations) == 0 {
		return "", fmt.Errorf("no source content available for %s", contentType)
	}

	var b strings.Builder
	b.WriteString(template)
	b.WriteString("\n\nSources:\n")
	b.WriteString(g.renderSources(citations))

	text, err := g.backend.Generate(ctx, b.String())
	if err != nil {
		return "", err
	}
	return stripCodeFence(text), nil
}

// dedupe collapses groups sharing a documentID into one, preserving
// first-seen order, then applies the context token budget.
func (g *Generator) dedupe(groups []retrieval.DocumentContext) []retrieval.DocumentContext {
	var out []retrieval.DocumentContext
	byID := make(map[string]int)

	for _, group := range groups {
		i, ok := byID[group.DocumentID]
		if !ok {
			i = len(out)
			byID[group.DocumentID] = i
			out = append(out, retrieval.DocumentContext{
				DocumentID: group.DocumentID,
				Filename:   group.Filename,
				Title:      group.Title,
			})
		}
		out[i].Chunks = append(out[i].Chunks, group.Chunks...)
	}

	return g.budget(out)
}

// budget keeps chunks in order until the token budget runs out. A
// document whose every chunk was dropped is removed entirely so it is
// never cited without grounding.
func (g *Generator) budget(groups []retrieval.DocumentContext) []retrieval.DocumentContext {
	remaining := maxContextTokens
	out := groups[:0]

	for _, group := range groups {
		var kept []string
		for _, chunk := range group.Chunks {
			cost := g.tokens(chunk)
			if cost > remaining {
				continue
			}
			remaining -= cost
			kept = append(kept, chunk)
		}
		if len(kept) == 0 {
			g.logger.Warn("document dropped from context by token budget",
				"document_id", group.DocumentID, "chunks", len(group.Chunks))
			continue
		}
		group.Chunks = kept
		out = append(out, group)
	}
	return out
}

// buildCitations converts deduplicated groups into the citation list,
// one entry per document, numbered implicitly by position.
func buildCitations(groups []retrieval.DocumentContext) []store.Citation {
	citations := make([]store.Citation, 0, len(groups))
	for _, group := range groups {
		citations = append(citations, store.Citation{
			Filename:   group.Filename,
			Title:      group.Title,
			DocumentID: group.DocumentID,
			Chunks:     group.Chunks,
		})
	}
	return citations
}

// renderSources lays out numbered sources with their chunk texts.
func (g *Generator) renderSources(citations []store.Citation) string {
	var b strings.Builder
	for i, c := range citations {
		name := c.Filename
		if c.Title != "" {
			name = fmt.Sprintf("%s (%s)", c.Filename, c.Title)
		}
		fmt.Fprintf(&b, "[%d] %s\n", i+1, name)
		for _, chunk := range c.Chunks {
			b.WriteString(chunk)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// tailTurns returns the most recent max turns in chronological order.
func tailTurns(history []store.ChatTurn, max int) []store.ChatTurn {
	if len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}

// stripCodeFence removes a wrapping markdown code fence, which models
// sometimes add around whole answers.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") {
		return trimmed
	}

	body := strings.TrimSuffix(trimmed, "```")
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		return strings.TrimSpace(body[i+1:])
	}
	return trimmed
}
