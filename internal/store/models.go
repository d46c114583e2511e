// Package store persists notebooks, documents, chat history and notes
// in SQLite. Extracted document text lives here as the source of truth;
// the vector index only accelerates retrieval over it.
package store

import "time"

// Document lifecycle states. Indexing is asynchronous, so a document is
// visible and queryable before it reaches StatusIndexed.
const (
	StatusPending = "pending"
	StatusIndexed = "indexed"
	StatusFailed  = "failed"
)

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Note provenance.
const (
	NoteSourceUser = "manual"
	NoteSourceAI   = "ai_generated"
)

// Notebook is the top-level container. All documents, chat turns and
// notes belong to exactly one notebook, and all access is checked
// against its owner.
type Notebook struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Document is an uploaded source with its extracted text.
type Document struct {
	ID         string    `json:"id"`
	NotebookID string    `json:"notebook_id"`
	Filename   string    `json:"filename"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	SizeBytes  int64     `json:"size_bytes"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Citation is one cited source in an assistant answer: the document
// plus the chunk texts that grounded it. Order within a turn matches
// the [n] markers in the answer text.
type Citation struct {
	Filename   string   `json:"filename"`
	Title      string   `json:"title"`
	DocumentID string   `json:"document_id"`
	Chunks     []string `json:"chunks"`
}

// ChatTurn is one message in a notebook's conversation. Citations are
// only present on assistant turns.
type ChatTurn struct {
	ID         string     `json:"id"`
	NotebookID string     `json:"notebook_id"`
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Citations  []Citation `json:"citations"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Note is a saved note, written by the user or generated from the
// notebook's sources. LinkedChatID is a weak reference: the chat turn
// it points at may have been cleared since.
type Note struct {
	ID            string    `json:"id"`
	NotebookID    string    `json:"notebook_id"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	SourceType    string    `json:"source_type"`
	AIContentType string    `json:"ai_content_type"`
	LinkedChatID  string    `json:"linked_chat_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
