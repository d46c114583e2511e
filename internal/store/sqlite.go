package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS notebooks (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	title      TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS notebooks_owner_idx ON notebooks (owner_id);

CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
	filename    TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL,
	size_bytes  INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'pending',
	created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_notebook_idx ON documents (notebook_id);

CREATE TABLE IF NOT EXISTS chat_turns (
	id          TEXT PRIMARY KEY,
	notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	citations   TEXT NOT NULL DEFAULT '[]',
	created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_turns_notebook_idx ON chat_turns (notebook_id, created_at);

CREATE TABLE IF NOT EXISTS notes (
	id              TEXT PRIMARY KEY,
	notebook_id     TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
	title           TEXT NOT NULL,
	content         TEXT NOT NULL,
	source_type     TEXT NOT NULL,
	ai_content_type TEXT NOT NULL DEFAULT '',
	linked_chat_id  TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS notes_notebook_idx ON notes (notebook_id);
`

// Store is the SQLite-backed persistence layer.
type Store struct {
	db   *sql.DB
	path string
}

// New opens (or creates) the database at dataDir/margin.db with WAL
// journaling and foreign keys enabled, and applies the schema.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "margin.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// ==================== Notebooks ====================

// SaveNotebook inserts or updates a notebook.
func (s *Store) SaveNotebook(ctx context.Context, nb *Notebook) error {
	now := time.Now().UTC()
	if nb.CreatedAt.IsZero() {
		nb.CreatedAt = now
	}
	nb.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notebooks (id, owner_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			updated_at = excluded.updated_at
	`, nb.ID, nb.OwnerID, nb.Title, nb.CreatedAt, nb.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving notebook: %w", err)
	}
	return nil
}

// GetNotebook retrieves a notebook by ID.
func (s *Store) GetNotebook(ctx context.Context, id string) (*Notebook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, created_at, updated_at
		FROM notebooks WHERE id = ?
	`, id)

	var nb Notebook
	if err := row.Scan(&nb.ID, &nb.OwnerID, &nb.Title, &nb.CreatedAt, &nb.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning notebook: %w", err)
	}
	return &nb, nil
}

// ListNotebooks returns all notebooks owned by ownerID, newest first.
func (s *Store) ListNotebooks(ctx context.Context, ownerID string) ([]Notebook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, created_at, updated_at
		FROM notebooks WHERE owner_id = ?
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying notebooks: %w", err)
	}
	defer rows.Close()

	var notebooks []Notebook
	for rows.Next() {
		var nb Notebook
		if err := rows.Scan(&nb.ID, &nb.OwnerID, &nb.Title, &nb.CreatedAt, &nb.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning notebook: %w", err)
		}
		notebooks = append(notebooks, nb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notebooks: %w", err)
	}
	return notebooks, nil
}

// AllNotebooks returns every notebook regardless of owner, newest
// first. Used by operational tooling, not the API.
func (s *Store) AllNotebooks(ctx context.Context) ([]Notebook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, created_at, updated_at
		FROM notebooks
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying notebooks: %w", err)
	}
	defer rows.Close()

	var notebooks []Notebook
	for rows.Next() {
		var nb Notebook
		if err := rows.Scan(&nb.ID, &nb.OwnerID, &nb.Title, &nb.CreatedAt, &nb.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning notebook: %w", err)
		}
		notebooks = append(notebooks, nb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notebooks: %w", err)
	}
	return notebooks, nil
}

// DeleteNotebook removes a notebook; documents, chat turns and notes
// cascade.
func (s *Store) DeleteNotebook(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM notebooks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting notebook: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ==================== Documents ====================

// SaveDocument inserts or updates a document.
func (s *Store) SaveDocument(ctx context.Context, doc *Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.Status == "" {
		doc.Status = StatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, notebook_id, filename, title, content, size_bytes, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filename = excluded.filename,
			title = excluded.title,
			content = excluded.content,
			size_bytes = excluded.size_bytes,
			status = excluded.status
	`, doc.ID, doc.NotebookID, doc.Filename, doc.Title, doc.Content,
		doc.SizeBytes, doc.Status, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, notebook_id, filename, title, content, size_bytes, status, created_at
		FROM documents WHERE id = ?
	`, id)

	var doc Document
	if err := row.Scan(&doc.ID, &doc.NotebookID, &doc.Filename, &doc.Title,
		&doc.Content, &doc.SizeBytes, &doc.Status, &doc.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	return &doc, nil
}

// ListDocuments returns all documents in a notebook in upload order.
func (s *Store) ListDocuments(ctx context.Context, notebookID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, notebook_id, filename, title, content, size_bytes, status, created_at
		FROM documents WHERE notebook_id = ?
		ORDER BY created_at ASC
	`, notebookID)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.NotebookID, &doc.Filename, &doc.Title,
			&doc.Content, &doc.SizeBytes, &doc.Status, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// SetDocumentStatus updates the indexing status of a document.
func (s *Store) SetDocumentStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE documents SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocument removes a document.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ==================== Chat ====================

// AppendChatTurn stores a new chat turn.
func (s *Store) AppendChatTurn(ctx context.Context, turn *ChatTurn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	citations := turn.Citations
	if citations == nil {
		citations = []Citation{}
	}
	citationsJSON, err := json.Marshal(citations)
	if err != nil {
		return fmt.Errorf("marshalling citations: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_turns (id, notebook_id, role, content, citations, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, turn.ID, turn.NotebookID, turn.Role, turn.Content, string(citationsJSON), turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending chat turn: %w", err)
	}
	return nil
}

// ListChatTurns returns a notebook's conversation in chronological
// order. A limit of zero or less returns everything; otherwise the most
// recent limit turns are returned.
func (s *Store) ListChatTurns(ctx context.Context, notebookID string, limit int) ([]ChatTurn, error) {
	query := `
		SELECT id, notebook_id, role, content, citations, created_at
		FROM chat_turns WHERE notebook_id = ?
		ORDER BY created_at ASC, id ASC
	`
	args := []any{notebookID}
	if limit > 0 {
		// Window the tail, then re-order ascending.
		query = `
			SELECT id, notebook_id, role, content, citations, created_at FROM (
				SELECT id, notebook_id, role, content, citations, created_at
				FROM chat_turns WHERE notebook_id = ?
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			) ORDER BY created_at ASC, id ASC
		`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chat turns: %w", err)
	}
	defer rows.Close()

	var turns []ChatTurn
	for rows.Next() {
		var turn ChatTurn
		var citationsJSON string
		if err := rows.Scan(&turn.ID, &turn.NotebookID, &turn.Role,
			&turn.Content, &citationsJSON, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat turn: %w", err)
		}
		if err := json.Unmarshal([]byte(citationsJSON), &turn.Citations); err != nil {
			return nil, fmt.Errorf("unmarshaling citations: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat turns: %w", err)
	}
	return turns, nil
}

// ClearChat deletes every chat turn in a notebook. Linked notes keep
// their content; only the weak chat reference dangles.
func (s *Store) ClearChat(ctx context.Context, notebookID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM chat_turns WHERE notebook_id = ?", notebookID)
	if err != nil {
		return fmt.Errorf("clearing chat: %w", err)
	}
	return nil
}

// ==================== Notes ====================

// SaveNote inserts or updates a note.
func (s *Store) SaveNote(ctx context.Context, note *Note) error {
	now := time.Now().UTC()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now
	if note.SourceType == "" {
		note.SourceType = NoteSourceUser
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, notebook_id, title, content, source_type, ai_content_type, linked_chat_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			updated_at = excluded.updated_at
	`, note.ID, note.NotebookID, note.Title, note.Content, note.SourceType,
		note.AIContentType, note.LinkedChatID, note.CreatedAt, note.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving note: %w", err)
	}
	return nil
}

// GetNote retrieves a note by ID.
func (s *Store) GetNote(ctx context.Context, id string) (*Note, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, notebook_id, title, content, source_type, ai_content_type, linked_chat_id, created_at, updated_at
		FROM notes WHERE id = ?
	`, id)

	var note Note
	if err := row.Scan(&note.ID, &note.NotebookID, &note.Title, &note.Content,
		&note.SourceType, &note.AIContentType, &note.LinkedChatID,
		&note.CreatedAt, &note.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning note: %w", err)
	}
	return &note, nil
}

// ListNotes returns all notes in a notebook, newest first.
func (s *Store) ListNotes(ctx context.Context, notebookID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, notebook_id, title, content, source_type, ai_content_type, linked_chat_id, created_at, updated_at
		FROM notes WHERE notebook_id = ?
		ORDER BY created_at DESC
	`, notebookID)
	if err != nil {
		return nil, fmt.Errorf("querying notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var note Note
		if err := rows.Scan(&note.ID, &note.NotebookID, &note.Title, &note.Content,
			&note.SourceType, &note.AIContentType, &note.LinkedChatID,
			&note.CreatedAt, &note.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notes: %w", err)
	}
	return notes, nil
}

// DeleteNote removes a note.
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM notes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting note: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
