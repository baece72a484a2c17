package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const noteColumns = `id, title, type, content, user_id, created_at, updated_at`

// Store persists notes in PostgreSQL. Every read and write is scoped to the
// owning user; a note owned by someone else yields ErrForbidden.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a Store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create inserts a note. An empty title becomes DefaultTitle.
func (s *Store) Create(ctx context.Context, userID int64, title string, noteType NoteType, content string) (*Note, error) {
	if !noteType.Valid() {
		return nil, fmt.Errorf("invalid note type %q", noteType)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	now := s.now().UTC()
	note := &Note{
		Title:     title,
		Type:      noteType,
		Content:   content,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO notes (user_id, title, type, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	if err := s.db.QueryRowContext(ctx, query,
		note.UserID, note.Title, note.Type, note.Content, note.CreatedAt, note.UpdatedAt,
	).Scan(&note.ID); err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}
	return note, nil
}

// Get returns the note if userID owns it
func (s *Store) Get(ctx context.Context, userID, noteID int64) (*Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE id = $1`
	note, err := scanNote(s.db.QueryRowContext(ctx, query, noteID))
	if err != nil {
		return nil, err
	}
	if note.UserID != userID {
		return nil, ErrForbidden
	}
	return note, nil
}

// List returns the user's notes, newest first
func (s *Store) List(ctx context.Context, userID int64) ([]*Note, error) {
	return s.list(ctx, `SELECT `+noteColumns+` FROM notes WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
}

// Recent returns the user's limit most recent notes
func (s *Store) Recent(ctx context.Context, userID int64, limit int) ([]*Note, error) {
	if limit <= 0 {
		limit = 3
	}
	return s.list(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit)
}

// Update changes title and/or content. Concurrent owner updates are last
// writer wins.
func (s *Store) Update(ctx context.Context, userID, noteID int64, req UpdateNoteRequest) (*Note, error) {
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		t := DefaultTitle
		req.Title = &t
	}

	query := `
		UPDATE notes
		SET title = COALESCE($3, title), content = COALESCE($4, content), updated_at = $5
		WHERE id = $1 AND user_id = $2
		RETURNING ` + noteColumns
	note, err := scanNote(s.db.QueryRowContext(ctx, query,
		noteID, userID, nullString(req.Title), nullString(req.Content), s.now().UTC(),
	))
	if errors.Is(err, ErrNoteNotFound) {
		return nil, s.ownershipError(ctx, noteID)
	}
	if err != nil {
		return nil, err
	}
	return note, nil
}

// Delete removes the note if userID owns it
func (s *Store) Delete(ctx context.Context, userID, noteID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = $1 AND user_id = $2`, noteID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return s.ownershipError(ctx, noteID)
	}
	return nil
}

// ownershipError distinguishes a missing note from someone else's note after
// an owner-scoped write matched nothing.
func (s *Store) ownershipError(ctx context.Context, noteID int64) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM notes WHERE id = $1)`, noteID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check note: %w", err)
	}
	if exists {
		return ErrForbidden
	}
	return ErrNoteNotFound
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]*Note, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	notes := make([]*Note, 0)
	for rows.Next() {
		n := &Note{}
		if err := rows.Scan(&n.ID, &n.Title, &n.Type, &n.Content, &n.UserID, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notes: %w", err)
	}
	return notes, nil
}

func scanNote(row *sql.Row) (*Note, error) {
	n := &Note{}
	err := row.Scan(&n.ID, &n.Title, &n.Type, &n.Content, &n.UserID, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load note: %w", err)
	}
	return n, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
