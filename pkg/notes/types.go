package notes

import (
	"errors"
	"time"
)

// NoteType is the kind of content a note holds
type NoteType string

const (
	TypeTranscription NoteType = "transcription"
	TypeSummary       NoteType = "summary"
	TypeListOfIdeas   NoteType = "list-of-ideas"
)

// DefaultTitle is used when a note is created without a title
const DefaultTitle = "Untitled Note"

// Valid reports whether t is a known note type
func (t NoteType) Valid() bool {
	switch t {
	case TypeTranscription, TypeSummary, TypeListOfIdeas:
		return true
	}
	return false
}

var (
	// ErrNoteNotFound is returned when no note has the given id
	ErrNoteNotFound = errors.New("note not found")
	// ErrForbidden is returned when the note belongs to another user
	ErrForbidden = errors.New("note belongs to another user")
)

// Note is a user's transcribed, summarized or idea-listed recording
type Note struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Type      NoteType  `json:"type"`
	Content   string    `json:"content"`
	UserID    int64     `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UpdateNoteRequest holds the mutable fields; nil fields are left unchanged
type UpdateNoteRequest struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}
