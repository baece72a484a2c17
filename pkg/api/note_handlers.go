package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/voxnote/pkg/audio"
	"github.com/platinummonkey/voxnote/pkg/auth"
	"github.com/platinummonkey/voxnote/pkg/httputil"
	"github.com/platinummonkey/voxnote/pkg/middleware"
	"github.com/platinummonkey/voxnote/pkg/notes"
	"github.com/platinummonkey/voxnote/pkg/usage"
)

// recentNotesLimit is how many notes GET /notes/recent returns
const recentNotesLimit = 3

// multipartMemory is the part of a multipart upload held in memory; the
// rest spills to temporary files
const multipartMemory = 8 << 20

// NoteHandlers handles note CRUD and creation from audio
type NoteHandlers struct {
	store          NoteStore
	gate           NoteCreator
	maxUploadBytes int64
	audit          *auth.AuditLogger
}

// NewNoteHandlers creates NoteHandlers. maxUploadBytes bounds a single audio
// file; 0 selects audio.MaxUploadBytes.
func NewNoteHandlers(store NoteStore, gate NoteCreator, maxUploadBytes int64, audit *auth.AuditLogger) *NoteHandlers {
	if maxUploadBytes <= 0 {
		maxUploadBytes = audio.MaxUploadBytes
	}
	return &NoteHandlers{store: store, gate: gate, maxUploadBytes: maxUploadBytes, audit: audit}
}

// RegisterRoutes registers note routes
func (h *NoteHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/notes", h.listNotes).Methods("GET")
	router.HandleFunc("/notes", h.createNote).Methods("POST")
	router.HandleFunc("/notes/recent", h.recentNotes).Methods("GET")
	router.HandleFunc("/notes/{id:[0-9]+}", h.getNote).Methods("GET")
	router.HandleFunc("/notes/{id:[0-9]+}", h.updateNote).Methods("PUT")
	router.HandleFunc("/notes/{id:[0-9]+}", h.deleteNote).Methods("DELETE")
}

type noteResponse struct {
	Note *notes.Note `json:"note"`
}

type notesResponse struct {
	Notes []*notes.Note `json:"notes"`
}

// listNotes handles GET /notes
func (h *NoteHandlers) listNotes(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	list, err := h.store.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to fetch notes")
		return
	}
	httputil.WriteSuccess(w, notesResponse{Notes: list})
}

// recentNotes handles GET /notes/recent
func (h *NoteHandlers) recentNotes(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	list, err := h.store.Recent(r.Context(), userID, recentNotesLimit)
	if err != nil {
		writeServiceError(w, r, err, "Failed to fetch notes")
		return
	}
	httputil.WriteSuccess(w, notesResponse{Notes: list})
}

// getNote handles GET /notes/{id}
func (h *NoteHandlers) getNote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	noteID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	note, err := h.store.Get(r.Context(), userID, noteID)
	if err != nil {
		h.auditForbidden(r, noteID, err)
		writeServiceError(w, r, err, "Failed to fetch note")
		return
	}
	httputil.WriteSuccess(w, noteResponse{Note: note})
}

// updateNote handles PUT /notes/{id}
func (h *NoteHandlers) updateNote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	noteID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req notes.UpdateNoteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	note, err := h.store.Update(r.Context(), userID, noteID, req)
	if err != nil {
		h.auditForbidden(r, noteID, err)
		writeServiceError(w, r, err, "Failed to update note")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"message": "Note updated successfully",
		"note":    note,
	})
}

// deleteNote handles DELETE /notes/{id}
func (h *NoteHandlers) deleteNote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	noteID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), userID, noteID); err != nil {
		h.auditForbidden(r, noteID, err)
		writeServiceError(w, r, err, "Failed to delete note")
		return
	}

	_ = h.audit.LogFromRequest(r, auth.ActionNoteDelete, "note", strconv.FormatInt(noteID, 10), auth.StatusSuccess, nil)
	httputil.WriteMessage(w, "Note deleted successfully")
}

func (h *NoteHandlers) auditForbidden(r *http.Request, noteID int64, err error) {
	if errors.Is(err, notes.ErrForbidden) {
		_ = h.audit.LogFromRequest(r, auth.ActionForbiddenAccess, "note", strconv.FormatInt(noteID, 10), auth.StatusDenied, err)
	}
}

// liveNoteRequest is the JSON body of a browser recording
type liveNoteRequest struct {
	Title     string `json:"title"`
	Type      string `json:"type"`
	AudioData string `json:"audioData"`
}

// createNote handles POST /notes. The audio arrives either as a multipart
// file field "audio" or as base64 "audioData" in a form or JSON body.
func (h *NoteHandlers) createNote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	// Base64 inflates by a third; the slack covers multipart framing and
	// the other fields
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes*4/3+1<<20)

	req := usage.CreateNoteRequest{UserID: userID}
	var audioData string

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeBodyError(w, err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		req.Title = r.FormValue("title")
		req.Type = notes.NoteType(r.FormValue("type"))
		file, header, err := r.FormFile("audio")
		switch {
		case err == nil:
			defer file.Close()
			if header.Size > h.maxUploadBytes {
				httputil.WritePayloadTooLarge(w, "File size too large")
				return
			}
			req.Source = usage.SourceUpload
			req.Audio = file
			req.ContentType = header.Header.Get("Content-Type")
		case errors.Is(err, http.ErrMissingFile):
			audioData = r.FormValue("audioData")
		default:
			httputil.WriteBadRequest(w, "Invalid audio upload")
			return
		}

	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			writeBodyError(w, err)
			return
		}
		req.Title = r.PostFormValue("title")
		req.Type = notes.NoteType(r.PostFormValue("type"))
		audioData = r.PostFormValue("audioData")

	default:
		var body liveNoteRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeBodyError(w, err)
			return
		}
		req.Title = body.Title
		req.Type = notes.NoteType(body.Type)
		audioData = body.AudioData
	}

	if req.Audio == nil {
		if audioData == "" {
			httputil.WriteBadRequest(w, "No audio data provided")
			return
		}
		data, err := audio.DecodeLiveAudio(audioData, h.maxUploadBytes)
		if err != nil {
			if errors.Is(err, audio.ErrTooLarge) || errors.Is(err, audio.ErrEmptyAudio) {
				writeServiceError(w, r, err, "")
				return
			}
			httputil.WriteBadRequest(w, "Invalid audio data")
			return
		}
		req.Source = usage.SourceLive
		req.Audio = bytes.NewReader(data)
		req.ContentType = liveContentType(audioData)
	}

	note, err := h.gate.CreateNote(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err, "Failed to create note")
		return
	}
	httputil.WriteCreated(w, noteResponse{Note: note})
}

// liveContentType reads the media type of a data URL, defaulting to MP3
func liveContentType(encoded string) string {
	if rest, ok := strings.CutPrefix(encoded, "data:"); ok {
		if mediaType, _, found := strings.Cut(rest, ";"); found && mediaType != "" {
			return mediaType
		}
	}
	return "audio/mpeg"
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httputil.WritePayloadTooLarge(w, "File size too large")
		return
	}
	httputil.WriteBadRequest(w, "Invalid request body")
}

func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.UserID(r)
	if !ok {
		httputil.WriteUnauthorized(w, "Unauthorized")
	}
	return userID, ok
}
