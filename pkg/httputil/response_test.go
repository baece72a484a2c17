package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusCreated, map[string]int{"id": 3}))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":3}`, rec.Body.String())
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name    string
		write   func(http.ResponseWriter)
		status  int
		errText string
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "m") }, http.StatusBadRequest, "bad request"},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "m") }, http.StatusUnauthorized, "unauthorized"},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "m") }, http.StatusForbidden, "forbidden"},
		{"not found", func(w http.ResponseWriter) { WriteNotFound(w, "m") }, http.StatusNotFound, "not found"},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "m") }, http.StatusConflict, "conflict"},
		{"too large", func(w http.ResponseWriter) { WritePayloadTooLarge(w, "m") }, http.StatusRequestEntityTooLarge, "payload too large"},
		{"unprocessable", func(w http.ResponseWriter) { WriteUnprocessable(w, "m") }, http.StatusUnprocessableEntity, "validation failed"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w, "m") }, http.StatusInternalServerError, "internal error"},
		{"bad gateway", func(w http.ResponseWriter) { WriteBadGateway(w, "m") }, http.StatusBadGateway, "upstream failure"},
		{"unavailable", func(w http.ResponseWriter) { WriteServiceUnavailable(w, "m") }, http.StatusServiceUnavailable, "service unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			assert.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.errText, body.Error)
			assert.Equal(t, "m", body.Message)
		})
	}
}

func TestWriteMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteMessage(rec, "Note deleted successfully")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Note deleted successfully"}`, rec.Body.String())
}
