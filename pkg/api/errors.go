package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/voxnote/pkg/accounts"
	"github.com/platinummonkey/voxnote/pkg/audio"
	"github.com/platinummonkey/voxnote/pkg/billing"
	"github.com/platinummonkey/voxnote/pkg/httputil"
	"github.com/platinummonkey/voxnote/pkg/ledger"
	"github.com/platinummonkey/voxnote/pkg/notes"
	"github.com/platinummonkey/voxnote/pkg/observability"
	"github.com/platinummonkey/voxnote/pkg/plans"
	"github.com/platinummonkey/voxnote/pkg/transcription"
	"github.com/platinummonkey/voxnote/pkg/usage"
)

// writeServiceError maps a service error to its HTTP response. fallback is
// the user-facing text for failures whose cause must not be exposed.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	log := observability.FromContext(r.Context()).WithError(err)

	if qe, ok := ledger.AsQuotaExceeded(err); ok {
		httputil.WriteErrorMessage(w, http.StatusForbidden, "quota exceeded", qe.Message())
		return
	}

	switch {
	case errors.Is(err, audio.ErrUnsupportedType):
		httputil.WriteUnprocessable(w, "Invalid file type, only .mp3, .mp4, .wav and .webm files are allowed!")
	case errors.Is(err, audio.ErrTooLarge):
		httputil.WritePayloadTooLarge(w, "File size too large")
	case errors.Is(err, audio.ErrEmptyAudio):
		httputil.WriteBadRequest(w, "No audio data provided")
	case errors.Is(err, usage.ErrInvalidRequest):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, notes.ErrNoteNotFound):
		httputil.WriteNotFound(w, "Note not found")
	case errors.Is(err, notes.ErrForbidden):
		httputil.WriteForbidden(w, "Not authorized")
	case errors.Is(err, accounts.ErrUserNotFound):
		httputil.WriteNotFound(w, "User not found")
	case errors.Is(err, plans.ErrPlanNotFound):
		httputil.WriteNotFound(w, "Plan not found")
	case errors.Is(err, transcription.ErrTranscriptionFailed), errors.Is(err, billing.ErrProviderFailure):
		log.Error("Upstream provider failed")
		httputil.WriteBadGateway(w, fallback)
	case errors.Is(err, ledger.ErrSubscriptionNotFound):
		log.Error("Authenticated user has no subscription")
		httputil.WriteInternalError(w, fallback)
	default:
		log.Error("Request failed")
		httputil.WriteInternalError(w, fallback)
	}
}
