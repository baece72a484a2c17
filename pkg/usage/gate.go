package usage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/voxnote/pkg/audio"
	"github.com/platinummonkey/voxnote/pkg/ledger"
	"github.com/platinummonkey/voxnote/pkg/notes"
	"github.com/platinummonkey/voxnote/pkg/observability"
	"github.com/platinummonkey/voxnote/pkg/storage"
	"github.com/platinummonkey/voxnote/pkg/transcription"
)

// Ledger is the entitlement surface the gate needs
type Ledger interface {
	GetEntitlement(ctx context.Context, userID int64) (*ledger.Subscription, error)
	TryConsume(ctx context.Context, userID int64, usage ledger.Usage) error
	Refund(ctx context.Context, userID int64, usage ledger.Usage) error
}

// NoteStore persists finished notes
type NoteStore interface {
	Create(ctx context.Context, userID int64, title string, noteType notes.NoteType, content string) (*notes.Note, error)
}

// Source says how the audio reached the service
type Source string

const (
	// SourceUpload is a file upload; it costs one upload
	SourceUpload Source = "upload"
	// SourceLive is an in-browser recording; it costs its length in seconds
	SourceLive Source = "live"
)

// CreateNoteRequest is one note creation
type CreateNoteRequest struct {
	UserID      int64
	Title       string
	Type        notes.NoteType
	Source      Source
	Audio       io.Reader
	ContentType string
}

// Config holds gate policy
type Config struct {
	// RefundOnFailure credits consumed quota back when the pipeline fails
	// after the decrement
	RefundOnFailure bool
}

// Gate meters note creation against the user's entitlement. Quota is
// consumed before any provider call; a rejected request never reaches the
// transcription provider.
type Gate struct {
	ledger      Ledger
	notes       NoteStore
	artifacts   storage.ArtifactStore
	inspector   audio.Inspector
	transcriber transcription.Provider
	cfg         Config
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// Option configures a Gate
type Option func(*Gate)

// WithLogger sets the logger for quota decisions and provider failures
func WithLogger(logger *observability.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// WithMetrics records quota checks and note outcomes. A nil sink is a no-op.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(g *Gate) { g.metrics = metrics }
}

// NewGate creates a Gate
func NewGate(l Ledger, store NoteStore, artifacts storage.ArtifactStore, inspector audio.Inspector,
	transcriber transcription.Provider, cfg Config, opts ...Option) *Gate {
	g := &Gate{
		ledger:      l,
		notes:       store,
		artifacts:   artifacts,
		inspector:   inspector,
		transcriber: transcriber,
		cfg:         cfg,
		logger:      observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckAndConsume decrements usage for userID or returns
// *ledger.QuotaExceededError. A user without a subscription row is a data
// integrity fault and yields ledger.ErrSubscriptionNotFound.
func (g *Gate) CheckAndConsume(ctx context.Context, userID int64, usage ledger.Usage) error {
	if _, err := g.ledger.GetEntitlement(ctx, userID); err != nil {
		if errors.Is(err, ledger.ErrSubscriptionNotFound) {
			g.logger.WithField("user_id", userID).Error("Authenticated user has no subscription row")
		}
		return err
	}
	return g.ledger.TryConsume(ctx, userID, usage)
}

// CreateNote stores the audio temporarily, consumes quota, transcribes,
// derives the requested note type and saves the note. The stored audio is
// deleted whatever the outcome.
func (g *Gate) CreateNote(ctx context.Context, req CreateNoteRequest) (note *notes.Note, err error) {
	if req.Type == "" {
		req.Type = notes.TypeTranscription
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: note type %q", ErrInvalidRequest, req.Type)
	}
	if req.Audio == nil {
		return nil, fmt.Errorf("%w: no audio data provided", ErrInvalidRequest)
	}

	ctx, span := observability.StartSpan(ctx, "usage.CreateNote",
		attribute.Int64("user.id", req.UserID),
		attribute.String("note.type", string(req.Type)),
		attribute.String("audio.source", string(req.Source)),
	)
	defer func() { observability.EndSpan(span, err) }()

	log := g.logger.WithFields(map[string]interface{}{
		"user_id":   req.UserID,
		"note_type": req.Type,
		"source":    req.Source,
	})

	if _, err := g.ledger.GetEntitlement(ctx, req.UserID); err != nil {
		if errors.Is(err, ledger.ErrSubscriptionNotFound) {
			log.Error("Authenticated user has no subscription row")
		}
		return nil, err
	}

	ext, err := audio.ExtensionFor(req.ContentType)
	if err != nil {
		if req.Source != SourceLive {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		ext = ".mp3"
	}
	key := fmt.Sprintf("%s_%s%s", req.Source, uuid.NewString(), ext)

	if _, err := g.artifacts.Put(ctx, key, req.Audio, req.ContentType); err != nil {
		return nil, fmt.Errorf("failed to store audio: %w", err)
	}
	defer func() {
		// Detached so a cancelled request still removes its audio
		if derr := g.artifacts.Delete(context.WithoutCancel(ctx), key); derr != nil {
			log.WithError(derr).WithField("artifact", key).Warn("Failed to delete audio artifact")
		}
	}()

	usage, err := g.usageFor(ctx, req.Source, key)
	if err != nil {
		return nil, err
	}

	if err := g.ledger.TryConsume(ctx, req.UserID, usage); err != nil {
		if ledger.IsQuotaExceeded(err) {
			log.WithField("usage", usage.String()).Info("Quota exceeded")
		}
		return nil, err
	}

	note, err = g.process(ctx, req, key)
	if err != nil {
		log.WithError(err).Error("Note pipeline failed after consuming quota")
		g.compensate(ctx, req.UserID, usage, log)
		return nil, err
	}

	g.metrics.RecordNoteCreated(string(note.Type))
	log.WithField("note_id", note.ID).Info("Note created")
	return note, nil
}

func (g *Gate) usageFor(ctx context.Context, source Source, key string) (ledger.Usage, error) {
	if source != SourceLive {
		return ledger.Upload(), nil
	}

	path, cleanup, err := g.artifacts.LocalPath(ctx, key)
	if err != nil {
		return ledger.Usage{}, fmt.Errorf("failed to access audio: %w", err)
	}
	defer cleanup()

	secs, err := g.inspector.DurationSeconds(ctx, path)
	if errors.Is(err, audio.ErrEmptyAudio) {
		return ledger.Usage{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err != nil {
		return ledger.Usage{}, fmt.Errorf("failed to measure recording: %w", err)
	}
	return ledger.RecordingSeconds(secs), nil
}

func (g *Gate) process(ctx context.Context, req CreateNoteRequest, key string) (*notes.Note, error) {
	rc, err := g.artifacts.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio: %w", err)
	}
	text, err := g.transcriber.Transcribe(ctx, rc, key)
	rc.Close()
	if err != nil {
		return nil, err
	}

	content := text
	switch req.Type {
	case notes.TypeSummary:
		content, err = g.transcriber.Summarize(ctx, text)
	case notes.TypeListOfIdeas:
		content, err = g.transcriber.ExtractIdeas(ctx, text)
	}
	if err != nil {
		return nil, err
	}

	return g.notes.Create(ctx, req.UserID, req.Title, req.Type, content)
}

func (g *Gate) compensate(ctx context.Context, userID int64, usage ledger.Usage, log *observability.Logger) {
	if !g.cfg.RefundOnFailure {
		return
	}
	if err := g.ledger.Refund(context.WithoutCancel(ctx), userID, usage); err != nil {
		log.WithError(err).Error("Failed to refund quota")
		return
	}
	log.WithField("usage", usage.String()).Info("Refunded quota after failure")
}
