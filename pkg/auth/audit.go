package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/voxnote/pkg/contextkeys"
	"github.com/platinummonkey/voxnote/pkg/observability"
)

// AuditLogger writes security audit events to the structured log
type AuditLogger struct {
	logger *observability.Logger
	now    func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *observability.Logger) *AuditLogger {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &AuditLogger{logger: logger.WithField("audit", true), now: time.Now}
}

// LogAction logs an audit event
func (al *AuditLogger) LogAction(ctx context.Context, log *AuditLog) error {
	if log.Action == "" {
		return fmt.Errorf("action is required")
	}
	if log.ResourceType == "" {
		return fmt.Errorf("resource_type is required")
	}
	if log.Status == "" {
		return fmt.Errorf("status is required")
	}

	log.CreatedAt = al.now().UTC()
	if log.RequestID == "" {
		log.RequestID = contextkeys.GetRequestID(ctx)
	}

	fields := map[string]interface{}{
		"action":        log.Action,
		"resource_type": log.ResourceType,
		"status":        log.Status,
	}
	if log.UserID != nil {
		fields["user_id"] = *log.UserID
	}
	if log.ResourceID != "" {
		fields["resource_id"] = log.ResourceID
	}
	if log.IPAddress != "" {
		fields["ip_address"] = log.IPAddress
	}
	if log.UserAgent != "" {
		fields["user_agent"] = log.UserAgent
	}
	if log.RequestID != "" {
		fields["request_id"] = log.RequestID
	}
	if log.ErrorMessage != "" {
		fields["error_message"] = log.ErrorMessage
	}

	entry := al.logger.WithFields(fields)
	if log.Status == StatusSuccess {
		entry.Info("Audit event")
	} else {
		entry.Warn("Audit event")
	}
	return nil
}

// LogFromRequest creates an audit log from an HTTP request. The user id is
// taken from the request context when the request was authenticated.
func (al *AuditLogger) LogFromRequest(r *http.Request, action, resourceType, resourceID, status string, err error) error {
	log := &AuditLog{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    getClientIP(r),
		UserAgent:    r.UserAgent(),
		Status:       status,
	}
	if err != nil {
		log.ErrorMessage = err.Error()
	}
	if userID, ok := contextkeys.GetUserID(r.Context()); ok {
		log.UserID = &userID
	}

	return al.LogAction(r.Context(), log)
}

func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (if behind proxy); the first hop is the client
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Audit action constants
const (
	ActionUserCreate      = "user.create"
	ActionAuthSuccess     = "auth.success"
	ActionAuthFailure     = "auth.failure"
	ActionCheckoutCreate  = "billing.checkout"
	ActionPortalCreate    = "billing.portal"
	ActionWebhookRejected = "billing.webhook_rejected"
	ActionNoteDelete      = "note.delete"
	ActionForbiddenAccess = "access.forbidden"
)

// Status constants
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)
