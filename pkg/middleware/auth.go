package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/voxnote/pkg/auth"
	"github.com/platinummonkey/voxnote/pkg/contextkeys"
	"github.com/platinummonkey/voxnote/pkg/httputil"
	"github.com/platinummonkey/voxnote/pkg/observability"
)

// TokenVerifier validates bearer tokens. *auth.TokenManager implements it.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// AuthMiddleware authenticates requests with a bearer token and stores the
// verified user id in the request context
type AuthMiddleware struct {
	verifier TokenVerifier
	logger   *observability.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(verifier TokenVerifier, logger *observability.Logger) *AuthMiddleware {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &AuthMiddleware{verifier: verifier, logger: logger}
}

// Handler rejects requests without a valid token with 401
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "Unauthorized")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			httputil.WriteUnauthorized(w, "Invalid token")
			return
		}

		claims, err := m.verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			m.logger.WithError(err).WithField("request_id", contextkeys.GetRequestID(r.Context())).
				Debug("Rejected bearer token")
			httputil.WriteUnauthorized(w, "Invalid token")
			return
		}

		ctx := contextkeys.WithUserID(r.Context(), claims.UserID)
		ctx = observability.WithLogger(ctx, observability.GetLogger(ctx).WithField("user_id", claims.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the authenticated user id of the request
func UserID(r *http.Request) (int64, bool) {
	return contextkeys.GetUserID(r.Context())
}
