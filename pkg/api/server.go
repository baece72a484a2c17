package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/voxnote/pkg/accounts"
	"github.com/platinummonkey/voxnote/pkg/auth"
	"github.com/platinummonkey/voxnote/pkg/billing"
	"github.com/platinummonkey/voxnote/pkg/ledger"
	"github.com/platinummonkey/voxnote/pkg/middleware"
	"github.com/platinummonkey/voxnote/pkg/notes"
	"github.com/platinummonkey/voxnote/pkg/observability"
	"github.com/platinummonkey/voxnote/pkg/plans"
	"github.com/platinummonkey/voxnote/pkg/reconcile"
	"github.com/platinummonkey/voxnote/pkg/usage"
)

// Accounts is the user account surface the handlers need.
// *accounts.Service implements it.
type Accounts interface {
	Signup(ctx context.Context, req accounts.SignupRequest) (*auth.User, error)
	Login(ctx context.Context, email, password string) (*accounts.LoginResult, error)
	Profile(ctx context.Context, userID int64) (*accounts.Profile, error)
	BillingCustomer(ctx context.Context, userID int64) (string, error)
	EnsureBillingCustomer(ctx context.Context, userID int64) (string, error)
}

// NoteStore reads and edits a user's notes. *notes.Store implements it.
type NoteStore interface {
	Get(ctx context.Context, userID, noteID int64) (*notes.Note, error)
	List(ctx context.Context, userID int64) ([]*notes.Note, error)
	Recent(ctx context.Context, userID int64, limit int) ([]*notes.Note, error)
	Update(ctx context.Context, userID, noteID int64, req notes.UpdateNoteRequest) (*notes.Note, error)
	Delete(ctx context.Context, userID, noteID int64) error
}

// NoteCreator meters and runs note creation. *usage.Gate implements it.
type NoteCreator interface {
	CreateNote(ctx context.Context, req usage.CreateNoteRequest) (*notes.Note, error)
}

// Entitlements reads a user's subscription. *ledger.Ledger implements it.
type Entitlements interface {
	GetEntitlement(ctx context.Context, userID int64) (*ledger.Subscription, error)
}

// WebhookReconciler applies billing webhooks. *reconcile.Reconciler
// implements it.
type WebhookReconciler interface {
	ReconcileEvent(ctx context.Context, payload []byte, signature string) (reconcile.Outcome, error)
}

// Config holds HTTP-level settings
type Config struct {
	// ClientURL is the frontend base used for payment redirects
	ClientURL      string
	CORSOrigins    []string
	MaxUploadBytes int64
}

// Dependencies are the services behind the API. Billing and Reconciler may
// be nil when billing is not configured; the payment routes are then not
// registered. The limiters, Health, Metrics and Registry are optional.
type Dependencies struct {
	Accounts     Accounts
	Plans        plans.Lookup
	Notes        NoteStore
	Gate         NoteCreator
	Entitlements Entitlements
	Billing      billing.Provider
	Reconciler   WebhookReconciler
	Tokens       middleware.TokenVerifier

	AuthLimiter middleware.Limiter
	APILimiter  middleware.Limiter

	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Logger   *observability.Logger
}

// Server represents our API server
type Server struct {
	cfg     Config
	deps    Dependencies
	router  *mux.Router
	handler http.Handler
	audit   *auth.AuditLogger
	logger  *observability.Logger
}

// NewServer creates a new API server with all routes registered
func NewServer(cfg Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: mux.NewRouter(),
		audit:  auth.NewAuditLogger(deps.Logger),
		logger: deps.Logger,
	}
	s.setupRoutes()

	// CORS sits outside the router so preflights for any route are answered
	// before method matching
	var h http.Handler = s.router
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Recovery(h)
	h = middleware.AccessLog(h)
	s.handler = middleware.RequestID(deps.Logger)(h)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))

	if s.deps.Health != nil {
		observability.RegisterHealthRoutes(s.router, s.deps.Health)
	}
	if s.deps.Registry != nil {
		observability.RegisterMetricsEndpoint(s.router, s.deps.Registry)
	}

	plansHandlers := NewPlanHandlers(s.deps.Plans)
	plansHandlers.RegisterRoutes(s.router)

	var payments *PaymentHandlers
	if s.deps.Billing != nil && s.deps.Reconciler != nil {
		payments = NewPaymentHandlers(s.deps.Billing, s.deps.Accounts, s.deps.Plans, s.deps.Entitlements,
			s.deps.Reconciler, s.cfg.ClientURL, s.audit)
		// Signed by the provider, so neither authenticated nor rate limited
		payments.RegisterWebhookRoute(s.router)
	}

	// Anonymous auth routes, limited per client IP
	public := s.router.PathPrefix("/auth").Subrouter()
	if s.deps.AuthLimiter != nil {
		public.Use(middleware.NewRateLimitMiddleware(s.deps.AuthLimiter, s.logger).Handler)
	}
	NewAuthHandlers(s.deps.Accounts, s.audit).RegisterRoutes(public)

	// Everything else requires a bearer token and is limited per user
	protected := s.router.NewRoute().Subrouter()
	protected.Use(middleware.NewAuthMiddleware(s.deps.Tokens, s.logger).Handler)
	if s.deps.APILimiter != nil {
		protected.Use(middleware.NewRateLimitMiddleware(s.deps.APILimiter, s.logger).Handler)
	}
	NewUserHandlers(s.deps.Accounts).RegisterRoutes(protected)
	NewNoteHandlers(s.deps.Notes, s.deps.Gate, s.cfg.MaxUploadBytes, s.audit).RegisterRoutes(protected)
	if payments != nil {
		payments.RegisterRoutes(protected)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router, e.g. for route inspection in tests
func (s *Server) Router() *mux.Router {
	return s.router
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}
