package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/voxnote/pkg/accounts"
	"github.com/platinummonkey/voxnote/pkg/auth"
	"github.com/platinummonkey/voxnote/pkg/httputil"
	"github.com/platinummonkey/voxnote/pkg/middleware"
	"github.com/platinummonkey/voxnote/pkg/plans"
)

// AuthHandlers handles signup and login
type AuthHandlers struct {
	accounts Accounts
	audit    *auth.AuditLogger
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(accounts Accounts, audit *auth.AuditLogger) *AuthHandlers {
	return &AuthHandlers{accounts: accounts, audit: audit}
}

// RegisterRoutes registers authentication routes on a router mounted at /auth
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/signup", h.signup).Methods("PUT")
	router.HandleFunc("/login", h.login).Methods("POST")
}

type signupResponse struct {
	Message string     `json:"message"`
	User    *auth.User `json:"user"`
}

// signup handles PUT /auth/signup
func (h *AuthHandlers) signup(w http.ResponseWriter, r *http.Request) {
	var req accounts.SignupRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.accounts.Signup(r.Context(), req)
	var verr *accounts.ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.WriteBadRequest(w, verr.Error())
		return
	case errors.Is(err, accounts.ErrEmailInUse):
		httputil.WriteConflict(w, "E-Mail address already exists!")
		return
	case err != nil:
		writeServiceError(w, r, err, "Failed to create a new user")
		return
	}

	_ = h.audit.LogFromRequest(r, auth.ActionUserCreate, "user", strconv.FormatInt(user.ID, 10), auth.StatusSuccess, nil)
	httputil.WriteCreated(w, signupResponse{Message: "User created successfully", User: user})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// login handles POST /auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "Email and password are required")
		return
	}

	result, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		_ = h.audit.LogFromRequest(r, auth.ActionAuthFailure, "user", "", auth.StatusFailure, err)
		httputil.WriteUnauthorized(w, "Invalid email or password")
		return
	}
	if err != nil {
		writeServiceError(w, r, err, "Login failed")
		return
	}

	_ = h.audit.LogFromRequest(r, auth.ActionAuthSuccess, "user", strconv.FormatInt(result.UserID, 10), auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, loginResponse{Token: result.Token, UserID: result.UserID, ExpiresAt: result.ExpiresAt})
}

// UserHandlers serves the authenticated user's own data
type UserHandlers struct {
	accounts Accounts
}

// NewUserHandlers creates UserHandlers
func NewUserHandlers(accounts Accounts) *UserHandlers {
	return &UserHandlers{accounts: accounts}
}

// RegisterRoutes registers user routes
func (h *UserHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/user/profile", h.profile).Methods("GET")
}

// profile handles GET /user/profile
func (h *UserHandlers) profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		httputil.WriteUnauthorized(w, "Unauthorized")
		return
	}

	profile, err := h.accounts.Profile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to fetch profile info")
		return
	}
	httputil.WriteSuccess(w, profile)
}

// PlanHandlers lists the plan catalog
type PlanHandlers struct {
	plans plans.Lookup
}

// NewPlanHandlers creates PlanHandlers
func NewPlanHandlers(lookup plans.Lookup) *PlanHandlers {
	return &PlanHandlers{plans: lookup}
}

// RegisterRoutes registers plan routes
func (h *PlanHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/plans", h.list).Methods("GET")
}

// list handles GET /plans
func (h *PlanHandlers) list(w http.ResponseWriter, r *http.Request) {
	all, err := h.plans.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "Error while fetching plans")
		return
	}

	views := make([]plans.PlanView, 0, len(all))
	for _, p := range all {
		views = append(views, p.View())
	}
	httputil.WriteSuccess(w, map[string]interface{}{"plans": views})
}
