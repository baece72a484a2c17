package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/voxnote/pkg/accounts"
	"github.com/platinummonkey/voxnote/pkg/auth"
	"github.com/platinummonkey/voxnote/pkg/billing/billingtest"
	"github.com/platinummonkey/voxnote/pkg/ledger"
	"github.com/platinummonkey/voxnote/pkg/middleware"
	"github.com/platinummonkey/voxnote/pkg/notes"
	"github.com/platinummonkey/voxnote/pkg/plans"
	"github.com/platinummonkey/voxnote/pkg/reconcile"
	"github.com/platinummonkey/voxnote/pkg/usage"
)

const testUserID int64 = 42

func strPtr(s string) *string { return &s }

// mockAccounts implements Accounts for testing
type mockAccounts struct {
	signupFunc                func(ctx context.Context, req accounts.SignupRequest) (*auth.User, error)
	loginFunc                 func(ctx context.Context, email, password string) (*accounts.LoginResult, error)
	profileFunc               func(ctx context.Context, userID int64) (*accounts.Profile, error)
	billingCustomerFunc       func(ctx context.Context, userID int64) (string, error)
	ensureBillingCustomerFunc func(ctx context.Context, userID int64) (string, error)
}

func (m *mockAccounts) Signup(ctx context.Context, req accounts.SignupRequest) (*auth.User, error) {
	if m.signupFunc != nil {
		return m.signupFunc(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAccounts) Login(ctx context.Context, email, password string) (*accounts.LoginResult, error) {
	if m.loginFunc != nil {
		return m.loginFunc(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAccounts) Profile(ctx context.Context, userID int64) (*accounts.Profile, error) {
	if m.profileFunc != nil {
		return m.profileFunc(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAccounts) BillingCustomer(ctx context.Context, userID int64) (string, error) {
	if m.billingCustomerFunc != nil {
		return m.billingCustomerFunc(ctx, userID)
	}
	return "", errors.New("not implemented")
}

func (m *mockAccounts) EnsureBillingCustomer(ctx context.Context, userID int64) (string, error) {
	if m.ensureBillingCustomerFunc != nil {
		return m.ensureBillingCustomerFunc(ctx, userID)
	}
	return "", errors.New("not implemented")
}

// mockNoteStore implements NoteStore for testing
type mockNoteStore struct {
	getFunc    func(ctx context.Context, userID, noteID int64) (*notes.Note, error)
	listFunc   func(ctx context.Context, userID int64) ([]*notes.Note, error)
	recentFunc func(ctx context.Context, userID int64, limit int) ([]*notes.Note, error)
	updateFunc func(ctx context.Context, userID, noteID int64, req notes.UpdateNoteRequest) (*notes.Note, error)
	deleteFunc func(ctx context.Context, userID, noteID int64) error
}

func (m *mockNoteStore) Get(ctx context.Context, userID, noteID int64) (*notes.Note, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, userID, noteID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockNoteStore) List(ctx context.Context, userID int64) ([]*notes.Note, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockNoteStore) Recent(ctx context.Context, userID int64, limit int) ([]*notes.Note, error) {
	if m.recentFunc != nil {
		return m.recentFunc(ctx, userID, limit)
	}
	return nil, errors.New("not implemented")
}

func (m *mockNoteStore) Update(ctx context.Context, userID, noteID int64, req notes.UpdateNoteRequest) (*notes.Note, error) {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, userID, noteID, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockNoteStore) Delete(ctx context.Context, userID, noteID int64) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, userID, noteID)
	}
	return errors.New("not implemented")
}

// mockGate implements NoteCreator and records the last request with its
// audio drained
type mockGate struct {
	createFunc func(ctx context.Context, req usage.CreateNoteRequest) (*notes.Note, error)
	last       usage.CreateNoteRequest
	lastAudio  []byte
}

func (m *mockGate) CreateNote(ctx context.Context, req usage.CreateNoteRequest) (*notes.Note, error) {
	m.last = req
	if req.Audio != nil {
		m.lastAudio, _ = io.ReadAll(req.Audio)
	}
	if m.createFunc != nil {
		return m.createFunc(ctx, req)
	}
	return nil, errors.New("not implemented")
}

type mockEntitlements struct {
	getFunc func(ctx context.Context, userID int64) (*ledger.Subscription, error)
}

func (m *mockEntitlements) GetEntitlement(ctx context.Context, userID int64) (*ledger.Subscription, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

type mockReconciler struct {
	reconcileFunc func(ctx context.Context, payload []byte, signature string) (reconcile.Outcome, error)
}

func (m *mockReconciler) ReconcileEvent(ctx context.Context, payload []byte, signature string) (reconcile.Outcome, error) {
	if m.reconcileFunc != nil {
		return m.reconcileFunc(ctx, payload, signature)
	}
	return reconcile.Failed, errors.New("not implemented")
}

func testPlans() plans.Static {
	return plans.Static{
		{ID: 1, Type: plans.PlanTypeFree, MaxUploads: 3, MaxRecordingTime: 300},
		{ID: 2, Type: plans.PlanTypeStandard, PriceCents: 999, MaxUploads: 25, MaxRecordingTime: 3600, PriceHandle: strPtr("price_standard")},
		{ID: 3, Type: plans.PlanTypePro, PriceCents: 1999, MaxUploads: 100, MaxRecordingTime: 18000, PriceHandle: strPtr("price_pro")},
	}
}

type testEnv struct {
	server       *Server
	tokens       *auth.TokenManager
	accounts     *mockAccounts
	notes        *mockNoteStore
	gate         *mockGate
	entitlements *mockEntitlements
	billing      *billingtest.Provider
	reconciler   *mockReconciler
}

func newTestEnv(t *testing.T, customize ...func(*Config, *Dependencies)) *testEnv {
	t.Helper()
	tokens, err := auth.NewTokenManager("test-secret-0123456789", time.Hour)
	require.NoError(t, err)

	env := &testEnv{
		tokens:       tokens,
		accounts:     &mockAccounts{},
		notes:        &mockNoteStore{},
		gate:         &mockGate{},
		entitlements: &mockEntitlements{},
		billing:      &billingtest.Provider{},
		reconciler:   &mockReconciler{},
	}

	cfg := Config{ClientURL: "https://app.example.com/", CORSOrigins: []string{"*"}, MaxUploadBytes: 1024}
	deps := Dependencies{
		Accounts:     env.accounts,
		Plans:        testPlans(),
		Notes:        env.notes,
		Gate:         env.gate,
		Entitlements: env.entitlements,
		Billing:      env.billing,
		Reconciler:   env.reconciler,
		Tokens:       tokens,
	}
	for _, c := range customize {
		c(&cfg, &deps)
	}
	env.server = NewServer(cfg, deps)
	return env
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	token, _, err := e.tokens.Issue(testUserID, "ada@example.com")
	require.NoError(t, err)
	return token
}

// do sends a request, authenticated when auth is true
func (e *testEnv) do(t *testing.T, method, path string, body interface{}, authenticated bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+e.token(t))
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestNewServer_RegistersRoutes(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		method string
		path   string
	}{
		{"PUT", "/auth/signup"},
		{"POST", "/auth/login"},
		{"GET", "/plans"},
		{"GET", "/user/profile"},
		{"GET", "/notes"},
		{"POST", "/notes"},
		{"GET", "/notes/recent"},
		{"GET", "/notes/7"},
		{"PUT", "/notes/7"},
		{"DELETE", "/notes/7"},
		{"POST", "/payment/create-checkout-session"},
		{"POST", "/payment/create-portal-session"},
		{"POST", "/payment/webhook"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			var match mux.RouteMatch
			assert.True(t, env.server.Router().Match(req, &match), "Route %s %s should be registered", tt.method, tt.path)
		})
	}
}

func TestNewServer_WithoutBilling(t *testing.T) {
	env := newTestEnv(t, func(_ *Config, d *Dependencies) {
		d.Billing = nil
		d.Reconciler = nil
	})

	for _, path := range []string{"/payment/webhook", "/payment/create-checkout-session"} {
		req := httptest.NewRequest("POST", path, nil)
		var match mux.RouteMatch
		assert.False(t, env.server.Router().Match(req, &match), path)
	}
}

func TestNewServer_ProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	paths := []struct{ method, path string }{
		{"GET", "/user/profile"},
		{"GET", "/notes"},
		{"GET", "/notes/recent"},
		{"DELETE", "/notes/1"},
		{"POST", "/payment/create-portal-session"},
	}
	for _, p := range paths {
		w := env.do(t, p.method, p.path, nil, false)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", p.method, p.path)
	}

	req := httptest.NewRequest("GET", "/notes", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid token", decode(t, w)["message"])
}

func TestNewServer_RequestIDAndCORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("OPTIONS", "/notes", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestNewServer_AuthRateLimit(t *testing.T) {
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Hour,
		BurstSize:         1,
	})
	env := newTestEnv(t, func(_ *Config, d *Dependencies) { d.AuthLimiter = limiter })
	env.accounts.loginFunc = func(context.Context, string, string) (*accounts.LoginResult, error) {
		return nil, auth.ErrInvalidCredentials
	}

	body := map[string]string{"email": "ada@example.com", "password": "wrong"}
	assert.Equal(t, http.StatusUnauthorized, env.do(t, "POST", "/auth/login", body, false).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, "POST", "/auth/login", body, false).Code)

	w := env.do(t, "POST", "/auth/login", body, false)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Plans are not behind the auth limiter
	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/plans", nil, false).Code)
}

func TestNewServer_RecoversPanics(t *testing.T) {
	env := newTestEnv(t)
	env.notes.listFunc = func(context.Context, int64) ([]*notes.Note, error) {
		panic("boom")
	}

	w := env.do(t, "GET", "/notes", nil, true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}
