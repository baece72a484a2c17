package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/voxnote/pkg/accounts"
	"github.com/platinummonkey/voxnote/pkg/auth"
	"github.com/platinummonkey/voxnote/pkg/billing"
	"github.com/platinummonkey/voxnote/pkg/httputil"
	"github.com/platinummonkey/voxnote/pkg/observability"
	"github.com/platinummonkey/voxnote/pkg/plans"
	"github.com/platinummonkey/voxnote/pkg/reconcile"
)

// maxWebhookBytes bounds a webhook payload
const maxWebhookBytes = 64 << 10

// PaymentHandlers handles checkout, the billing portal and provider webhooks
type PaymentHandlers struct {
	billing      billing.Provider
	accounts     Accounts
	plans        plans.Lookup
	entitlements Entitlements
	reconciler   WebhookReconciler
	clientURL    string
	audit        *auth.AuditLogger
}

// NewPaymentHandlers creates PaymentHandlers
func NewPaymentHandlers(provider billing.Provider, accounts Accounts, lookup plans.Lookup, entitlements Entitlements,
	reconciler WebhookReconciler, clientURL string, audit *auth.AuditLogger) *PaymentHandlers {
	return &PaymentHandlers{
		billing:      provider,
		accounts:     accounts,
		plans:        lookup,
		entitlements: entitlements,
		reconciler:   reconciler,
		clientURL:    strings.TrimRight(clientURL, "/"),
		audit:        audit,
	}
}

// RegisterRoutes registers the authenticated payment routes
func (h *PaymentHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/payment/create-checkout-session", h.createCheckoutSession).Methods("POST")
	router.HandleFunc("/payment/create-portal-session", h.createPortalSession).Methods("POST")
}

// RegisterWebhookRoute registers the provider webhook endpoint
func (h *PaymentHandlers) RegisterWebhookRoute(router *mux.Router) {
	router.HandleFunc("/payment/webhook", h.webhook).Methods("POST")
}

type checkoutRequest struct {
	PlanType plans.PlanType `json:"planType"`
}

// createCheckoutSession handles POST /payment/create-checkout-session
func (h *PaymentHandlers) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PlanType == "" {
		httputil.WriteBadRequest(w, "planType is required in request body")
		return
	}

	plan, err := h.plans.ByType(r.Context(), req.PlanType)
	if errors.Is(err, plans.ErrPlanNotFound) {
		httputil.WriteNotFound(w, "Plan '"+string(req.PlanType)+"' not found")
		return
	}
	if err != nil {
		writeServiceError(w, r, err, "Failed to create checkout session")
		return
	}
	if plan.IsFree() || plan.PriceHandle == nil || *plan.PriceHandle == "" {
		httputil.WriteBadRequest(w, "Plan '"+string(req.PlanType)+"' cannot be purchased")
		return
	}

	sub, err := h.entitlements.GetEntitlement(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to create checkout session")
		return
	}

	customer, err := h.accounts.EnsureBillingCustomer(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to create checkout session")
		return
	}

	checkout := billing.CheckoutRequest{
		CustomerHandle: customer,
		PriceHandle:    *plan.PriceHandle,
		SuccessURL:     h.clientURL + "/payment-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      h.clientURL + "/dashboard",
	}
	if sub.BillingSubscriptionHandle != nil {
		checkout.PreviousSubscriptionHandle = *sub.BillingSubscriptionHandle
	}

	session, err := h.billing.CreateCheckoutSession(r.Context(), checkout)
	if err != nil {
		_ = h.audit.LogFromRequest(r, auth.ActionCheckoutCreate, "plan", string(plan.Type), auth.StatusFailure, err)
		writeServiceError(w, r, err, "Failed to create checkout session")
		return
	}

	_ = h.audit.LogFromRequest(r, auth.ActionCheckoutCreate, "plan", string(plan.Type), auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, session)
}

// createPortalSession handles POST /payment/create-portal-session
func (h *PaymentHandlers) createPortalSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	customer, err := h.accounts.BillingCustomer(r.Context(), userID)
	if errors.Is(err, accounts.ErrNoBillingCustomer) {
		httputil.WriteBadRequest(w, "User does not have a Stripe customer ID")
		return
	}
	if err != nil {
		writeServiceError(w, r, err, "Failed to create billing portal session")
		return
	}

	url, err := h.billing.CreateBillingPortalSession(r.Context(), customer, h.clientURL+"/")
	if err != nil {
		writeServiceError(w, r, err, "Failed to create billing portal session")
		return
	}

	_ = h.audit.LogFromRequest(r, auth.ActionPortalCreate, "user", strconv.FormatInt(userID, 10), auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, map[string]string{"url": url})
}

// webhook handles POST /payment/webhook. Data faults are acknowledged so the
// provider stops redelivering; transient failures answer 500 so it retries.
func (h *PaymentHandlers) webhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	outcome, err := h.reconciler.ReconcileEvent(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch outcome {
	case reconcile.Accepted, reconcile.ReconciliationFailure:
		httputil.WriteSuccess(w, map[string]bool{"received": true})
	case reconcile.RejectedUnauthenticated:
		_ = h.audit.LogFromRequest(r, auth.ActionWebhookRejected, "webhook", "", auth.StatusDenied, err)
		httputil.WriteBadRequest(w, "Webhook signature verification failed")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Webhook processing failed")
		httputil.WriteInternalError(w, "Webhook processing failed")
	}
}
